// Package equivalence implements the equivalence-principle consensus step:
// a leader runs a nondeterministic producer once and the validator set
// accepts the candidate when a quorum judges it to satisfy a fixed contract.
// Validators never re-run the producer or compare outputs with each other.
package equivalence

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync/atomic"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Engine drives rounds over a fixed validator set.
type Engine struct {
	validators []Validator
	quorum     int
	round      atomic.Uint64
	logger     *slog.Logger
	observer   Observer
	tracer     trace.Tracer
	rounds     metric.Int64Counter
}

// Option customises an Engine.
type Option func(*Engine)

// WithQuorum overrides the two-thirds default. Zero keeps the default.
func WithQuorum(n int) Option { return func(e *Engine) { e.quorum = n } }

// WithLogger sets the logger used for round summaries.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithObserver registers a metrics hook.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// NewEngine validates the set and returns an engine ready to resolve tasks.
func NewEngine(validators []Validator, opts ...Option) (*Engine, error) {
	if len(validators) == 0 {
		return nil, ErrNoValidators
	}
	validators = append([]Validator(nil), validators...)
	seen := make(map[string]struct{}, len(validators))
	for i, v := range validators {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return nil, fmt.Errorf("equivalence: validator %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("equivalence: duplicate validator id %q", id)
		}
		seen[id] = struct{}{}
		if v.Model == nil {
			return nil, fmt.Errorf("equivalence: validator %q has no model", id)
		}
		if v.Judge == nil {
			validators[i].Judge = StructuralJudge{}
		}
	}
	e := &Engine{
		validators: validators,
		logger:     slog.Default(),
		tracer:     otel.Tracer("p2pescrow/consensus/equivalence"),
	}
	for _, opt := range opts {
		opt(e)
	}
	rounds, err := otel.Meter("p2pescrow/consensus/equivalence").Int64Counter("equivalence.rounds",
		metric.WithDescription("Equivalence rounds by outcome."))
	if err != nil {
		return nil, fmt.Errorf("equivalence: register round counter: %w", err)
	}
	e.rounds = rounds
	if e.quorum == 0 {
		e.quorum = twoThirdsMajority(len(e.validators))
	}
	if e.quorum < 1 || e.quorum > len(e.validators) {
		return nil, fmt.Errorf("%w: %d of %d", ErrBadQuorum, e.quorum, len(e.validators))
	}
	return e, nil
}

// Quorum reports the number of accepting votes required.
func (e *Engine) Quorum() int { return e.quorum }

// Size reports the number of validators.
func (e *Engine) Size() int { return len(e.validators) }

// Resolve runs one round. On success every caller observes the same
// Result.Output: the leader's single candidate. Any failure aborts the round;
// callers may retry, which advances the round and may select a new leader.
func (e *Engine) Resolve(ctx context.Context, produce Producer, task Task) (*Result, error) {
	round := e.round.Add(1)
	leader := e.selectLeader(task.Key, round)
	res := &Result{
		AttemptID: uuid.NewString(),
		Round:     round,
		Leader:    leader.ID,
		Quorum:    e.quorum,
	}

	ctx, span := e.tracer.Start(ctx, "equivalence.resolve", trace.WithAttributes(
		attribute.String("task.key", task.Key),
		attribute.Int64("round", int64(round)),
		attribute.String("leader", leader.ID),
	))
	defer span.End()

	candidate, err := produce(ctx, leader.Model)
	if err != nil {
		e.finish(ctx, span, res, OutcomeLeaderFailed)
		return res, fmt.Errorf("%w: %s: %v", ErrLeaderFailed, leader.ID, err)
	}
	res.Output = candidate

	res.Votes = e.collectVotes(ctx, task, candidate)
	rejects := 0
	for _, v := range res.Votes {
		switch {
		case v.Accept:
			res.Accepts++
		case !v.Abstained:
			rejects++
		}
	}

	if res.Accepts >= e.quorum {
		e.finish(ctx, span, res, OutcomeAccepted)
		return res, nil
	}
	if res.Accepts == 0 && rejects > 0 {
		e.finish(ctx, span, res, OutcomeRejected)
		return res, fmt.Errorf("%w: %s", ErrRejected, firstReason(res.Votes))
	}
	e.finish(ctx, span, res, OutcomeNoQuorum)
	return res, fmt.Errorf("%w: %d of %d accepted, need %d", ErrNoQuorum, res.Accepts, len(e.validators), e.quorum)
}

func (e *Engine) collectVotes(ctx context.Context, task Task, candidate string) []Vote {
	votes := make([]Vote, len(e.validators))
	var g errgroup.Group
	for idx, member := range e.validators {
		g.Go(func() error {
			vote, err := member.Judge.Judge(ctx, task, candidate)
			vote.Validator = member.ID
			if err != nil {
				vote = Vote{Validator: member.ID, Abstained: true, Reason: err.Error()}
			}
			votes[idx] = vote
			return nil
		})
	}
	_ = g.Wait()
	return votes
}

// selectLeader picks a validator by hashing the task key with the round,
// so every node derives the same leader for a given attempt.
func (e *Engine) selectLeader(key string, round uint64) Validator {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], round)
	seed := ethcrypto.Keccak256Hash([]byte(key), buf[:])
	pick := new(big.Int).Mod(new(big.Int).SetBytes(seed[:]), big.NewInt(int64(len(e.validators))))
	return e.validators[pick.Int64()]
}

func (e *Engine) finish(ctx context.Context, span trace.Span, res *Result, outcome string) {
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("accepts", res.Accepts),
		attribute.Int("quorum", res.Quorum),
	)
	if outcome != OutcomeAccepted {
		span.SetStatus(codes.Error, outcome)
	}
	e.rounds.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if e.observer != nil {
		e.observer.ObserveConsensus(outcome, res.Accepts, len(e.validators))
	}
	e.logger.Info("equivalence round finished",
		slog.String("component", "consensus"),
		slog.String("attempt", res.AttemptID),
		slog.Uint64("round", res.Round),
		slog.String("leader", res.Leader),
		slog.String("outcome", outcome),
		slog.Int("accepts", res.Accepts),
		slog.Int("quorum", res.Quorum),
	)
}

func twoThirdsMajority(n int) int { return (2*n)/3 + 1 }

func firstReason(votes []Vote) string {
	for _, v := range votes {
		if !v.Accept && !v.Abstained && v.Reason != "" {
			return v.Reason
		}
	}
	return "no reason given"
}
