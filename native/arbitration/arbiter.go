// Package arbitration turns a disputed deal into an agreed verdict. The leader
// renders both parties' evidence, prompts its model, and the validator set
// accepts the reply only when it satisfies the verdict contract.
package arbitration

import (
	"context"
	"errors"
	"fmt"

	"p2pescrow/consensus/equivalence"
)

// Consensus is the nondeterministic-agreement primitive the arbiter runs on.
type Consensus interface {
	Resolve(ctx context.Context, produce equivalence.Producer, task equivalence.Task) (*equivalence.Result, error)
}

// ErrNoConsensus is returned when a round fails to agree on a verdict. The
// wrapped cause carries the consensus failure kind.
var ErrNoConsensus = errors.New("arbitration: no agreed verdict")

// Decision is an accepted verdict together with the round that produced it.
type Decision struct {
	Verdict *Verdict
	Raw     string
	Round   *equivalence.Result
}

// Arbiter resolves cases through a consensus engine.
type Arbiter struct {
	renderer  *Renderer
	consensus Consensus
}

// NewArbiter constructs an arbiter. The renderer may be nil, in which case
// every evidence reference renders as a failed fetch.
func NewArbiter(renderer *Renderer, consensus Consensus) *Arbiter {
	if renderer == nil {
		renderer = NewRenderer(nil)
	}
	return &Arbiter{renderer: renderer, consensus: consensus}
}

// Task returns the consensus task for a case.
func Task(c Case) equivalence.Task {
	return equivalence.Task{
		Key:         c.Key(),
		Description: TaskDescription,
		Criteria:    Criteria,
		Check:       Check,
	}
}

// Resolve runs one consensus round for the case. The candidate accepted by the
// quorum is re-parsed locally so every node settles on the same verdict.
func (a *Arbiter) Resolve(ctx context.Context, c Case) (*Decision, error) {
	if a == nil || a.consensus == nil {
		return nil, fmt.Errorf("%w: arbiter not configured", ErrNoConsensus)
	}
	proc := NewProcedure(c, a.renderer)
	res, err := a.consensus.Resolve(ctx, proc.Producer(), Task(c))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConsensus, err)
	}
	verdict, err := ParseVerdict(res.Output)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoConsensus, err)
	}
	return &Decision{Verdict: verdict, Raw: res.Output, Round: res}, nil
}
