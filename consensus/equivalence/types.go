package equivalence

import (
	"context"
	"errors"

	"p2pescrow/integrations/llm"
)

var (
	ErrNoValidators = errors.New("equivalence: no validators configured")
	ErrBadQuorum    = errors.New("equivalence: quorum out of range")
	ErrLeaderFailed = errors.New("equivalence: leader failed to produce a candidate")
	ErrRejected     = errors.New("equivalence: candidate rejected by validators")
	ErrNoQuorum     = errors.New("equivalence: quorum not reached")
)

// Producer is the nondeterministic unit of work. It runs on the leader only,
// using the leader's decision procedure.
type Producer func(ctx context.Context, model llm.Client) (string, error)

// Task describes what the producer is asked to do and the contract its output
// must satisfy. Check is the objective, non-comparative validation; Criteria is
// its prose form handed to model-backed judges.
type Task struct {
	// Key seeds leader selection so different subjects rotate independently.
	Key         string
	Description string
	Criteria    string
	Check       func(output string) error
}

// Judge evaluates one candidate against the task criteria. It never sees
// other validators' outputs.
type Judge interface {
	Judge(ctx context.Context, task Task, candidate string) (Vote, error)
}

// Validator is one participating node.
type Validator struct {
	ID    string
	Model llm.Client
	Judge Judge
}

// Vote is a validator's verdict on the candidate.
type Vote struct {
	Validator string `json:"validator"`
	Accept    bool   `json:"accept"`
	Reason    string `json:"reason,omitempty"`
	// Abstained marks a validator whose judge failed to produce a vote.
	Abstained bool `json:"abstained,omitempty"`
}

// Result is the outcome of one Resolve call. Output is only meaningful when
// Resolve returned a nil error.
type Result struct {
	AttemptID string `json:"attemptId"`
	Round     uint64 `json:"round"`
	Leader    string `json:"leader"`
	Output    string `json:"output"`
	Votes     []Vote `json:"votes"`
	Accepts   int    `json:"accepts"`
	Quorum    int    `json:"quorum"`
}

// Observer receives one callback per Resolve call.
type Observer interface {
	ObserveConsensus(outcome string, accepts, validators int)
}

// Outcome labels passed to Observer.
const (
	OutcomeAccepted     = "accepted"
	OutcomeRejected     = "rejected"
	OutcomeNoQuorum     = "no_quorum"
	OutcomeLeaderFailed = "leader_failed"
)
