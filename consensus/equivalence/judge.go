package equivalence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"p2pescrow/integrations/llm"
)

// StructuralJudge accepts a candidate iff the task's Check passes.
type StructuralJudge struct{}

// Judge implements Judge.
func (StructuralJudge) Judge(_ context.Context, task Task, candidate string) (Vote, error) {
	if task.Check == nil {
		return Vote{}, fmt.Errorf("equivalence: task %q has no check", task.Key)
	}
	if err := task.Check(candidate); err != nil {
		return Vote{Accept: false, Reason: err.Error()}, nil
	}
	return Vote{Accept: true}, nil
}

// ModelJudge gates on the structural check and then asks the validator's own
// model whether the candidate meets the prose criteria. A structurally
// invalid candidate is rejected without calling the model.
type ModelJudge struct {
	Model llm.Client
}

type modelBallot struct {
	Accept *bool  `json:"accept"`
	Reason string `json:"reason"`
}

// Judge implements Judge.
func (j ModelJudge) Judge(ctx context.Context, task Task, candidate string) (Vote, error) {
	vote, err := StructuralJudge{}.Judge(ctx, task, candidate)
	if err != nil || !vote.Accept {
		return vote, err
	}
	if j.Model == nil {
		return Vote{}, fmt.Errorf("equivalence: model judge has no model")
	}
	reply, err := j.Model.Invoke(ctx, llm.Request{
		Prompt: buildJudgePrompt(task, candidate),
		Format: llm.FormatJSON,
	})
	if err != nil {
		return Vote{}, fmt.Errorf("equivalence: judge model: %w", err)
	}
	var ballot modelBallot
	if err := json.Unmarshal([]byte(strings.TrimSpace(reply)), &ballot); err != nil {
		return Vote{}, fmt.Errorf("equivalence: judge reply is not JSON: %w", err)
	}
	if ballot.Accept == nil {
		return Vote{}, fmt.Errorf("equivalence: judge reply missing accept")
	}
	return Vote{Accept: *ballot.Accept, Reason: ballot.Reason}, nil
}

func buildJudgePrompt(task Task, candidate string) string {
	var b strings.Builder
	b.WriteString("You are a validator checking another node's output. Do not redo the task and do not ")
	b.WriteString("judge whether you would have produced the same answer. Only decide whether the output ")
	b.WriteString("satisfies every criterion.\n\n")
	fmt.Fprintf(&b, "Task:\n%s\n\nCriteria:\n%s\n\nOutput:\n%s\n\n", task.Description, strings.TrimSpace(task.Criteria), candidate)
	b.WriteString(`Reply with JSON only: {"accept": true|false, "reason": "<short reason>"}`)
	return b.String()
}
