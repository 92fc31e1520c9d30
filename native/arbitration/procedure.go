package arbitration

import (
	"context"

	"p2pescrow/consensus/equivalence"
	"p2pescrow/integrations/llm"
)

// Procedure is the leader's decision procedure for one case: fetch both
// parties' evidence, build the prompt and ask the model for a JSON verdict.
type Procedure struct {
	c        Case
	renderer *Renderer
}

// NewProcedure binds a case snapshot to an evidence renderer.
func NewProcedure(c Case, renderer *Renderer) *Procedure {
	return &Procedure{c: c, renderer: renderer}
}

// Prompt renders evidence and returns the full prompt.
func (p *Procedure) Prompt(ctx context.Context) string {
	buyer := p.renderer.Render(ctx, p.c.BuyerEvidence)
	seller := p.renderer.Render(ctx, p.c.SellerEvidence)
	return BuildPrompt(p.c, buyer, seller)
}

// Run executes the procedure against model and returns its raw reply.
func (p *Procedure) Run(ctx context.Context, model llm.Client) (string, error) {
	return model.Invoke(ctx, llm.Request{
		Prompt: p.Prompt(ctx),
		Format: llm.FormatJSON,
	})
}

// Producer adapts Run to the consensus engine.
func (p *Procedure) Producer() equivalence.Producer {
	return p.Run
}
