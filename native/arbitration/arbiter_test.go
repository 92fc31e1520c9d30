package arbitration

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"p2pescrow/consensus/equivalence"
	"p2pescrow/integrations/llm"
)

func sampleCase() Case {
	return Case{
		OfferID:         7,
		Price:           "1000",
		State:           "DISPUTED",
		TrackingURL:     "https://track.example/7",
		BuyerStatement:  "arrived broken",
		SellerStatement: "packed with care",
		BuyerEvidence:   []string{"https://photos.example/1"},
		SellerEvidence:  []string{"https://receipt.example/1"},
	}
}

func scriptedEngine(t *testing.T, n int, reply string) (*equivalence.Engine, []*llm.Scripted) {
	t.Helper()
	models := make([]*llm.Scripted, n)
	validators := make([]equivalence.Validator, n)
	for i := range validators {
		models[i] = llm.NewScripted(reply)
		validators[i] = equivalence.Validator{ID: fmt.Sprintf("v%d", i), Model: models[i]}
	}
	e, err := equivalence.NewEngine(validators)
	require.NoError(t, err)
	return e, models
}

func TestBuildPromptCarriesCaseFacts(t *testing.T) {
	c := sampleCase()
	prompt := BuildPrompt(c, "BUYER-EV", "SELLER-EV")
	for _, want := range []string{
		"- price: 1000",
		"- state: DISPUTED",
		"- trackingUrl: https://track.example/7",
		"Buyer statement:\narrived broken",
		"Seller statement:\npacked with care",
		"Buyer evidence (rendered):\nBUYER-EV",
		"Seller evidence (rendered):\nSELLER-EV",
		`"refund_pct"`,
		"Return ONLY valid JSON",
	} {
		require.Contains(t, prompt, want)
	}
}

func TestProcedureRequestsStructuredOutput(t *testing.T) {
	f := &fakeFetcher{pages: map[string]string{"https://photos.example/1": "cracked screen"}}
	model := llm.NewScripted(`{"winner":"buyer","refund_pct":30,"rationale":"r"}`)

	out, err := NewProcedure(sampleCase(), NewRenderer(f)).Run(context.Background(), model)
	require.NoError(t, err)
	require.Contains(t, out, `"refund_pct":30`)

	reqs := model.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, llm.FormatJSON, reqs[0].Format)
	require.Contains(t, reqs[0].Prompt, "cracked screen")
	require.Contains(t, reqs[0].Prompt, "URL: https://receipt.example/1\nCONTENT: "+FetchFailedMarker)
}

func TestArbiterResolvesAgreedVerdict(t *testing.T) {
	engine, models := scriptedEngine(t, 4, `{"winner":"buyer","refund_pct":30,"rationale":"damaged in transit"}`)
	arb := NewArbiter(NewRenderer(&fakeFetcher{}), engine)

	d, err := arb.Resolve(context.Background(), sampleCase())
	require.NoError(t, err)
	require.Equal(t, 30, d.Verdict.RefundPct)
	require.Equal(t, WinnerBuyer, d.Verdict.Winner)
	require.Equal(t, 4, d.Round.Accepts)

	calls := 0
	for _, m := range models {
		calls += m.Calls()
	}
	require.Equal(t, 1, calls, "only the leader invokes the model")
}

func TestArbiterSurfacesConsensusFailure(t *testing.T) {
	for _, reply := range []string{
		`{"winner":"buyer","refund_pct":101,"rationale":"x"}`,
		`{"winner":"buyer","refund_pct":"50","rationale":"x"}`,
		`{"winner":"buyer","refund_pct":50}`,
		"I think the buyer should get half.",
	} {
		engine, _ := scriptedEngine(t, 3, reply)
		_, err := NewArbiter(nil, engine).Resolve(context.Background(), sampleCase())
		require.ErrorIs(t, err, ErrNoConsensus, reply)
		require.ErrorIs(t, err, equivalence.ErrRejected, reply)
	}
}

func TestArbiterUnconfigured(t *testing.T) {
	_, err := NewArbiter(nil, nil).Resolve(context.Background(), sampleCase())
	require.ErrorIs(t, err, ErrNoConsensus)
}

func TestTaskKeyIsPerDeal(t *testing.T) {
	a, b := sampleCase(), sampleCase()
	b.OfferID = 8
	require.NotEqual(t, Task(a).Key, Task(b).Key)
	require.True(t, strings.HasPrefix(Task(a).Key, "deal/"))
	require.NoError(t, Task(a).Check(`{"winner":"seller","refund_pct":0,"rationale":""}`))
}
