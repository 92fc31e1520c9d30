package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"p2pescrow/gateway/middleware"
	"p2pescrow/native/arbitration"
	"p2pescrow/native/escrow"
	"p2pescrow/state/ledger"
	"p2pescrow/storage"
)

var routeSecret = []byte("routes-test-secret")

type stubArbiter struct {
	verdict *arbitration.Verdict
	err     error
}

func (s *stubArbiter) Resolve(context.Context, arbitration.Case) (*arbitration.Decision, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &arbitration.Decision{Verdict: s.verdict.Clone(), Raw: s.verdict.JSON()}, nil
}

type apiHarness struct {
	t       *testing.T
	server  *httptest.Server
	arbiter *stubArbiter
	ledger  *ledger.Ledger
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	led := ledger.New(storage.NewMemDB())
	arbiter := &stubArbiter{verdict: &arbitration.Verdict{Winner: arbitration.WinnerBuyer, RefundPct: 30, Rationale: "item damaged"}}
	engine := escrow.NewEngine()
	engine.SetState(led)
	engine.SetArbiter(arbiter)

	handler := New(Config{
		Engine:         engine,
		Balances:       led,
		Authenticator:  middleware.NewAuthenticator(middleware.AuthConfig{HMACSecret: routeSecret, Issuer: "p2pescrow"}, nil),
		AnonymousReads: true,
		ResolveTimeout: time.Second,
		MetricsHandler: http.NotFoundHandler(),
	})
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &apiHarness{t: t, server: server, arbiter: arbiter, ledger: led}
}

func (h *apiHarness) do(method, path string, caller *common.Address, body any) (int, map[string]any) {
	h.t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	require.NoError(h.t, err)
	if caller != nil {
		token, err := middleware.IssueToken(routeSecret, "p2pescrow", "", *caller, time.Minute)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := h.server.Client().Do(req)
	require.NoError(h.t, err)
	defer res.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(res.Body).Decode(&out)
	return res.StatusCode, out
}

var (
	seller   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	buyer    = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	stranger = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func TestDisputeFlowOverHTTP(t *testing.T) {
	h := newAPIHarness(t)

	status, out := h.do(http.MethodPost, "/v1/offers", &seller, map[string]string{"title": "Camera", "description": "used", "price": "1000"})
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, out["id"])

	status, out = h.do(http.MethodGet, "/v1/offers/1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1000", out["price"])
	require.Equal(t, "OPEN", out["status"])

	status, out = h.do(http.MethodPost, "/v1/offers/1/accept", &buyer, map[string]string{"value": "999"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "wrong_value", out["error"])

	status, _ = h.do(http.MethodPost, "/v1/offers/1/accept", &buyer, map[string]string{"value": "1000"})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPost, "/v1/deals/1/ship", &seller, map[string]string{"trackingUrl": "https://track.example/1"})
	require.Equal(t, http.StatusOK, status)

	status, out = h.do(http.MethodPost, "/v1/deals/1/dispute", &stranger, map[string]string{"statement": "hi"})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "only_party", out["error"])

	status, _ = h.do(http.MethodPost, "/v1/deals/1/dispute", &buyer, map[string]string{
		"statement": "arrived broken",
		"evidence":  "https://a.example/photo, https://b.example/chat",
	})
	require.Equal(t, http.StatusOK, status)
	status, _ = h.do(http.MethodPost, "/v1/deals/1/respond", &seller, map[string]string{"statement": "packed well"})
	require.Equal(t, http.StatusOK, status)

	status, out = h.do(http.MethodPost, "/v1/deals/1/resolve", &stranger, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 30, out["refund_pct"])

	status, out = h.do(http.MethodGet, "/v1/deals/1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "RESOLVED", out["state"])

	_, out = h.do(http.MethodGet, "/v1/accounts/"+buyer.Hex(), nil, nil)
	require.Equal(t, "300", out["balance"])
	_, out = h.do(http.MethodGet, "/v1/accounts/"+seller.Hex(), nil, nil)
	require.Equal(t, "700", out["balance"])
	_, out = h.do(http.MethodGet, "/v1/vault", nil, nil)
	require.Equal(t, "0", out["balance"])

	status, out = h.do(http.MethodPost, "/v1/deals/1/resolve", &buyer, nil)
	require.Equal(t, http.StatusConflict, status)
	require.Equal(t, "not_disputed", out["error"])
}

func TestWritesRequireToken(t *testing.T) {
	h := newAPIHarness(t)
	status, _ := h.do(http.MethodPost, "/v1/offers", nil, map[string]string{"title": "x", "price": "1"})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestNotFoundAndBadInput(t *testing.T) {
	h := newAPIHarness(t)

	status, out := h.do(http.MethodGet, "/v1/offers/42", nil, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "offer_not_found", out["error"])

	status, out = h.do(http.MethodGet, "/v1/deals/42", nil, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "deal_not_found", out["error"])

	status, _ = h.do(http.MethodGet, "/v1/offers/abc", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)

	status, _ = h.do(http.MethodPost, "/v1/offers", &seller, map[string]string{"price": "-5"})
	require.Equal(t, http.StatusBadRequest, status)

	status, out = h.do(http.MethodPost, "/v1/offers/7/cancel", &seller, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, "offer_not_found", out["error"])

	status, out = h.do(http.MethodGet, "/v1/next-offer-id", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.EqualValues(t, 1, out["nextOfferId"])
}

func TestConsensusFailureIsRetryable(t *testing.T) {
	h := newAPIHarness(t)
	h.arbiter.err = errors.New("validators split")

	_, _ = h.do(http.MethodPost, "/v1/offers", &seller, map[string]string{"title": "Lamp", "price": "10"})
	_, _ = h.do(http.MethodPost, "/v1/offers/1/accept", &buyer, map[string]string{"value": "10"})
	_, _ = h.do(http.MethodPost, "/v1/deals/1/dispute", &buyer, map[string]string{"statement": "never arrived"})

	status, out := h.do(http.MethodPost, "/v1/deals/1/resolve", &buyer, nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, "no_consensus", out["error"])
	require.Equal(t, true, out["retryable"])

	h.arbiter.err = nil
	status, _ = h.do(http.MethodPost, "/v1/deals/1/resolve", &buyer, nil)
	require.Equal(t, http.StatusOK, status)
	vault, err := h.ledger.Vault()
	require.NoError(t, err)
	require.True(t, vault.IsZero())
}

func TestHealthz(t *testing.T) {
	h := newAPIHarness(t)
	res, err := h.server.Client().Get(h.server.URL + "/healthz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}
