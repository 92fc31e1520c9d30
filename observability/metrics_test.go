package observability

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"p2pescrow/core/events"
)

func TestEscrowMetrics(t *testing.T) {
	m := newEscrowMetrics()
	m.ObserveCall("accept_offer", "")
	m.ObserveCall("accept_offer", "wrong_value")
	m.ObserveCall("accept_offer", "wrong_value")
	m.ObserveSettlement(uint256.NewInt(300), uint256.NewInt(700))

	require.Equal(t, 1.0, testutil.ToFloat64(m.calls.WithLabelValues("accept_offer", "ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.calls.WithLabelValues("accept_offer", "wrong_value")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.settlements))
	require.Equal(t, 300.0, testutil.ToFloat64(m.refunded))
	require.Equal(t, 700.0, testutil.ToFloat64(m.released))

	var nilMetrics *EscrowMetrics
	nilMetrics.ObserveCall("x", "")
}

func TestConsensusMetrics(t *testing.T) {
	m := newConsensusMetrics()
	m.ObserveConsensus("accepted", 3, 4)
	m.ObserveConsensus("no_quorum", 0, 0)

	require.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues("accepted")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.rounds.WithLabelValues("no_quorum")))
	require.Equal(t, 1, testutil.CollectAndCount(m.support))
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := newEventMetrics()
	m.Emit(events.Transfer{OfferID: 1, Amount: uint256.NewInt(5)})
	m.Emit(events.Transfer{OfferID: 2, Amount: uint256.NewInt(5)})
	m.Emit(nil)

	require.Equal(t, 2.0, testutil.ToFloat64(m.emitted.WithLabelValues(events.TypeTransfer)))
}

func TestGatewaySingletonRegistersOnce(t *testing.T) {
	a := Gateway()
	b := Gateway()
	require.Same(t, a, b)
	a.Observe("/v1/offers", "POST", 201, 5*time.Millisecond)
	a.Observe("/v1/offers", "POST", 409, time.Millisecond)
	a.RecordThrottle("")

	require.Equal(t, 1.0, testutil.ToFloat64(a.errors.WithLabelValues("/v1/offers", "POST", "409")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.throttles.WithLabelValues("unknown")))
}
