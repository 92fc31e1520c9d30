package escrow

import "errors"

// Error categories. Every failure returned by the engine unwraps to exactly
// one of these.
var (
	ErrNotFound         = errors.New("escrow: not found")
	ErrUnauthorized     = errors.New("escrow: unauthorized")
	ErrInvalidState     = errors.New("escrow: invalid state")
	ErrInvalidInput     = errors.New("escrow: invalid input")
	ErrConsensusFailure = errors.New("escrow: consensus failure")
)

var (
	errNilState   = errors.New("escrow engine: state not configured")
	errNilArbiter = errors.New("escrow engine: arbiter not configured")
)

// Reason codes surfaced verbatim to callers.
const (
	ReasonOfferNotFound   = "offer_not_found"
	ReasonDealNotFound    = "deal_not_found"
	ReasonOnlySeller      = "only_seller"
	ReasonOnlyBuyer       = "only_buyer"
	ReasonOnlyParty       = "only_party"
	ReasonNotOpen         = "not_open"
	ReasonOfferNotOpen    = "offer_not_open"
	ReasonWrongValue      = "wrong_value"
	ReasonUnexpectedValue = "unexpected_value"
	ReasonBadState        = "bad_state"
	ReasonNotDisputed     = "not_disputed"
	ReasonNoDispute       = "no_dispute"
	ReasonBadRefundPct    = "bad_refund_pct"
	ReasonNoConsensus     = "no_consensus"
	ReasonCaseChanged     = "case_changed"
)

var reasonKinds = map[string]error{
	ReasonOfferNotFound:   ErrNotFound,
	ReasonDealNotFound:    ErrNotFound,
	ReasonOnlySeller:      ErrUnauthorized,
	ReasonOnlyBuyer:       ErrUnauthorized,
	ReasonOnlyParty:       ErrUnauthorized,
	ReasonNotOpen:         ErrInvalidState,
	ReasonOfferNotOpen:    ErrInvalidState,
	ReasonBadState:        ErrInvalidState,
	ReasonNotDisputed:     ErrInvalidState,
	ReasonNoDispute:       ErrInvalidState,
	ReasonWrongValue:      ErrInvalidInput,
	ReasonUnexpectedValue: ErrInvalidInput,
	ReasonBadRefundPct:    ErrInvalidInput,
	ReasonNoConsensus:     ErrConsensusFailure,
	ReasonCaseChanged:     ErrConsensusFailure,
}

// Error is a rejected call. Reason is the stable code reported to clients.
type Error struct {
	Reason string
	Kind   error
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

// Unwrap exposes both the category and any underlying cause.
func (e *Error) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Retryable reports whether the same call may succeed without new input.
func (e *Error) Retryable() bool { return errors.Is(e.Kind, ErrConsensusFailure) }

func reject(reason string) error {
	return &Error{Reason: reason, Kind: reasonKinds[reason]}
}

func rejectWith(reason string, cause error) error {
	return &Error{Reason: reason, Kind: reasonKinds[reason], Err: cause}
}

// ReasonOf extracts the reason code from err, or "" when err is not a
// rejection.
func ReasonOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ""
}
