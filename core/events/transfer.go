package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2pescrow/core/types"
)

const (
	// TypeTransfer is emitted for every value movement out of the escrow vault.
	TypeTransfer = "escrow.transfer"
)

// Transfer records a payout from the escrow vault for a deal.
type Transfer struct {
	OfferID uint64
	To      common.Address
	Amount  *uint256.Int
	Reason  string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"offerId": strconv.FormatUint(e.OfferID, 10),
		"to":      e.To.Hex(),
		"amount":  formatAmount(e.Amount),
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
