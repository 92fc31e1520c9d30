package escrow

import (
	"github.com/holiman/uint256"

	"p2pescrow/native/arbitration"
)

var hundred = uint256.NewInt(100)

// Split divides price by a refund percentage: refund = floor(price*pct/100),
// seller = price - refund. The truncation remainder always goes to the seller
// and refund + seller == price for every pct in range.
func Split(price *uint256.Int, pct int) (refund, seller *uint256.Int, err error) {
	if pct < 0 || pct > arbitration.MaxRefundPct {
		return nil, nil, reject(ReasonBadRefundPct)
	}
	total := cloneAmount(price)
	// The product is computed at 512 bits, so no price can overflow it.
	refund, overflow := new(uint256.Int).MulDivOverflow(total, uint256.NewInt(uint64(pct)), hundred)
	if overflow {
		return nil, nil, reject(ReasonBadRefundPct)
	}
	seller = new(uint256.Int).Sub(total, refund)
	return refund, seller, nil
}
