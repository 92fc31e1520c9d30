package arbitration

import "strconv"

// Case is the read-only snapshot of a disputed deal handed to the procedure.
// It is copied out of the ledger before any nondeterministic work starts.
type Case struct {
	OfferID         uint64
	Price           string
	State           string
	TrackingURL     string
	BuyerStatement  string
	SellerStatement string
	BuyerEvidence   []string
	SellerEvidence  []string
}

// Key identifies the case for leader rotation.
func (c Case) Key() string {
	return "deal/" + strconv.FormatUint(c.OfferID, 10)
}
