package escrow

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"p2pescrow/native/arbitration"
)

// OfferStatus tracks a listing from creation to its terminal state.
type OfferStatus string

const (
	OfferOpen      OfferStatus = "OPEN"
	OfferTaken     OfferStatus = "TAKEN"
	OfferCancelled OfferStatus = "CANCELLED"
	OfferCompleted OfferStatus = "COMPLETED"
	OfferDisputed  OfferStatus = "DISPUTED"
)

// Valid reports whether the status is a known value.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferOpen, OfferTaken, OfferCancelled, OfferCompleted, OfferDisputed:
		return true
	default:
		return false
	}
}

// DealState is the escrow state machine position of a funded offer.
type DealState string

const (
	DealFunded    DealState = "FUNDED"
	DealShipped   DealState = "SHIPPED"
	DealCompleted DealState = "COMPLETED"
	DealDisputed  DealState = "DISPUTED"
	DealResolved  DealState = "RESOLVED"
)

// Valid reports whether the state is a known value.
func (s DealState) Valid() bool {
	switch s {
	case DealFunded, DealShipped, DealCompleted, DealDisputed, DealResolved:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is possible.
func (s DealState) Terminal() bool { return s == DealCompleted || s == DealResolved }

// Offer is a seller's listing. Offers are never deleted.
type Offer struct {
	ID          uint64
	Seller      common.Address
	Title       string
	Description string
	Price       *uint256.Int
	Status      OfferStatus
}

// Deal is the escrow created when a buyer accepts an offer. It shares the
// offer's identifier.
type Deal struct {
	OfferID     uint64
	Buyer       common.Address
	Seller      common.Address
	Price       *uint256.Int
	State       DealState
	TrackingURL string
	// Dispute is set the first time the deal enters DISPUTED.
	Dispute *Dispute
}

// Dispute holds both parties' statements and evidence references. Each side
// is written only by its own party.
type Dispute struct {
	OpenedBy       common.Address
	BuyerReason    string
	SellerReason   string
	BuyerEvidence  []string
	SellerEvidence []string
	// Resolution is written once, when the deal is resolved.
	Resolution *arbitration.Verdict
}

// Clone returns a deep copy of the offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Price = cloneAmount(o.Price)
	return &clone
}

// Clone returns a deep copy of the deal including its dispute.
func (d *Deal) Clone() *Deal {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Price = cloneAmount(d.Price)
	clone.Dispute = d.Dispute.Clone()
	return &clone
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.BuyerEvidence = append([]string(nil), d.BuyerEvidence...)
	clone.SellerEvidence = append([]string(nil), d.SellerEvidence...)
	clone.Resolution = d.Resolution.Clone()
	return &clone
}

// IsParty reports whether addr is the buyer or the seller.
func (d *Deal) IsParty(addr common.Address) bool {
	return d != nil && (addr == d.Buyer || addr == d.Seller)
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

// Wire forms. Amounts are decimal strings so clients never lose precision.

type offerJSON struct {
	ID          uint64      `json:"id"`
	Seller      string      `json:"seller"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Price       string      `json:"price"`
	Status      OfferStatus `json:"status"`
}

type dealJSON struct {
	OfferID     uint64       `json:"offerId"`
	Buyer       string       `json:"buyer"`
	Seller      string       `json:"seller"`
	Price       string       `json:"price"`
	State       DealState    `json:"state"`
	TrackingURL string       `json:"trackingUrl"`
	Dispute     *disputeJSON `json:"dispute"`
}

type disputeJSON struct {
	OpenedBy       string               `json:"openedBy"`
	BuyerReason    string               `json:"buyerReason"`
	SellerReason   string               `json:"sellerReason"`
	BuyerEvidence  []string             `json:"buyerEvidence"`
	SellerEvidence []string             `json:"sellerEvidence"`
	Resolution     *arbitration.Verdict `json:"resolution"`
}

// MarshalJSON implements json.Marshaler.
func (o Offer) MarshalJSON() ([]byte, error) {
	return json.Marshal(offerJSON{
		ID:          o.ID,
		Seller:      o.Seller.Hex(),
		Title:       o.Title,
		Description: o.Description,
		Price:       cloneAmount(o.Price).Dec(),
		Status:      o.Status,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (o *Offer) UnmarshalJSON(data []byte) error {
	var raw offerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := ParseAmount(raw.Price)
	if err != nil {
		return err
	}
	seller, err := ParseAddress(raw.Seller)
	if err != nil {
		return err
	}
	if !raw.Status.Valid() {
		return fmt.Errorf("escrow: unknown offer status %q", raw.Status)
	}
	*o = Offer{
		ID:          raw.ID,
		Seller:      seller,
		Title:       raw.Title,
		Description: raw.Description,
		Price:       price,
		Status:      raw.Status,
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Deal) MarshalJSON() ([]byte, error) {
	out := dealJSON{
		OfferID:     d.OfferID,
		Buyer:       d.Buyer.Hex(),
		Seller:      d.Seller.Hex(),
		Price:       cloneAmount(d.Price).Dec(),
		State:       d.State,
		TrackingURL: d.TrackingURL,
	}
	if d.Dispute != nil {
		out.Dispute = &disputeJSON{
			OpenedBy:       d.Dispute.OpenedBy.Hex(),
			BuyerReason:    d.Dispute.BuyerReason,
			SellerReason:   d.Dispute.SellerReason,
			BuyerEvidence:  nonNil(d.Dispute.BuyerEvidence),
			SellerEvidence: nonNil(d.Dispute.SellerEvidence),
			Resolution:     d.Dispute.Resolution,
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Deal) UnmarshalJSON(data []byte) error {
	var raw dealJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	price, err := ParseAmount(raw.Price)
	if err != nil {
		return err
	}
	buyer, err := ParseAddress(raw.Buyer)
	if err != nil {
		return err
	}
	seller, err := ParseAddress(raw.Seller)
	if err != nil {
		return err
	}
	if !raw.State.Valid() {
		return fmt.Errorf("escrow: unknown deal state %q", raw.State)
	}
	out := Deal{
		OfferID:     raw.OfferID,
		Buyer:       buyer,
		Seller:      seller,
		Price:       price,
		State:       raw.State,
		TrackingURL: raw.TrackingURL,
	}
	if raw.Dispute != nil {
		opener, err := ParseAddress(raw.Dispute.OpenedBy)
		if err != nil {
			return err
		}
		out.Dispute = &Dispute{
			OpenedBy:       opener,
			BuyerReason:    raw.Dispute.BuyerReason,
			SellerReason:   raw.Dispute.SellerReason,
			BuyerEvidence:  raw.Dispute.BuyerEvidence,
			SellerEvidence: raw.Dispute.SellerEvidence,
			Resolution:     raw.Dispute.Resolution,
		}
	}
	*d = out
	return nil
}

// ParseAmount parses a non-negative decimal amount. The empty string is zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("escrow: invalid amount %q: %w", s, err)
	}
	return v, nil
}

// ParseAddress parses a 0x-prefixed hex account address.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("escrow: invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
