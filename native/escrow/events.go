package escrow

import (
	"strconv"

	"github.com/holiman/uint256"

	"p2pescrow/core/types"
	"p2pescrow/native/arbitration"
)

const (
	EventTypeOfferCreated     = "escrow.offer.created"
	EventTypeOfferCancelled   = "escrow.offer.cancelled"
	EventTypeDealFunded       = "escrow.deal.funded"
	EventTypeDealShipped      = "escrow.deal.shipped"
	EventTypeDealCompleted    = "escrow.deal.completed"
	EventTypeDisputeOpened    = "escrow.dispute.opened"
	EventTypeDisputeResponded = "escrow.dispute.responded"
	EventTypeDisputeResolved  = "escrow.dispute.resolved"
)

// OfferCreatedEvent is emitted when a seller lists an offer.
type OfferCreatedEvent struct{ Offer *Offer }

func (OfferCreatedEvent) EventType() string { return EventTypeOfferCreated }

func (e OfferCreatedEvent) Event() *types.Event {
	attrs := offerAttrs(e.Offer)
	attrs["title"] = e.Offer.Title
	return &types.Event{Type: EventTypeOfferCreated, Attributes: attrs}
}

// OfferCancelledEvent is emitted when a seller withdraws an open offer.
type OfferCancelledEvent struct{ Offer *Offer }

func (OfferCancelledEvent) EventType() string { return EventTypeOfferCancelled }

func (e OfferCancelledEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeOfferCancelled, Attributes: offerAttrs(e.Offer)}
}

// DealFundedEvent is emitted when a buyer accepts an offer and locks its price.
type DealFundedEvent struct{ Deal *Deal }

func (DealFundedEvent) EventType() string { return EventTypeDealFunded }

func (e DealFundedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeDealFunded, Attributes: dealAttrs(e.Deal)}
}

// DealShippedEvent is emitted when the seller records shipment.
type DealShippedEvent struct{ Deal *Deal }

func (DealShippedEvent) EventType() string { return EventTypeDealShipped }

func (e DealShippedEvent) Event() *types.Event {
	attrs := dealAttrs(e.Deal)
	attrs["trackingUrl"] = e.Deal.TrackingURL
	return &types.Event{Type: EventTypeDealShipped, Attributes: attrs}
}

// DealCompletedEvent is emitted when the buyer confirms receipt.
type DealCompletedEvent struct{ Deal *Deal }

func (DealCompletedEvent) EventType() string { return EventTypeDealCompleted }

func (e DealCompletedEvent) Event() *types.Event {
	return &types.Event{Type: EventTypeDealCompleted, Attributes: dealAttrs(e.Deal)}
}

// DisputeOpenedEvent is emitted when a party escalates a deal.
type DisputeOpenedEvent struct{ Deal *Deal }

func (DisputeOpenedEvent) EventType() string { return EventTypeDisputeOpened }

func (e DisputeOpenedEvent) Event() *types.Event {
	attrs := dealAttrs(e.Deal)
	if e.Deal.Dispute != nil {
		attrs["openedBy"] = e.Deal.Dispute.OpenedBy.Hex()
	}
	return &types.Event{Type: EventTypeDisputeOpened, Attributes: attrs}
}

// DisputeRespondedEvent is emitted each time a party updates its side.
type DisputeRespondedEvent struct {
	Deal *Deal
	By   string
}

func (DisputeRespondedEvent) EventType() string { return EventTypeDisputeResponded }

func (e DisputeRespondedEvent) Event() *types.Event {
	attrs := dealAttrs(e.Deal)
	attrs["side"] = e.By
	return &types.Event{Type: EventTypeDisputeResponded, Attributes: attrs}
}

// DisputeResolvedEvent is emitted once the agreed verdict has been settled.
type DisputeResolvedEvent struct {
	Deal    *Deal
	Verdict *arbitration.Verdict
	Refund  *uint256.Int
	Payout  *uint256.Int
	Attempt string
}

func (DisputeResolvedEvent) EventType() string { return EventTypeDisputeResolved }

func (e DisputeResolvedEvent) Event() *types.Event {
	attrs := dealAttrs(e.Deal)
	if e.Verdict != nil {
		attrs["winner"] = string(e.Verdict.Winner)
		attrs["refundPct"] = strconv.Itoa(e.Verdict.RefundPct)
	}
	attrs["refund"] = cloneAmount(e.Refund).Dec()
	attrs["sellerAmount"] = cloneAmount(e.Payout).Dec()
	if e.Attempt != "" {
		attrs["attempt"] = e.Attempt
	}
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: attrs}
}

func offerAttrs(o *Offer) map[string]string {
	return map[string]string{
		"offerId": strconv.FormatUint(o.ID, 10),
		"seller":  o.Seller.Hex(),
		"price":   cloneAmount(o.Price).Dec(),
		"status":  string(o.Status),
	}
}

func dealAttrs(d *Deal) map[string]string {
	return map[string]string{
		"offerId": strconv.FormatUint(d.OfferID, 10),
		"buyer":   d.Buyer.Hex(),
		"seller":  d.Seller.Hex(),
		"price":   cloneAmount(d.Price).Dec(),
		"state":   string(d.State),
	}
}
