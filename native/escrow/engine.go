// Package escrow implements the peer-to-peer escrow state machine: offers,
// funded deals, disputes and the settlement of agreed arbitration verdicts.
package escrow

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"p2pescrow/core/events"
	"p2pescrow/native/arbitration"
)

// State opens isolated transactions over the ledger.
type State interface {
	Begin() (StateTx, error)
}

// StateTx stages reads and writes for one call. Nothing is visible to other
// transactions until Commit succeeds; Discard drops every staged write.
type StateTx interface {
	Offer(id uint64) (*Offer, bool, error)
	PutOffer(*Offer) error
	Deal(id uint64) (*Deal, bool, error)
	PutDeal(*Deal) error
	NextOfferID() (uint64, error)
	SetNextOfferID(uint64) error
	// Deposit credits value attached to a call to the escrow vault.
	Deposit(from common.Address, amount *uint256.Int) error
	// Payout moves amount out of the escrow vault to an account.
	Payout(to common.Address, amount *uint256.Int) error
	Commit() error
	Discard()
}

// Arbiter produces an agreed verdict for a disputed deal.
type Arbiter interface {
	Resolve(ctx context.Context, c arbitration.Case) (*arbitration.Decision, error)
}

// Metrics receives call outcomes and settlement volumes.
type Metrics interface {
	ObserveCall(op, reason string)
	ObserveSettlement(refund, seller *uint256.Int)
}

// Call carries the caller identity and the value attached to a write.
type Call struct {
	Sender common.Address
	Value  *uint256.Int
}

func (c Call) value() *uint256.Int { return cloneAmount(c.Value) }

// Engine applies escrow operations. Calls are serialised so each one observes
// the effects of every call committed before it.
type Engine struct {
	mu      sync.Mutex
	state   State
	arbiter Arbiter
	emitter events.Emitter
	metrics Metrics
	logger  *slog.Logger
}

// NewEngine creates an engine with a no-op emitter and the default logger.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
	}
}

// SetState configures the ledger backend.
func (e *Engine) SetState(state State) { e.state = state }

// SetArbiter configures the dispute arbiter used by ResolveDispute.
func (e *Engine) SetArbiter(a Arbiter) { e.arbiter = a }

// SetEmitter configures where committed events are delivered. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetMetrics configures the metrics hook.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(l *slog.Logger) {
	if l != nil {
		e.logger = l
	}
}

// apply runs fn inside one transaction. Events emitted by fn are delivered
// only after the transaction commits.
func (e *Engine) apply(op string, offerID uint64, fn func(tx StateTx, out *events.Buffer) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	var buf events.Buffer
	if err := fn(tx, &buf); err != nil {
		tx.Discard()
		e.finish(op, offerID, err)
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Discard()
		e.finish(op, offerID, err)
		return err
	}
	buf.Flush(e.emitter)
	e.finish(op, offerID, nil)
	return nil
}

func (e *Engine) finish(op string, offerID uint64, err error) {
	reason := ReasonOf(err)
	if err != nil && reason == "" {
		reason = "internal"
	}
	if e.metrics != nil {
		e.metrics.ObserveCall(op, reason)
	}
	switch {
	case err == nil:
		e.logger.Debug("escrow call applied", slog.String("op", op), slog.Uint64("offerId", offerID))
	case reason == "internal":
		e.logger.Error("escrow call failed", slog.String("op", op), slog.Uint64("offerId", offerID), slog.Any("error", err))
	default:
		e.logger.Info("escrow call rejected", slog.String("op", op), slog.Uint64("offerId", offerID), slog.String("reason", reason))
	}
}

func nonPayable(call Call) error {
	if !call.value().IsZero() {
		return reject(ReasonUnexpectedValue)
	}
	return nil
}

func loadOffer(tx StateTx, id uint64) (*Offer, error) {
	offer, ok, err := tx.Offer(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(ReasonOfferNotFound)
	}
	return offer, nil
}

func loadDeal(tx StateTx, id uint64) (*Deal, error) {
	deal, ok, err := tx.Deal(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, reject(ReasonDealNotFound)
	}
	return deal, nil
}

// CreateOffer lists a new offer owned by the caller and returns its id.
func (e *Engine) CreateOffer(call Call, title, description string, price *uint256.Int) (uint64, error) {
	var id uint64
	err := e.apply("create_offer", 0, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		next, err := tx.NextOfferID()
		if err != nil {
			return err
		}
		offer := &Offer{
			ID:          next,
			Seller:      call.Sender,
			Title:       title,
			Description: description,
			Price:       cloneAmount(price),
			Status:      OfferOpen,
		}
		if err := tx.PutOffer(offer); err != nil {
			return err
		}
		if err := tx.SetNextOfferID(next + 1); err != nil {
			return err
		}
		id = next
		out.Emit(OfferCreatedEvent{Offer: offer.Clone()})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// CancelOffer withdraws an open offer. Only its seller may cancel.
func (e *Engine) CancelOffer(call Call, id uint64) error {
	return e.apply("cancel_offer", id, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		offer, err := loadOffer(tx, id)
		if err != nil {
			return err
		}
		if offer.Seller != call.Sender {
			return reject(ReasonOnlySeller)
		}
		if offer.Status != OfferOpen {
			return reject(ReasonNotOpen)
		}
		offer.Status = OfferCancelled
		if err := tx.PutOffer(offer); err != nil {
			return err
		}
		out.Emit(OfferCancelledEvent{Offer: offer.Clone()})
		return nil
	})
}

// AcceptOffer funds a deal for an open offer. The attached value must equal
// the offer price exactly and is held by the escrow vault.
func (e *Engine) AcceptOffer(call Call, id uint64) error {
	return e.apply("accept_offer", id, func(tx StateTx, out *events.Buffer) error {
		offer, err := loadOffer(tx, id)
		if err != nil {
			return err
		}
		if offer.Status != OfferOpen {
			return reject(ReasonOfferNotOpen)
		}
		value := call.value()
		if !value.Eq(cloneAmount(offer.Price)) {
			return reject(ReasonWrongValue)
		}
		deal := &Deal{
			OfferID: id,
			Buyer:   call.Sender,
			Seller:  offer.Seller,
			Price:   cloneAmount(offer.Price),
			State:   DealFunded,
		}
		if err := tx.Deposit(call.Sender, value); err != nil {
			return err
		}
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		offer.Status = OfferTaken
		if err := tx.PutOffer(offer); err != nil {
			return err
		}
		out.Emit(DealFundedEvent{Deal: deal.Clone()})
		return nil
	})
}

// MarkShipped records shipment with a tracking reference. Seller only, from
// FUNDED.
func (e *Engine) MarkShipped(call Call, id uint64, trackingURL string) error {
	return e.apply("mark_shipped", id, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if deal.Seller != call.Sender {
			return reject(ReasonOnlySeller)
		}
		if deal.State != DealFunded {
			return reject(ReasonBadState)
		}
		deal.State = DealShipped
		deal.TrackingURL = trackingURL
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		out.Emit(DealShippedEvent{Deal: deal.Clone()})
		return nil
	})
}

// ConfirmReceived releases the full price to the seller. Buyer only, from
// SHIPPED.
func (e *Engine) ConfirmReceived(call Call, id uint64) error {
	return e.apply("confirm_received", id, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if deal.Buyer != call.Sender {
			return reject(ReasonOnlyBuyer)
		}
		if deal.State != DealShipped {
			return reject(ReasonBadState)
		}
		if err := payout(tx, out, id, deal.Seller, deal.Price, "release"); err != nil {
			return err
		}
		deal.State = DealCompleted
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		if err := setOfferStatus(tx, id, OfferCompleted); err != nil {
			return err
		}
		out.Emit(DealCompletedEvent{Deal: deal.Clone()})
		return nil
	})
}

// OpenDispute escalates a FUNDED or SHIPPED deal. Only the opener's side of
// the dispute is populated.
func (e *Engine) OpenDispute(call Call, id uint64, statement, evidenceCSV string) error {
	return e.apply("open_dispute", id, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if !deal.IsParty(call.Sender) {
			return reject(ReasonOnlyParty)
		}
		if deal.State.Terminal() || deal.State == DealDisputed {
			return reject(ReasonBadState)
		}
		evidence := arbitration.ParseReferences(evidenceCSV)
		dispute := &Dispute{OpenedBy: call.Sender}
		if call.Sender == deal.Buyer {
			dispute.BuyerReason = statement
			dispute.BuyerEvidence = evidence
		}
		if call.Sender == deal.Seller {
			dispute.SellerReason = statement
			dispute.SellerEvidence = append([]string(nil), evidence...)
		}
		deal.State = DealDisputed
		deal.Dispute = dispute
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		if err := setOfferStatus(tx, id, OfferDisputed); err != nil {
			return err
		}
		out.Emit(DisputeOpenedEvent{Deal: deal.Clone()})
		return nil
	})
}

// RespondDispute overwrites the caller's own statement and evidence. It may
// be called repeatedly while the deal is DISPUTED.
func (e *Engine) RespondDispute(call Call, id uint64, statement, evidenceCSV string) error {
	return e.apply("respond_dispute", id, func(tx StateTx, out *events.Buffer) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if deal.State != DealDisputed {
			return reject(ReasonNotDisputed)
		}
		if deal.Dispute == nil {
			return reject(ReasonNoDispute)
		}
		evidence := arbitration.ParseReferences(evidenceCSV)
		var side string
		switch call.Sender {
		case deal.Buyer:
			deal.Dispute.BuyerReason = statement
			deal.Dispute.BuyerEvidence = evidence
			side = "buyer"
		case deal.Seller:
			deal.Dispute.SellerReason = statement
			deal.Dispute.SellerEvidence = evidence
			side = "seller"
		default:
			return reject(ReasonOnlyParty)
		}
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		out.Emit(DisputeRespondedEvent{Deal: deal.Clone(), By: side})
		return nil
	})
}

// ResolveDispute asks the arbiter for an agreed verdict and settles it. Any
// account may trigger resolution. The consensus round runs outside the
// engine lock; settlement re-checks that the deal is still DISPUTED with the
// same case facts before paying out, so a concurrent or repeated resolution
// fails with not_disputed.
func (e *Engine) ResolveDispute(ctx context.Context, call Call, id uint64) (*arbitration.Verdict, error) {
	snapshot, err := e.caseSnapshot(call, id)
	if err != nil {
		return nil, err
	}
	if e.arbiter == nil {
		return nil, errNilArbiter
	}
	decision, err := e.arbiter.Resolve(ctx, snapshot)
	if err != nil {
		err = rejectWith(ReasonNoConsensus, err)
		e.finish("resolve_dispute", id, err)
		return nil, err
	}
	want := caseDigest(snapshot)

	var verdict *arbitration.Verdict
	err = e.apply("resolve_dispute", id, func(tx StateTx, out *events.Buffer) error {
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if deal.State != DealDisputed {
			return reject(ReasonNotDisputed)
		}
		if caseDigest(caseFromDeal(deal)) != want {
			return reject(ReasonCaseChanged)
		}
		refund, seller, err := Split(deal.Price, decision.Verdict.RefundPct)
		if err != nil {
			return err
		}
		if err := payout(tx, out, id, deal.Buyer, refund, "refund"); err != nil {
			return err
		}
		if err := payout(tx, out, id, deal.Seller, seller, "settlement"); err != nil {
			return err
		}
		if deal.Dispute == nil {
			deal.Dispute = &Dispute{}
		}
		deal.State = DealResolved
		deal.Dispute.Resolution = decision.Verdict.Clone()
		if err := tx.PutDeal(deal); err != nil {
			return err
		}
		if err := setOfferStatus(tx, id, OfferCompleted); err != nil {
			return err
		}
		var attempt string
		if decision.Round != nil {
			attempt = decision.Round.AttemptID
		}
		out.Emit(DisputeResolvedEvent{
			Deal:    deal.Clone(),
			Verdict: decision.Verdict.Clone(),
			Refund:  refund,
			Payout:  seller,
			Attempt: attempt,
		})
		if e.metrics != nil {
			e.metrics.ObserveSettlement(refund, seller)
		}
		verdict = decision.Verdict.Clone()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return verdict, nil
}

func (e *Engine) caseSnapshot(call Call, id uint64) (arbitration.Case, error) {
	var snapshot arbitration.Case
	err := e.read(func(tx StateTx) error {
		if err := nonPayable(call); err != nil {
			return err
		}
		deal, err := loadDeal(tx, id)
		if err != nil {
			return err
		}
		if deal.State != DealDisputed {
			return reject(ReasonNotDisputed)
		}
		snapshot = caseFromDeal(deal)
		return nil
	})
	if err != nil {
		e.finish("resolve_dispute", id, err)
	}
	return snapshot, err
}

func caseFromDeal(deal *Deal) arbitration.Case {
	c := arbitration.Case{
		OfferID:     deal.OfferID,
		Price:       cloneAmount(deal.Price).Dec(),
		State:       string(deal.State),
		TrackingURL: deal.TrackingURL,
	}
	if d := deal.Dispute; d != nil {
		c.BuyerStatement = d.BuyerReason
		c.SellerStatement = d.SellerReason
		c.BuyerEvidence = append([]string(nil), d.BuyerEvidence...)
		c.SellerEvidence = append([]string(nil), d.SellerEvidence...)
	}
	return c
}

func caseDigest(c arbitration.Case) common.Hash {
	data, _ := json.Marshal(c)
	return ethcrypto.Keccak256Hash(data)
}

func payout(tx StateTx, out *events.Buffer, id uint64, to common.Address, amount *uint256.Int, reason string) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	if err := tx.Payout(to, amount); err != nil {
		return err
	}
	out.Emit(events.Transfer{OfferID: id, To: to, Amount: cloneAmount(amount), Reason: reason})
	return nil
}

func setOfferStatus(tx StateTx, id uint64, status OfferStatus) error {
	offer, err := loadOffer(tx, id)
	if err != nil {
		return err
	}
	offer.Status = status
	return tx.PutOffer(offer)
}

// read runs fn against a transaction that is always discarded.
func (e *Engine) read(fn func(tx StateTx) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	tx, err := e.state.Begin()
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}

// Offer returns a copy of the stored offer.
func (e *Engine) Offer(id uint64) (*Offer, error) {
	var offer *Offer
	err := e.read(func(tx StateTx) error {
		var err error
		offer, err = loadOffer(tx, id)
		return err
	})
	return offer, err
}

// Deal returns a copy of the stored deal.
func (e *Engine) Deal(id uint64) (*Deal, error) {
	var deal *Deal
	err := e.read(func(tx StateTx) error {
		var err error
		deal, err = loadDeal(tx, id)
		return err
	})
	return deal, err
}

// NextOfferID reports the id the next CreateOffer will assign.
func (e *Engine) NextOfferID() (uint64, error) {
	var next uint64
	err := e.read(func(tx StateTx) error {
		var err error
		next, err = tx.NextOfferID()
		return err
	})
	return next, err
}

// OfferJSON returns the offer's JSON view, or "" when it does not exist.
func (e *Engine) OfferJSON(id uint64) (string, error) {
	offer, err := e.Offer(id)
	return viewJSON(offer, err)
}

// DealJSON returns the deal's JSON view, or "" when it does not exist.
func (e *Engine) DealJSON(id uint64) (string, error) {
	deal, err := e.Deal(id)
	return viewJSON(deal, err)
}

func viewJSON(v any, err error) (string, error) {
	if err != nil {
		if ReasonOf(err) != "" {
			return "", nil
		}
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
