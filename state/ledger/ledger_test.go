package ledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"p2pescrow/native/arbitration"
	"p2pescrow/native/escrow"
	"p2pescrow/storage"
)

var (
	seller = common.HexToAddress("0x1111111111111111111111111111111111111111")
	buyer  = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type failingDB struct {
	storage.Database
	failWrites bool
}

func (f *failingDB) Write(b storage.Batch) error {
	if f.failWrites {
		return errors.New("io error")
	}
	return f.Database.Write(b)
}

type fixedArbiter struct{ pct int }

func (a fixedArbiter) Resolve(context.Context, arbitration.Case) (*arbitration.Decision, error) {
	v := &arbitration.Verdict{Winner: arbitration.WinnerBuyer, RefundPct: a.pct, Rationale: "fixed"}
	return &arbitration.Decision{Verdict: v, Raw: v.JSON()}, nil
}

func TestTxReadsOwnWritesAndIsolates(t *testing.T) {
	l := New(storage.NewMemDB())
	tx, err := l.Begin()
	require.NoError(t, err)

	next, err := tx.NextOfferID()
	require.NoError(t, err)
	require.Equal(t, uint64(1), next)

	offer := &escrow.Offer{ID: 1, Seller: seller, Title: "Desk", Price: uint256.NewInt(40), Status: escrow.OfferOpen}
	require.NoError(t, tx.PutOffer(offer))
	require.NoError(t, tx.SetNextOfferID(2))

	got, ok, err := tx.Offer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Desk", got.Title)

	other, err := l.Begin()
	require.NoError(t, err)
	_, ok, err = other.Offer(1)
	require.NoError(t, err)
	require.False(t, ok, "uncommitted writes must not leak")
	other.Discard()

	require.NoError(t, tx.Commit())
	require.ErrorIs(t, tx.Commit(), ErrTxClosed)

	after, err := l.Begin()
	require.NoError(t, err)
	defer after.Discard()
	got, ok, err = after.Offer(1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(40), got.Price.Uint64())
	next, err = after.NextOfferID()
	require.NoError(t, err)
	require.Equal(t, uint64(2), next)
}

func TestNextOfferIDNeverMovesBackwards(t *testing.T) {
	tx, err := New(storage.NewMemDB()).Begin()
	require.NoError(t, err)
	require.NoError(t, tx.SetNextOfferID(5))
	require.Error(t, tx.SetNextOfferID(5))
	require.Error(t, tx.SetNextOfferID(3))
}

func TestDiscardDropsWrites(t *testing.T) {
	l := New(storage.NewMemDB())
	tx, err := l.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Deposit(buyer, uint256.NewInt(10)))
	tx.Discard()
	_, _, err = tx.Offer(1)
	require.ErrorIs(t, err, ErrTxClosed)

	vault, err := l.Vault()
	require.NoError(t, err)
	require.True(t, vault.IsZero())
}

func TestPayoutMovesValueOutOfVault(t *testing.T) {
	l := New(storage.NewMemDB())
	tx, err := l.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Deposit(buyer, uint256.NewInt(100)))
	require.ErrorIs(t, tx.Payout(seller, uint256.NewInt(101)), ErrVaultUnderflow)
	require.NoError(t, tx.Payout(seller, uint256.NewInt(60)))
	require.NoError(t, tx.Payout(seller, uint256.NewInt(0)))
	require.NoError(t, tx.Commit())

	vault, err := l.Vault()
	require.NoError(t, err)
	require.Equal(t, uint64(40), vault.Uint64())
	acc, err := l.Account(seller)
	require.NoError(t, err)
	require.Equal(t, uint64(60), acc.Balance.Uint64())
	require.Equal(t, uint64(1), acc.Received)
}

func TestEngineOnLevelDB(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	engine := escrow.NewEngine()
	engine.SetState(New(db))
	engine.SetArbiter(fixedArbiter{pct: 30})

	id, err := engine.CreateOffer(escrow.Call{Sender: seller}, "Phone", "unlocked", uint256.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, engine.AcceptOffer(escrow.Call{Sender: buyer, Value: uint256.NewInt(1000)}, id))
	require.NoError(t, engine.MarkShipped(escrow.Call{Sender: seller}, id, "https://track/9"))
	require.NoError(t, engine.OpenDispute(escrow.Call{Sender: buyer}, id, "screen cracked", "https://img/1"))
	_, err = engine.ResolveDispute(context.Background(), escrow.Call{Sender: buyer}, id)
	require.NoError(t, err)
	db.Close()

	reopened, err := storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer reopened.Close()
	l := New(reopened)

	buyerBal, err := l.Balance(buyer)
	require.NoError(t, err)
	sellerBal, err := l.Balance(seller)
	require.NoError(t, err)
	require.Equal(t, uint64(300), buyerBal.Uint64())
	require.Equal(t, uint64(700), sellerBal.Uint64())
	vault, err := l.Vault()
	require.NoError(t, err)
	require.True(t, vault.IsZero())

	tx, err := l.Begin()
	require.NoError(t, err)
	defer tx.Discard()
	deal, ok, err := tx.Deal(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, escrow.DealResolved, deal.State)
	require.Equal(t, 30, deal.Dispute.Resolution.RefundPct)
	require.Equal(t, []string{"https://img/1"}, deal.Dispute.BuyerEvidence)
}

func TestFailedBatchLeavesStoreUntouched(t *testing.T) {
	db := &failingDB{Database: storage.NewMemDB()}
	engine := escrow.NewEngine()
	l := New(db)
	engine.SetState(l)

	id, err := engine.CreateOffer(escrow.Call{Sender: seller}, "Chair", "", uint256.NewInt(7))
	require.NoError(t, err)

	db.failWrites = true
	err = engine.AcceptOffer(escrow.Call{Sender: buyer, Value: uint256.NewInt(7)}, id)
	require.ErrorContains(t, err, "io error")
	db.failWrites = false

	offer, err := engine.Offer(id)
	require.NoError(t, err)
	require.Equal(t, escrow.OfferOpen, offer.Status)
	vault, err := l.Vault()
	require.NoError(t, err)
	require.True(t, vault.IsZero())
}
