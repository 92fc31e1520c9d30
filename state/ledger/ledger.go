// Package ledger persists escrow offers, deals and balances on a key-value
// store. Writes are staged per transaction and committed as one batch.
package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"p2pescrow/core/types"
	"p2pescrow/native/escrow"
	"p2pescrow/storage"
)

var (
	offerPrefix   = []byte("offer/")
	dealPrefix    = []byte("deal/")
	accountPrefix = []byte("account/")
	nextOfferKey  = []byte("meta/next-offer-id")
	vaultKey      = []byte("meta/vault")
)

const firstOfferID uint64 = 1

var (
	ErrTxClosed       = errors.New("ledger: transaction already finished")
	ErrVaultUnderflow = errors.New("ledger: escrow vault balance too low")
)

// Ledger is the escrow state store.
type Ledger struct {
	db storage.Database
}

// New returns a ledger backed by db.
func New(db storage.Database) *Ledger {
	return &Ledger{db: db}
}

func idKey(prefix []byte, id uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], id)
	return key
}

func accountKey(addr common.Address) []byte {
	key := make([]byte, len(accountPrefix)+common.AddressLength)
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr.Bytes())
	return key
}

// Begin opens a transaction. It satisfies escrow.State.
func (l *Ledger) Begin() (escrow.StateTx, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("ledger: database not configured")
	}
	return &Tx{db: l.db, staged: make(map[string][]byte)}, nil
}

// Account returns the committed account record for addr.
func (l *Ledger) Account(addr common.Address) (*types.Account, error) {
	return readAccount(l.db.Get, addr)
}

// Balance returns the committed balance of addr.
func (l *Ledger) Balance(addr common.Address) (*uint256.Int, error) {
	acc, err := l.Account(addr)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(acc.Balance), nil
}

// Vault returns the value currently held in escrow.
func (l *Ledger) Vault() (*uint256.Int, error) {
	return readVault(l.db.Get)
}

type getter func(key []byte) ([]byte, error)

func readAccount(get getter, addr common.Address) (*types.Account, error) {
	data, err := get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.EnsureAccount(nil), nil
	}
	if err != nil {
		return nil, err
	}
	acc := new(types.Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("ledger: decode account %s: %w", addr.Hex(), err)
	}
	return types.EnsureAccount(acc), nil
}

func readVault(get getter) (*uint256.Int, error) {
	data, err := get(vaultKey)
	if errors.Is(err, storage.ErrNotFound) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).SetBytes(data), nil
}

// Tx is a staged overlay over the committed store. Reads see the
// transaction's own writes first.
type Tx struct {
	db     storage.Database
	staged map[string][]byte
	order  []string
	done   bool
}

func (t *Tx) get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrTxClosed
	}
	if v, ok := t.staged[string(key)]; ok {
		return v, nil
	}
	return t.db.Get(key)
}

func (t *Tx) put(key, value []byte) error {
	if t.done {
		return ErrTxClosed
	}
	k := string(key)
	if _, ok := t.staged[k]; !ok {
		t.order = append(t.order, k)
	}
	t.staged[k] = append([]byte(nil), value...)
	return nil
}

func (t *Tx) getJSON(key []byte, out any) (bool, error) {
	data, err := t.get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("ledger: decode %q: %w", key, err)
	}
	return true, nil
}

func (t *Tx) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.put(key, data)
}

// Offer implements escrow.StateTx.
func (t *Tx) Offer(id uint64) (*escrow.Offer, bool, error) {
	offer := new(escrow.Offer)
	ok, err := t.getJSON(idKey(offerPrefix, id), offer)
	if err != nil || !ok {
		return nil, false, err
	}
	return offer, true, nil
}

// PutOffer implements escrow.StateTx.
func (t *Tx) PutOffer(o *escrow.Offer) error {
	if o == nil {
		return fmt.Errorf("ledger: nil offer")
	}
	return t.putJSON(idKey(offerPrefix, o.ID), o)
}

// Deal implements escrow.StateTx.
func (t *Tx) Deal(id uint64) (*escrow.Deal, bool, error) {
	deal := new(escrow.Deal)
	ok, err := t.getJSON(idKey(dealPrefix, id), deal)
	if err != nil || !ok {
		return nil, false, err
	}
	return deal, true, nil
}

// PutDeal implements escrow.StateTx.
func (t *Tx) PutDeal(d *escrow.Deal) error {
	if d == nil {
		return fmt.Errorf("ledger: nil deal")
	}
	return t.putJSON(idKey(dealPrefix, d.OfferID), d)
}

// NextOfferID implements escrow.StateTx. A fresh ledger starts at 1.
func (t *Tx) NextOfferID() (uint64, error) {
	data, err := t.get(nextOfferKey)
	if errors.Is(err, storage.ErrNotFound) {
		return firstOfferID, nil
	}
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("ledger: corrupt next offer id")
	}
	return binary.BigEndian.Uint64(data), nil
}

// SetNextOfferID implements escrow.StateTx. The counter never moves backwards.
func (t *Tx) SetNextOfferID(next uint64) error {
	current, err := t.NextOfferID()
	if err != nil {
		return err
	}
	if next <= current {
		return fmt.Errorf("ledger: next offer id %d does not advance %d", next, current)
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next)
	return t.put(nextOfferKey, buf[:])
}

// Deposit implements escrow.StateTx.
func (t *Tx) Deposit(_ common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	vault, err := readVault(t.get)
	if err != nil {
		return err
	}
	sum, overflow := new(uint256.Int).AddOverflow(vault, amount)
	if overflow {
		return fmt.Errorf("ledger: escrow vault overflow")
	}
	return t.put(vaultKey, sum.Bytes())
}

// Payout implements escrow.StateTx.
func (t *Tx) Payout(to common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	vault, err := readVault(t.get)
	if err != nil {
		return err
	}
	if vault.Lt(amount) {
		return ErrVaultUnderflow
	}
	acc, err := readAccount(t.get, to)
	if err != nil {
		return err
	}
	balance, overflow := new(uint256.Int).AddOverflow(acc.Balance, amount)
	if overflow {
		return fmt.Errorf("ledger: balance overflow for %s", to.Hex())
	}
	acc.Balance = balance
	acc.Received++
	encoded, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return err
	}
	if err := t.put(accountKey(to), encoded); err != nil {
		return err
	}
	return t.put(vaultKey, new(uint256.Int).Sub(vault, amount).Bytes())
}

// Commit writes every staged entry in one batch.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxClosed
	}
	batch := t.db.NewBatch()
	for _, k := range t.order {
		batch.Put([]byte(k), t.staged[k])
	}
	if batch.Len() > 0 {
		if err := t.db.Write(batch); err != nil {
			return fmt.Errorf("ledger: commit: %w", err)
		}
	}
	t.finish()
	return nil
}

// Discard drops staged writes. It is safe to call after Commit.
func (t *Tx) Discard() { t.finish() }

func (t *Tx) finish() {
	t.done = true
	t.staged = nil
	t.order = nil
}
