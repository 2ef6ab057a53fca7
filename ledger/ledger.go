// Package ledger keeps the authoritative record of inbound and outbound
// payments.
package ledger

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/lnwire"
)

var (
	// ErrStatusRegression is returned if a mutation would move a payment
	// out of a terminal status.
	ErrStatusRegression = errors.New("payment status regression")

	// ErrPaymentExists is returned when registering a payment hash that
	// is already tracked.
	ErrPaymentExists = errors.New("payment already exists")
)

// View is read-only access to one ledger.
type View interface {
	// Lookup returns the record for the given payment hash.
	Lookup(hash lntypes.Hash) (PaymentInfo, bool)

	// Snapshot returns a copy of all records.
	Snapshot() map[lntypes.Hash]PaymentInfo

	// ForEach calls cb for every record while holding the read lock.
	// Iteration stops at the first error, which is returned.
	ForEach(cb func(lntypes.Hash, PaymentInfo) error) error

	// Len returns the number of records.
	Len() int
}

// Ledger maps payment hashes to payment records. Records are never removed.
// Reads may run concurrently, writes are serialized.
type Ledger struct {
	direction Direction

	mu       sync.RWMutex
	payments map[lntypes.Hash]PaymentInfo

	// store persists every mutation before the write lock is released.
	// It is nil for an in-memory ledger.
	store *Store

	// notify is called with every update while holding the write lock so
	// subscribers observe updates in mutation order.
	notify func(PaymentUpdate)
}

// A compile time check to ensure Ledger implements the View interface.
var _ View = (*Ledger)(nil)

func newLedger(direction Direction, store *Store,
	notify func(PaymentUpdate)) (*Ledger, error) {

	l := &Ledger{
		direction: direction,
		payments:  make(map[lntypes.Hash]PaymentInfo),
		store:     store,
		notify:    notify,
	}

	if store == nil {
		return l, nil
	}

	payments, err := store.FetchAll(direction)
	if err != nil {
		return nil, fmt.Errorf("unable to load %v payments: %w",
			direction, err)
	}
	l.payments = payments

	log.Debugf("Loaded %d %v payments", len(payments), direction)

	return l, nil
}

// UpsertClaimed records a claimed payment. A new record is created as
// succeeded. An existing record is moved to succeeded and gets the preimage
// and secret filled in.
func (l *Ledger) UpsertClaimed(hash lntypes.Hash,
	preimage fn.Option[lntypes.Preimage], secret fn.Option[[32]byte],
	amount fn.Option[lnwire.MilliSatoshi]) error {

	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.payments[hash]
	if !ok {
		return l.commit(hash, PaymentInfo{
			Preimage: preimage,
			Secret:   secret,
			Status:   StatusSucceeded,
			Amount:   amount,
		})
	}

	if !info.Status.canTransition(StatusSucceeded) {
		return fmt.Errorf("%v payment %v is %v: %w", l.direction, hash,
			info.Status, ErrStatusRegression)
	}

	info.Status = StatusSucceeded
	info.Preimage = preimage
	info.Secret = secret
	if amount.IsSome() {
		info.Amount = amount
	}

	return l.commit(hash, info)
}

// UpdateIfPresent applies update to the record for hash if there is one.
// It returns false if the hash is not tracked. The update is refused with
// ErrStatusRegression if it moves the record out of a terminal status.
func (l *Ledger) UpdateIfPresent(hash lntypes.Hash,
	update func(*PaymentInfo)) (bool, error) {

	l.mu.Lock()
	defer l.mu.Unlock()

	info, ok := l.payments[hash]
	if !ok {
		return false, nil
	}

	oldStatus := info.Status
	update(&info)

	if !oldStatus.canTransition(info.Status) {
		return true, fmt.Errorf("%v payment %v from %v to %v: %w",
			l.direction, hash, oldStatus, info.Status,
			ErrStatusRegression)
	}

	return true, l.commit(hash, info)
}

// AddPending starts tracking a payment in the pending state.
func (l *Ledger) AddPending(hash lntypes.Hash,
	amount fn.Option[lnwire.MilliSatoshi]) error {

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.payments[hash]; ok {
		return fmt.Errorf("%v payment %v: %w", l.direction, hash,
			ErrPaymentExists)
	}

	return l.commit(hash, PaymentInfo{
		Preimage: fn.None[lntypes.Preimage](),
		Secret:   fn.None[[32]byte](),
		Status:   StatusPending,
		Amount:   amount,
	})
}

// commit persists and publishes a record. The caller must hold the write
// lock.
func (l *Ledger) commit(hash lntypes.Hash, info PaymentInfo) error {
	if l.store != nil {
		if err := l.store.Put(l.direction, hash, info); err != nil {
			return fmt.Errorf("unable to persist %v payment %v: %w",
				l.direction, hash, err)
		}
	}

	l.payments[hash] = info

	log.Debugf("Recorded %v payment %v as %v", l.direction, hash,
		info.Status)

	if l.notify != nil {
		l.notify(PaymentUpdate{
			Direction: l.direction,
			Hash:      hash,
			Info:      info,
		})
	}

	return nil
}

// Lookup returns the record for the given payment hash.
func (l *Ledger) Lookup(hash lntypes.Hash) (PaymentInfo, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	info, ok := l.payments[hash]
	return info, ok
}

// Snapshot returns a copy of all records.
func (l *Ledger) Snapshot() map[lntypes.Hash]PaymentInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make(map[lntypes.Hash]PaymentInfo, len(l.payments))
	for hash, info := range l.payments {
		snapshot[hash] = info
	}

	return snapshot
}

// ForEach calls cb for every record while holding the read lock.
func (l *Ledger) ForEach(cb func(lntypes.Hash, PaymentInfo) error) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for hash, info := range l.payments {
		if err := cb(hash, info); err != nil {
			return err
		}
	}

	return nil
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.payments)
}
