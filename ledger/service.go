package ledger

import (
	"sync"

	"github.com/lightningnetwork/lnd/lntypes"
	"github.com/lightningnetwork/lnd/queue"
)

// Reader is the read-only handle given to the request routing layer.
type Reader interface {
	// Inbound returns the ledger of received payments.
	Inbound() View

	// Outbound returns the ledger of sent payments.
	Outbound() View

	// Subscribe streams every future ledger update.
	Subscribe() *Subscription
}

// Service owns the inbound and the outbound ledger. Only the event
// dispatcher gets write access, everybody else uses Reader.
type Service struct {
	inbound  *Ledger
	outbound *Ledger

	subMu     sync.RWMutex
	subs      map[uint64]*Subscription
	nextSubID uint64
}

// NewService creates both ledgers. If store is not nil, existing records are
// loaded from it and every mutation is written through.
func NewService(store *Store) (*Service, error) {
	s := &Service{
		subs: make(map[uint64]*Subscription),
	}

	var err error
	s.inbound, err = newLedger(Inbound, store, s.publish)
	if err != nil {
		return nil, err
	}
	s.outbound, err = newLedger(Outbound, store, s.publish)
	if err != nil {
		return nil, err
	}

	return s, nil
}

// InboundLedger returns the writable inbound ledger.
func (s *Service) InboundLedger() *Ledger {
	return s.inbound
}

// OutboundLedger returns the writable outbound ledger.
func (s *Service) OutboundLedger() *Ledger {
	return s.outbound
}

// Reader returns the read-only handle for the request routing layer.
func (s *Service) Reader() Reader {
	return &readOnly{svc: s}
}

// Subscribe returns a subscription that receives every update made after
// this call, in mutation order. Updates are buffered without bound so a slow
// subscriber never holds up a ledger writer.
func (s *Service) Subscribe() *Subscription {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSubID
	s.nextSubID++

	q := queue.NewConcurrentQueue(20)
	q.Start()

	sub := &Subscription{
		id:      id,
		svc:     s,
		queue:   q,
		updates: make(chan PaymentUpdate),
		quit:    make(chan struct{}),
	}
	s.subs[id] = sub

	sub.wg.Add(1)
	go sub.forward()

	return sub
}

// Stop cancels all subscriptions.
func (s *Service) Stop() {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[uint64]*Subscription)
	s.subMu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (s *Service) publish(update PaymentUpdate) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	for _, sub := range s.subs {
		sub.queue.ChanIn() <- update
	}
}

// Subscription delivers ledger updates.
type Subscription struct {
	id  uint64
	svc *Service

	queue   *queue.ConcurrentQueue
	updates chan PaymentUpdate

	once sync.Once
	quit chan struct{}
	wg   sync.WaitGroup
}

// Updates returns the channel updates are delivered on. It is closed once
// the subscription is cancelled.
func (s *Subscription) Updates() <-chan PaymentUpdate {
	return s.updates
}

// Cancel stops the subscription.
func (s *Subscription) Cancel() {
	s.svc.subMu.Lock()
	delete(s.svc.subs, s.id)
	s.svc.subMu.Unlock()

	s.stop()
}

func (s *Subscription) stop() {
	s.once.Do(func() {
		close(s.quit)
		s.wg.Wait()
		s.queue.Stop()
	})
}

func (s *Subscription) forward() {
	defer s.wg.Done()
	defer close(s.updates)

	for {
		select {
		case item, ok := <-s.queue.ChanOut():
			if !ok {
				return
			}

			update, ok := item.(PaymentUpdate)
			if !ok {
				log.Errorf("Unexpected ledger update type %T",
					item)
				continue
			}

			select {
			case s.updates <- update:
			case <-s.quit:
				return
			}

		case <-s.quit:
			return
		}
	}
}

type readOnly struct {
	svc *Service
}

func (r *readOnly) Inbound() View {
	return &readOnlyView{l: r.svc.inbound}
}

func (r *readOnly) Outbound() View {
	return &readOnlyView{l: r.svc.outbound}
}

func (r *readOnly) Subscribe() *Subscription {
	return r.svc.Subscribe()
}

// readOnlyView hides the mutating methods of a Ledger.
type readOnlyView struct {
	l *Ledger
}

func (v *readOnlyView) Lookup(hash lntypes.Hash) (PaymentInfo, bool) {
	return v.l.Lookup(hash)
}

func (v *readOnlyView) Snapshot() map[lntypes.Hash]PaymentInfo {
	return v.l.Snapshot()
}

func (v *readOnlyView) ForEach(
	cb func(lntypes.Hash, PaymentInfo) error) error {

	return v.l.ForEach(cb)
}

func (v *readOnlyView) Len() int {
	return v.l.Len()
}
