// Package dispatch reacts to the events of the Lightning protocol engine.
// Every event is routed to the node subsystem responsible for it: funding
// requests to the on-chain wallet, payment outcomes to the payment ledger and
// spendable outputs to the signer and the chain backend.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/lightninglabs/lnreactor/event"
	"github.com/lightninglabs/lnreactor/funding"
	"github.com/lightninglabs/lnreactor/ledger"
	"github.com/lightningnetwork/lnd/clock"
)

// ErrUnhandledEvent is returned for an event the dispatcher has no handler
// for.
var ErrUnhandledEvent = errors.New("unhandled event")

// Config holds the subsystems the dispatcher routes events to.
type Config struct {
	Engine Engine
	Graph  Graph
	Wallet Wallet
	Signer Signer
	Chain  Chain

	// Requests holds the channel opens waiting for their funding
	// transaction.
	Requests *funding.Requests

	// Payments holds the inbound and outbound payment ledgers.
	Payments *ledger.Service

	// Clock is used to wait before forwarding HTLCs. Defaults to the
	// system clock.
	Clock clock.Clock

	// Jitter returns a random value in [0, n). Defaults to rand.Int64N.
	Jitter func(n int64) int64
}

// Dispatcher routes protocol engine events. It holds no state of its own
// apart from counters; all side effects go through the subsystems in Config.
type Dispatcher struct {
	cfg *Config

	ctx    context.Context
	cancel context.CancelFunc

	statsMu sync.Mutex
	stats   map[string]uint64
}

// New creates a dispatcher.
func New(cfg *Config) *Dispatcher {
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}
	if cfg.Jitter == nil {
		cfg.Jitter = rand.Int64N
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
		stats:  make(map[string]uint64),
	}
}

// Stop aborts in-flight chain calls of events that are still being handled.
// Scheduled forwards are not cancelled.
func (d *Dispatcher) Stop() {
	d.cancel()
}

// Handle is the callback handed to the protocol engine. It blocks until all
// side effects of the event are done and never reports anything back.
func (d *Dispatcher) Handle(ev event.Event) {
	if err := d.HandleEvent(d.ctx, ev); err != nil {
		log.Errorf("Unable to handle event: %v", err)
	}
}

// HandleEvent handles a single event. The only error it returns is
// ErrUnhandledEvent, every other failure is logged or reported to the
// waiting channel open.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev event.Event) error {
	log.Tracef("Handling event: %v", newLogClosure(func() string {
		return spew.Sdump(ev)
	}))

	switch e := ev.(type) {
	case *event.FundingGenerationReady:
		d.handleFundingGenerationReady(e)

	case *event.ChannelPending:
		log.Infof("EVENT: Channel %v with peer %v is pending awaiting "+
			"funding lock-in!", e.ChannelID, e.CounterpartyNodeID)

	case *event.ChannelReady:
		log.Infof("EVENT: Channel %v with peer %v is ready to be used!",
			e.ChannelID, e.CounterpartyNodeID)

	case *event.ChannelClosed:
		d.handleChannelClosed(e)

	case *event.DiscardFunding:
		if e.Transaction != nil {
			log.Infof("EVENT: Funding transaction %v for channel "+
				"%v discarded", e.Transaction.TxHash(),
				e.ChannelID)
		}

	case *event.PaymentClaimable:
		d.handlePaymentClaimable(e)

	case *event.PaymentClaimed:
		d.handlePaymentClaimed(e)

	case *event.PaymentSent:
		d.handlePaymentSent(e)

	case *event.PaymentFailed:
		d.handlePaymentFailed(e)

	case *event.PaymentForwarded:
		log.Infof("EVENT: %v", d.describeForward(e))

	case *event.HTLCHandlingFailed:
		log.Errorf("EVENT: Failed handling HTLC from channel %v to %v",
			e.PrevChannelID, e.FailedNextDestination)

	case *event.PendingHTLCsForwardable:
		d.scheduleForwards(e.TimeForwardable)

	case *event.SpendableOutputs:
		d.sweepOutputs(ctx, e)

	case *event.OpenChannelRequest, *event.PaymentPathSuccessful,
		*event.PaymentPathFailed, *event.ProbeSuccessful,
		*event.ProbeFailed, *event.HTLCIntercepted:

	default:
		return fmt.Errorf("%w: %T", ErrUnhandledEvent, ev)
	}

	d.statsMu.Lock()
	d.stats[ev.Kind()]++
	d.statsMu.Unlock()

	return nil
}

// Stats returns the number of handled events per kind.
func (d *Dispatcher) Stats() map[string]uint64 {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	stats := make(map[string]uint64, len(d.stats))
	for kind, n := range d.stats {
		stats[kind] = n
	}
	return stats
}

// maxForwardDelay bounds the minimum forward delay so that the upper end of
// the jitter range still fits into a time.Duration.
const maxForwardDelay = time.Duration(math.MaxInt64 / 5)

// forwardDelay picks a delay in [minDelay, 5*minDelay).
func (d *Dispatcher) forwardDelay(minDelay time.Duration) time.Duration {
	if minDelay <= 0 {
		return 0
	}
	if minDelay > maxForwardDelay {
		minDelay = maxForwardDelay
	}

	return minDelay + time.Duration(d.cfg.Jitter(int64(4*minDelay)))
}

// scheduleForwards processes pending forwards after a random delay. The
// goroutine is detached, nothing waits for or cancels it.
func (d *Dispatcher) scheduleForwards(minDelay time.Duration) {
	delay := d.forwardDelay(minDelay)

	log.Debugf("Processing pending HTLC forwards in %v", delay)

	go func() {
		if delay > 0 {
			<-d.cfg.Clock.TickAfter(delay)
		}
		d.cfg.Engine.ProcessPendingHTLCForwards()
	}()
}
