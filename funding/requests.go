// Package funding keeps track of channel opens that are waiting for the
// protocol engine to ask us for a funding transaction.
package funding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lnreactor/wallet"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrDuplicateRequest is returned if a request is registered for an
	// open id that already has an outstanding request.
	ErrDuplicateRequest = errors.New("funding request already registered")

	// ErrChannelClosed is delivered to a pending request if the channel was
	// closed before its funding transaction was generated.
	ErrChannelClosed = errors.New("channel closed before funding " +
		"completed")
)

// Callback is invoked exactly once with the outcome of a funding request.
type Callback func(fn.Result[*wire.MsgTx])

// Request is one outstanding funding request.
type Request struct {
	// FeeRate is the fee rate the caller asked the funding transaction to
	// pay.
	FeeRate wallet.FeeRate

	// Respond delivers the result to the caller.
	Respond Callback
}

// Requests maps caller chosen open ids to their outstanding funding
// requests. All methods are safe for concurrent use.
type Requests struct {
	mu      sync.Mutex
	pending map[uint64]Request
}

// NewRequests creates an empty request table.
func NewRequests() *Requests {
	return &Requests{
		pending: make(map[uint64]Request),
	}
}

// Put registers a request for the given open id. It refuses to replace an
// outstanding request.
func (r *Requests) Put(id uint64, feeRate wallet.FeeRate, cb Callback) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.pending[id]; ok {
		log.Errorf("Refusing to register funding request for open "+
			"id %d: %v", id, ErrDuplicateRequest)

		return fmt.Errorf("open id %d: %w", id, ErrDuplicateRequest)
	}

	r.pending[id] = Request{
		FeeRate: feeRate,
		Respond: cb,
	}
	log.Debugf("Registered funding request for open id %d at %v", id,
		feeRate)

	return nil
}

// Take removes and returns the request for the given open id.
func (r *Requests) Take(id uint64) (Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}

	return req, ok
}

// Resolve takes the request for the given open id and invokes its callback
// with the result. It returns false if there was no such request. The
// callback runs without the table lock held.
func (r *Requests) Resolve(id uint64, result fn.Result[*wire.MsgTx]) bool {
	req, ok := r.Take(id)
	if !ok {
		return false
	}

	if req.Respond != nil {
		req.Respond(result)
	}

	return true
}

// Len returns the number of outstanding requests.
func (r *Requests) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.pending)
}

// Await registers a request and blocks until it is resolved or the context
// is done. On cancellation the request is withdrawn so that a late funding
// event finds nothing to resolve.
func (r *Requests) Await(ctx context.Context, id uint64,
	feeRate wallet.FeeRate) (*wire.MsgTx, error) {

	resultChan := make(chan fn.Result[*wire.MsgTx], 1)
	err := r.Put(id, feeRate, func(res fn.Result[*wire.MsgTx]) {
		resultChan <- res
	})
	if err != nil {
		return nil, err
	}

	select {
	case res := <-resultChan:
		return res.Unpack()

	case <-ctx.Done():
		if _, ok := r.Take(id); ok {
			return nil, fmt.Errorf("waiting for funding of open "+
				"id %d: %w", id, ctx.Err())
		}

		// The request was taken concurrently, its result is on the
		// way.
		res := <-resultChan
		return res.Unpack()
	}
}
