package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// Start launches the background sync loop. The first pass runs right away.
func (w *Wallet) Start() error {
	w.started.Do(func() {
		log.Infof("Starting wallet sync loop")

		w.cfg.SyncTicker.Resume()

		w.wg.Add(1)
		go w.syncLoop()
	})

	return nil
}

// Stop ends the sync loop and waits for a running pass to finish.
func (w *Wallet) Stop() {
	w.stopped.Do(func() {
		log.Infof("Stopping wallet sync loop")

		close(w.quit)
		w.wg.Wait()

		// The ticker is only stopped once the loop no longer reads
		// from it.
		w.cfg.SyncTicker.Stop()
	})
}

func (w *Wallet) syncLoop() {
	defer w.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	w.syncAndLog(ctx)
	for {
		select {
		case <-w.cfg.SyncTicker.Ticks():
			w.syncAndLog(ctx)

		case <-w.quit:
			return
		}
	}
}

func (w *Wallet) syncAndLog(ctx context.Context) {
	err := w.Sync(ctx)
	switch {
	case err == nil:
		log.Infof("Wallet is synchronised to blockchain")

	// Progress was already logged.
	case errors.Is(err, ErrChainScanning):

	case errors.Is(err, ErrWalletBusy):
		log.Debugf("Skipping wallet sync, wallet is in use")

	case errors.Is(err, context.Canceled):

	default:
		log.Errorf("Wallet sync failed: %v", err)
	}
}

// Sync runs one synchronization pass. It returns ErrChainScanning without
// touching the gate if the backend is rescanning and ErrWalletBusy if
// another operation holds the gate.
func (w *Wallet) Sync(ctx context.Context) error {
	status, err := w.cfg.Chain.WalletScanStatus(ctx)
	if err != nil {
		return fmt.Errorf("could not get wallet info: %w", err)
	}
	if status.Scanning {
		log.Infof("Wallet is synchronising with the blockchain. "+
			"%.0f%% progress after %v.", status.Progress*100,
			status.Duration)

		return ErrChainScanning
	}

	if !w.gate.TryLock() {
		return ErrWalletBusy
	}
	defer w.gate.Unlock()

	scripts, index, err := w.watchScripts()
	if err != nil {
		return err
	}

	unspent, err := w.cfg.Chain.ListUnspent(ctx, scripts)
	if err != nil {
		return fmt.Errorf("unable to list unspent outputs: %w", err)
	}

	view := make(map[wire.OutPoint]*ownedUtxo, len(unspent))
	var used []scriptIndex
	for _, utxo := range unspent {
		loc, ok := index[string(utxo.PkScript)]
		if !ok {
			log.Warnf("Ignoring output %v with unknown script %x",
				utxo.OutPoint, utxo.PkScript)
			continue
		}

		view[utxo.OutPoint] = &ownedUtxo{
			Utxo:   utxo,
			branch: loc.branch,
			index:  loc.index,
		}
		used = append(used, loc)
	}
	w.utxos = view

	now := w.cfg.Clock.Now()
	for op, expiry := range w.leases {
		if !now.Before(expiry) {
			delete(w.leases, op)
		}
	}

	log.Debugf("Synced %d unspent outputs over %d scripts", len(view),
		len(scripts))

	return w.markUsed(used)
}

// watchScripts returns every script up to the lookahead window on both
// branches together with their location.
func (w *Wallet) watchScripts() ([][]byte, map[string]scriptIndex, error) {
	w.descMu.Lock()
	defer w.descMu.Unlock()

	for _, branch := range []uint32{branchReceive, branchChange} {
		upTo := w.revealed[branch] + lookahead
		for idx := w.derived[branch]; idx < upTo; idx++ {
			_, script, err := w.descriptorFor(branch).derive(idx)
			if err != nil {
				return nil, nil, err
			}

			w.scripts[string(script)] = scriptIndex{
				branch: branch,
				index:  idx,
			}
			w.derived[branch] = idx + 1
		}
	}

	scripts := make([][]byte, 0, len(w.scripts))
	index := make(map[string]scriptIndex, len(w.scripts))
	for script, loc := range w.scripts {
		scripts = append(scripts, []byte(script))
		index[script] = loc
	}

	return scripts, index, nil
}

// markUsed records addresses that received funds and reveals every address
// up to the highest used one.
func (w *Wallet) markUsed(used []scriptIndex) error {
	w.descMu.Lock()
	defer w.descMu.Unlock()

	changed := false
	for _, loc := range used {
		w.used[loc.branch][loc.index] = struct{}{}

		if loc.index >= w.revealed[loc.branch] {
			w.revealed[loc.branch] = loc.index + 1
			changed = true
		}
	}

	if !changed {
		return nil
	}

	return w.persistIndexes()
}
