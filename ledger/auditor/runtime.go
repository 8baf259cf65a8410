package auditor

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/equa/scoring-ledger/internal/xlog"
)

const maxConsecutiveCycleErrors = 10

// ChainCollaborators bundles the explicit, non-global handles the
// runtime threads into every cycle's AuditorContext.
type ChainCollaborators struct {
	Metagraph       Metagraph
	Subtensor       Subtensor
	WalletHotkey    string
	WalletSign      func([]byte) (string, error)
	NetUID          int
	WeightTolerance float64
}

// AuditorRuntime is the main cooperative loop: cycles are
// strictly serialized via a singleflight group keyed on a constant, so a
// slow cycle can never overlap a timer-triggered retry; consecutive
// errors are counted and, past a bound, the runtime stops.
type AuditorRuntime struct {
	sync     *LedgerSync
	registry *PluginRegistry
	interval time.Duration
	chain    ChainCollaborators
	flight   singleflight.Group
	stop     chan struct{}
	stopped  chan struct{}
}

func NewAuditorRuntime(sync *LedgerSync, registry *PluginRegistry, interval time.Duration, chain ChainCollaborators) *AuditorRuntime {
	return &AuditorRuntime{
		sync: sync, registry: registry, interval: interval, chain: chain,
		stop: make(chan struct{}), stopped: make(chan struct{}),
	}
}

// Run executes cycles until Stop is called or consecutive errors exceed
// the bound. It blocks; call it in a goroutine.
func (r *AuditorRuntime) Run(ctx context.Context) {
	defer close(r.stopped)
	consecutiveErrors := 0
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err, _ := r.flight.Do("cycle", func() (any, error) {
				return nil, r.runOneCycle(ctx)
			})
			if err != nil {
				consecutiveErrors++
				xlog.Warn("auditor cycle failed", "consecutive_errors", consecutiveErrors, "err", err)
				if consecutiveErrors >= maxConsecutiveCycleErrors {
					xlog.Error("auditor runtime stopping: too many consecutive cycle errors")
					return
				}
			} else {
				consecutiveErrors = 0
			}
		}
	}
}

func (r *AuditorRuntime) runOneCycle(ctx context.Context) error {
	cp, deltas, err := r.sync.SyncCycle(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		return nil
	}
	state := r.sync.GetState()
	auditCtx := AuditorContext{
		Checkpoint:          cp,
		AcceptedDeltas:      deltas,
		AccumulatorSnapshot: state.PerMinerBrier,
		Metagraph:           r.chain.Metagraph,
		Subtensor:       r.chain.Subtensor,
		WalletHotkey:    r.chain.WalletHotkey,
		WalletSign:      r.chain.WalletSign,
		NetUID:          r.chain.NetUID,
		WeightTolerance: r.chain.WeightTolerance,
	}
	r.registry.Dispatch(auditCtx)
	return nil
}

// Stop signals the loop to exit at the next suspension point and waits
// for it to do so.
func (r *AuditorRuntime) Stop() {
	close(r.stop)
	<-r.stopped
}
