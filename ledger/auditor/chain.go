// Package auditor implements the auditor runtime: the sync
// cycle, manifest verifier, plugin dispatcher, and the required
// weight-verification plugin. Grounded on the upstream
// sparket/validator/auditor/{sync,runtime,verifier,plugin_registry,
// attestation}.py and plugins/weight_verification.py.
package auditor

import "github.com/equa/scoring-ledger/ledger/model"

// Metagraph is the chain-derived view of node identity, stake, permits,
// and current weights, an external collaborator.
type Metagraph interface {
	Hotkeys() []string
	ValidatorPermit() []bool
	Stake() []float64
	Weights() [][]uint16
	N() int
	LastUpdate() []uint64
	Sync() error
}

// Subtensor is the chain RPC surface for publishing weights.
type Subtensor interface {
	SetWeights(wallet string, netuid int, uids []uint64, weights []uint16) (bool, string, error)
	MaxWeightLimit(netuid int) (float64, error)
	MinAllowedWeights(netuid int) (int, error)
	GetSubnetOwnerHotkey(netuid int) (string, error)
}

// AuditorContext is passed explicitly through the dispatcher to every
// registered plugin on each cycle; no package-level globals.
type AuditorContext struct {
	Checkpoint        *model.CheckpointWindow
	AcceptedDeltas    []model.DeltaWindow
	AccumulatorSnapshot map[string]BrierCrossCheck
	Metagraph         Metagraph
	Subtensor         Subtensor
	WalletHotkey      string
	WalletSign        func([]byte) (string, error)
	NetUID            int
	WeightTolerance   float64
}

// BrierCrossCheck is the auditor's own simpler running accumulator built
// purely from deltas for cross-verification evidence — separate from
// AccumulatorEntry, restored from the upstream LedgerSync._apply_delta
// bookkeeping.
type BrierCrossCheck struct {
	WeightedSum float64
	Weight      float64
	Count       int
}

func (b *BrierCrossCheck) Add(expectedBrier float64) {
	b.WeightedSum += expectedBrier
	b.Weight += 1
	b.Count++
}
