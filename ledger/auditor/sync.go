package auditor

import (
	"context"
	"encoding/json"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/internal/xlog"
	"github.com/equa/scoring-ledger/ledger/httpapi"
	"github.com/equa/scoring-ledger/ledger/model"
)

// PersistedState is the durable auditor-side state, rebuilt from scratch
// on every epoch change.
type PersistedState struct {
	Epoch             uint64                         `json:"epoch"`
	LastDeltaID       string                         `json:"last_delta_id"`
	LastDeltaTS       string                         `json:"last_delta_ts"`
	PerMinerBrier     map[string]BrierCrossCheck      `json:"per_miner_brier"`
	RecomputeHistory  []model.RecomputeRecord         `json:"recompute_history"`
	EpochBumpHistory  []time.Time                     `json:"epoch_bump_history"`
}

func emptyState() PersistedState {
	return PersistedState{Epoch: 0, PerMinerBrier: make(map[string]BrierCrossCheck)}
}

// LedgerSync owns the durable state file and the sync cycle, grounded
// on the upstream sparket/validator/auditor/sync.py LedgerSync.
type LedgerSync struct {
	mu    sync.Mutex
	state PersistedState

	statePath         string
	client            *httpapi.Client
	verifier          *ManifestVerifier
	maxBumpsPerDay    int
	maxBumpsPerWeek   int
}

func NewLedgerSync(statePath string, client *httpapi.Client, verifier *ManifestVerifier, maxBumpsPerDay, maxBumpsPerWeek int) *LedgerSync {
	s := &LedgerSync{
		statePath: statePath, client: client, verifier: verifier,
		maxBumpsPerDay: maxBumpsPerDay, maxBumpsPerWeek: maxBumpsPerWeek,
	}
	s.state = s.loadState()
	return s
}

// loadState reads the durable state file; a corrupted file resets to
// empty.
func (s *LedgerSync) loadState() PersistedState {
	raw, err := os.ReadFile(s.statePath)
	if err != nil {
		return emptyState()
	}
	var st PersistedState
	if err := json.Unmarshal(raw, &st); err != nil {
		xlog.Warn("auditor state file corrupted, resetting", "path", s.statePath, "err", err)
		return emptyState()
	}
	if st.PerMinerBrier == nil {
		st.PerMinerBrier = make(map[string]BrierCrossCheck)
	}
	return st
}

// persist writes state atomically via temp-file + rename.
func (s *LedgerSync) persist() error {
	raw, err := json.Marshal(s.state)
	if err != nil {
		return errkind.Wrap(errkind.Integrity, err, "marshal auditor state")
	}
	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return errkind.Wrap(errkind.Transient, err, "write auditor state temp file")
	}
	return errkind.Wrap(errkind.Transient, os.Rename(tmp, s.statePath), "rename auditor state file")
}

func (s *LedgerSync) GetState() PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// epochChangeOutcome mirrors the three outcomes of the epoch-change
// state machine.
type epochChangeOutcome string

const (
	outcomeAccepted epochChangeOutcome = "accepted"
	outcomePaused   epochChangeOutcome = "paused"
	outcomeRejected epochChangeOutcome = "rejected"
)

// handleEpochChange implements the epoch-change state machine.
func (s *LedgerSync) handleEpochChange(cp model.CheckpointWindow) epochChangeOutcome {
	record := cp.Manifest.RecomputeRecord
	if record != nil && record.ReasonDetail == "" {
		xlog.Warn("recompute record missing reason_detail, rejecting epoch change")
		return outcomeRejected
	}

	now := time.Now().UTC()
	var recent24h, recent7d int
	var kept []time.Time
	for _, t := range s.state.EpochBumpHistory {
		if now.Sub(t) <= 7*24*time.Hour {
			kept = append(kept, t)
			if now.Sub(t) <= 24*time.Hour {
				recent24h++
			}
			recent7d++
		}
	}
	s.state.EpochBumpHistory = kept

	if record != nil {
		if recent24h >= s.maxBumpsPerDay || recent7d >= s.maxBumpsPerWeek {
			xlog.Warn("epoch bump rate policy exceeded, pausing", "recent24h", recent24h, "recent7d", recent7d)
			return outcomePaused
		}
	} else {
		jump := cp.Manifest.CheckpointEpoch - s.state.Epoch
		if jump > 1 {
			xlog.Warn("epoch jumped by more than one with no recompute record", "jump", jump)
		} else {
			xlog.Warn("epoch advanced with no recompute record; accepting (bootstrap or benign gap)")
		}
	}

	s.state.Epoch = cp.Manifest.CheckpointEpoch
	s.state.PerMinerBrier = make(map[string]BrierCrossCheck)
	s.state.LastDeltaID = ""
	if record != nil {
		s.state.RecomputeHistory = append(s.state.RecomputeHistory, *record)
		s.state.EpochBumpHistory = append(s.state.EpochBumpHistory, now)
	}
	xlog.Info("epoch change accepted", "new_epoch", s.state.Epoch)
	return outcomeAccepted
}

// SyncCycle runs one tick of fetch-checkpoint, handle-epoch-change,
// fetch-and-verify-deltas. Returns the checkpoint and accepted deltas
// for the plugin dispatcher,
// or (nil, nil, nil) if there is nothing to act on this tick.
func (s *LedgerSync) SyncCycle(ctx context.Context) (*model.CheckpointWindow, []model.DeltaWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp, err := s.client.FetchLatestCheckpoint(ctx)
	if err != nil {
		return nil, nil, err
	}
	if cp == nil {
		return nil, nil, nil
	}

	if vr := s.verifier.VerifyCheckpoint(*cp); !vr.Valid {
		xlog.Warn("checkpoint verification failed", "errors", vr.Errors)
		return nil, nil, errkind.New(errkind.Integrity, "checkpoint verification failed")
	}

	if cp.Manifest.CheckpointEpoch != s.state.Epoch {
		outcome := s.handleEpochChange(*cp)
		if outcome == outcomeRejected || outcome == outcomePaused {
			if err := s.persist(); err != nil {
				return nil, nil, err
			}
			return nil, nil, nil
		}
	}

	ids, err := s.client.FetchDeltaIDs(ctx, s.state.Epoch, s.state.LastDeltaTS)
	if err != nil {
		return nil, nil, err
	}
	sort.Strings(ids)

	var accepted []model.DeltaWindow
	for _, id := range ids {
		if id <= s.state.LastDeltaID {
			continue
		}
		d, err := s.client.FetchDelta(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if d == nil {
			continue
		}
		if d.Manifest.CheckpointEpoch != s.state.Epoch {
			continue
		}
		if vr := s.verifier.VerifyDelta(*d); !vr.Valid {
			xlog.Warn("delta verification failed", "id", id, "errors", vr.Errors)
			continue
		}
		s.applyDelta(*d)
		s.state.LastDeltaID = id
		accepted = append(accepted, *d)
	}

	if err := s.persist(); err != nil {
		return nil, nil, err
	}
	return cp, accepted, nil
}

// applyDelta independently recomputes expected Brier for each settled
// submission with a matching settled outcome and folds it into the
// per-miner cross-check accumulator.
func (s *LedgerSync) applyDelta(d model.DeltaWindow) {
	outcomeByMarket := make(map[string]model.OutcomeEntry, len(d.SettledOutcomes))
	for _, o := range d.SettledOutcomes {
		outcomeByMarket[o.MarketID] = o
	}
	for _, sub := range d.SettledSubmissions {
		outcome, ok := outcomeByMarket[sub.MarketID]
		if !ok || outcome.Result == nil {
			continue
		}
		actual := 0.0
		if sub.Side == *outcome.Result {
			actual = 1.0
		}
		expected := (sub.ImpProb - actual) * (sub.ImpProb - actual)
		entry := s.state.PerMinerBrier[sub.MinerID]
		entry.Add(expected)
		s.state.PerMinerBrier[sub.MinerID] = entry
	}
}
