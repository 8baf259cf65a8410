package auditor

import (
	"fmt"

	"github.com/equa/scoring-ledger/ledger/codec"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// VerificationResult is the typed result replacing exception-driven
// control flow around signature/hash failures.
type VerificationResult struct {
	Valid  bool
	Errors []string
}

func (r VerificationResult) Bool() bool { return r.Valid }

type ManifestVerifier struct {
	verifier       wallet.Verifier
	expectedHotkey string
}

func NewManifestVerifier(v wallet.Verifier, expectedPrimaryHotkey string) *ManifestVerifier {
	return &ManifestVerifier{verifier: v, expectedHotkey: expectedPrimaryHotkey}
}

// VerifyCheckpoint checks schema version, primary hotkey, signature, per
// -section hashes, and window type
func (mv *ManifestVerifier) VerifyCheckpoint(cp model.CheckpointWindow) VerificationResult {
	var errs []string
	m := cp.Manifest

	if m.SchemaVersion != model.SchemaVersion {
		errs = append(errs, fmt.Sprintf("unsupported schema_version %d", m.SchemaVersion))
	}
	if m.PrimaryHotkey != mv.expectedHotkey {
		errs = append(errs, "primary hotkey mismatch")
	}
	if m.WindowType != model.WindowCheckpoint {
		errs = append(errs, "wrong window type")
	}
	if !codec.VerifyManifest(m, mv.verifier) {
		errs = append(errs, "signature invalid")
	}

	sections := map[string]any{
		"roster":         cp.Roster,
		"accumulators":   cp.Accumulators,
		"scoring_config": cp.ScoringConfig,
	}
	for name, value := range sections {
		expected, ok := m.ContentHashes[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing content hash for %s", name))
			continue
		}
		var actual string
		var err error
		if name == "scoring_config" {
			actual, err = codec.HashSection(value)
		} else {
			actual, err = codec.HashNamedSection(value)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to recompute hash for %s: %v", name, err))
			continue
		}
		if actual != expected {
			errs = append(errs, fmt.Sprintf("content hash mismatch for %s", name))
		}
	}
	return VerificationResult{Valid: len(errs) == 0, Errors: errs}
}

// VerifyDelta mirrors VerifyCheckpoint for the delta shape.
func (mv *ManifestVerifier) VerifyDelta(d model.DeltaWindow) VerificationResult {
	var errs []string
	m := d.Manifest

	if m.SchemaVersion != model.SchemaVersion {
		errs = append(errs, fmt.Sprintf("unsupported schema_version %d", m.SchemaVersion))
	}
	if m.PrimaryHotkey != mv.expectedHotkey {
		errs = append(errs, "primary hotkey mismatch")
	}
	if m.WindowType != model.WindowDelta {
		errs = append(errs, "wrong window type")
	}
	if !codec.VerifyManifest(m, mv.verifier) {
		errs = append(errs, "signature invalid")
	}

	sections := map[string]any{
		"settled_submissions": d.SettledSubmissions,
		"settled_outcomes":    d.SettledOutcomes,
	}
	for name, value := range sections {
		expected, ok := m.ContentHashes[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("missing content hash for %s", name))
			continue
		}
		actual, err := codec.HashNamedSection(value)
		if err != nil {
			errs = append(errs, fmt.Sprintf("failed to recompute hash for %s: %v", name, err))
			continue
		}
		if actual != expected {
			errs = append(errs, fmt.Sprintf("content hash mismatch for %s", name))
		}
	}
	return VerificationResult{Valid: len(errs) == 0, Errors: errs}
}
