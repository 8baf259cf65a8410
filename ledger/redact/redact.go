// Package redact implements the allowlist-gated projection from internal
// row maps to exported shapes, grounded on the upstream
// scoring pipeline's redaction.py: a frozen per-shape allowlist, a
// denylist of primary-only field name patterns, and the contains_tier3
// defensive check every export path must assert false.
package redact

import (
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

type DataTier int

const (
	TierPublic DataTier = iota
	TierValidatorGated
	TierPrimaryOnly
)

// Per-shape allowlists, restored from the upstream redaction.py.
var (
	SafeAccumulatorFields = mapset.NewSet(
		"miner_id", "hotkey", "uid", "count",
		"brier", "fq", "pss", "es", "mes", "sos", "lead",
		"brier_mean", "fq_raw", "pss_mean", "es_adj",
		"mes_mean", "sos_score", "lead_score", "cal_score", "sharp_score",
	)

	SafeRollingScoreFields = mapset.NewSet(
		"miner_id", "brier_mean", "fq_raw", "pss_mean", "es_adj",
		"mes_mean", "sos_score", "lead_score", "cal_score", "sharp_score",
	)

	SafeOutcomeFields = mapset.NewSet(
		"market_id", "event_id", "result", "score_home", "score_away", "settled_at",
	)

	SafeMinerFields = mapset.NewSet(
		"miner_id", "uid", "hotkey", "active",
	)

	SafeSettledSubmissionFields = mapset.NewSet(
		"miner_id", "market_id", "side", "imp_prob", "brier", "pss", "settled_at",
	)
)

// TIER3FieldPatterns is the denylist of primary-only field name
// substrings. Any key containing one of these is never exported,
// regardless of which allowlist it might otherwise match.
var TIER3FieldPatterns = []string{
	"odds_eu", "odds_us", "odds_dec", "closing_line", "clv", "cle",
	"priced_at", "submitted_at", "payload", "raw_odds", "internal_",
}

// ClassifyField returns the tier of a single field name.
func ClassifyField(name string) DataTier {
	if containsAny(name, TIER3FieldPatterns) {
		return TierPrimaryOnly
	}
	if SafeAccumulatorFields.Contains(name) || SafeRollingScoreFields.Contains(name) ||
		SafeOutcomeFields.Contains(name) || SafeMinerFields.Contains(name) ||
		SafeSettledSubmissionFields.Contains(name) {
		return TierValidatorGated
	}
	return TierPublic
}

func containsAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(name, p) {
			return true
		}
	}
	return false
}

// ContainsTier3 reports whether row has any denylisted key present with a
// non-nil value. Export pipelines MUST assert this false before
// publishing any record.
func ContainsTier3(row map[string]any) bool {
	for k, v := range row {
		if v == nil {
			continue
		}
		if containsAny(k, TIER3FieldPatterns) {
			return true
		}
	}
	return false
}

// Redact projects row through allowlist, dropping unknown keys and
// absent (nil) values.
func Redact(row map[string]any, allowlist mapset.Set[string]) map[string]any {
	out := make(map[string]any, allowlist.Cardinality())
	for k, v := range row {
		if v == nil {
			continue
		}
		if allowlist.Contains(k) {
			out[k] = v
		}
	}
	return out
}

// SelfCheckDisjoint verifies TIER3FieldPatterns shares no literal field
// name with any Tier-2 allowlist — a startup invariant, and
// one of the required testable properties.
func SelfCheckDisjoint() bool {
	allowlists := []mapset.Set[string]{
		SafeAccumulatorFields, SafeRollingScoreFields, SafeOutcomeFields,
		SafeMinerFields, SafeSettledSubmissionFields,
	}
	for _, al := range allowlists {
		for _, field := range al.ToSlice() {
			if containsAny(field, TIER3FieldPatterns) {
				return false
			}
		}
	}
	return true
}
