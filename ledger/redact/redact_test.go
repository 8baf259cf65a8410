package redact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelfCheckDisjoint(t *testing.T) {
	require.True(t, SelfCheckDisjoint())
}

func TestClassifyFieldTier3Patterns(t *testing.T) {
	require.Equal(t, TierPrimaryOnly, ClassifyField("closing_line_value"))
	require.Equal(t, TierPrimaryOnly, ClassifyField("raw_odds_eu"))
	require.Equal(t, TierPrimaryOnly, ClassifyField("internal_notes"))
}

func TestClassifyFieldValidatorGated(t *testing.T) {
	require.Equal(t, TierValidatorGated, ClassifyField("brier_mean"))
	require.Equal(t, TierValidatorGated, ClassifyField("miner_id"))
}

func TestContainsTier3DetectsDenylistedValues(t *testing.T) {
	require.True(t, ContainsTier3(map[string]any{"closing_line": 1.5}))
	require.False(t, ContainsTier3(map[string]any{"closing_line": nil, "miner_id": "m1"}))
}

func TestRedactDropsUnlistedAndNilFields(t *testing.T) {
	row := map[string]any{
		"miner_id":     "m1",
		"brier_mean":   0.1,
		"closing_line": 2.0,
		"unknown":      "x",
		"count":        nil,
	}
	out := Redact(row, SafeAccumulatorFields)
	require.Equal(t, map[string]any{"miner_id": "m1", "brier_mean": 0.1}, out)
}
