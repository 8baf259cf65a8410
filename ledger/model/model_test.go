package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMetricAccumulatorMeanFallback(t *testing.T) {
	var acc MetricAccumulator
	require.Equal(t, 0.7, acc.Mean(0.7))
	acc.Add(0.5, 2)
	acc.Add(0.9, 2)
	require.InDelta(t, 0.7, acc.Mean(0.0), 1e-9)
}

func TestDeriveMeansAppliesDocumentedFallbacks(t *testing.T) {
	entry := AccumulatorEntry{UID: 7, Hotkey: "hk"}
	derived := entry.DeriveMeans()
	require.Equal(t, 0.0, derived.BrierMean)
	require.Equal(t, 0.0, derived.FQRaw)
	require.Equal(t, 0.5, derived.MESMean)
	require.Equal(t, 0.5, derived.SOSScore)
	require.Equal(t, 0.5, derived.LeadScore)
	require.Equal(t, 0.5, derived.CalScore)
	require.Equal(t, 0.5, derived.SharpScore)
}

func TestDeriveMeansComputesWeightedAverage(t *testing.T) {
	entry := AccumulatorEntry{}
	entry.Brier.Add(0.2, 1)
	entry.Brier.Add(0.4, 1)
	derived := entry.DeriveMeans()
	require.InDelta(t, 0.3, derived.BrierMean, 1e-9)
}

func TestWindowManifestOfDispatchesByArm(t *testing.T) {
	cpManifest := LedgerManifest{CheckpointEpoch: 3}
	dManifest := LedgerManifest{CheckpointEpoch: 3}

	cpWindow := Window{Checkpoint: &CheckpointWindow{Manifest: cpManifest}}
	require.Equal(t, cpManifest, cpWindow.ManifestOf())

	dWindow := Window{Delta: &DeltaWindow{Manifest: dManifest}}
	require.Equal(t, dManifest, dWindow.ManifestOf())
}

func TestValidReasonCodesIsClosed(t *testing.T) {
	require.True(t, ValidReasonCodes[ReasonScoringBug])
	require.False(t, ValidReasonCodes[RecomputeReasonCode("NOT_A_REASON")])
	require.Len(t, ValidReasonCodes, 8)
}

func TestFromAccumulatorAppliesDerivedMeans(t *testing.T) {
	entry := AccumulatorEntry{UID: 1, Hotkey: "hk"}
	entry.PSS.Add(0.6, 1)
	metrics := FromAccumulator(entry)
	require.Equal(t, uint64(1), metrics.UID)
	require.InDelta(t, 0.6, metrics.PSSMean, 1e-9)
	require.Equal(t, 0.5, metrics.MESMean)
}
