package weights

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/model"
)

func baseConfig() model.ScoringConfigSnapshot {
	return model.ScoringConfigSnapshot{
		DimensionWeights:  map[string]float64{"w_fq": 0.6, "w_cal": 0.4, "w_edge": 0.7, "w_mes": 0.3, "w_sos": 0.6, "w_lead": 0.4},
		SkillScoreWeights: map[string]float64{"w_outcome_accuracy": 0.10, "w_outcome_relative": 0.10, "w_odds_edge": 0.50, "w_info_adv": 0.30},
		MinCountForZScore: 20,
	}
}

func baseChain(n int) model.ChainParamsSnapshot {
	return model.ChainParamsSnapshot{MaxWeightLimit: 1.0, MinAllowedWeights: 0, NNeurons: n}
}

func metric(uid uint64, brier, pss, es float64) model.MinerMetrics {
	return model.MinerMetrics{UID: uid, BrierMean: brier, PSSMean: pss, ESAdj: es, CalScore: 0.5, MESMean: 0.5, SOSScore: 0.5, LeadScore: 0.5}
}

func TestComputeIsDeterministic(t *testing.T) {
	metrics := []model.MinerMetrics{
		metric(2, 0.2, 0.1, 0.3),
		metric(0, 0.1, 0.4, 0.2),
		metric(1, 0.3, 0.2, 0.1),
	}
	cfg := baseConfig()
	chain := baseChain(3)

	first := Compute(metrics, cfg, chain)
	second := Compute(metrics, cfg, chain)
	require.Equal(t, first.Uint16Weights, second.Uint16Weights)
	require.Equal(t, first.UIDs, second.UIDs)
}

func TestComputeOrderIndependent(t *testing.T) {
	a := []model.MinerMetrics{metric(0, 0.1, 0.4, 0.2), metric(1, 0.3, 0.2, 0.1), metric(2, 0.2, 0.1, 0.3)}
	b := []model.MinerMetrics{metric(2, 0.2, 0.1, 0.3), metric(0, 0.1, 0.4, 0.2), metric(1, 0.3, 0.2, 0.1)}
	cfg := baseConfig()
	chain := baseChain(3)

	r1 := Compute(a, cfg, chain)
	r2 := Compute(b, cfg, chain)
	require.Equal(t, r1.Uint16Weights, r2.Uint16Weights)
	require.Equal(t, r1.UIDs, r2.UIDs)
}

func TestBurnAllocation(t *testing.T) {
	burnUID := uint64(9)
	metrics := []model.MinerMetrics{metric(0, 0.1, 0.4, 0.2), metric(1, 0.3, 0.2, 0.1)}
	cfg := baseConfig()
	chain := baseChain(10)
	chain.BurnUID = &burnUID
	chain.BurnRate = 0.5

	result := Compute(metrics, cfg, chain)
	require.Contains(t, result.UIDs, burnUID)
}

func TestSingleParticipantNormalizesToNeutral(t *testing.T) {
	values := []float64{0.42}
	require.Equal(t, []float64{0.5}, zscoreLogistic(values))
	require.Equal(t, []float64{0.5}, percentile(values))
}

func TestPercentileAverageRankTies(t *testing.T) {
	out := percentile([]float64{1, 2, 2, 3})
	// two equal values share the rank they'd jointly occupy
	require.Equal(t, out[1], out[2])
}

func TestConvertToUint16RoundsHalfAwayFromZero(t *testing.T) {
	uids, weights := convertToUint16([]float64{0.5, 1.0})
	require.Equal(t, []uint64{0, 1}, uids)
	require.Equal(t, uint16(32768), weights[0])
	require.Equal(t, uint16(u16Max), weights[1])
}

func TestNormalizeMaxWeightCapsAndRedistributes(t *testing.T) {
	vec := []float64{0.9, 0.05, 0.05}
	out := normalizeMaxWeight(vec, 0.5, 0)
	for _, v := range out {
		require.LessOrEqual(t, v, 0.5+waterFillEpsilon)
	}
}

func TestComputeEmptyMetricsWithoutBurnUID(t *testing.T) {
	result := Compute(nil, baseConfig(), baseChain(0))
	require.Nil(t, result.UIDs)
	require.Nil(t, result.Uint16Weights)
}
