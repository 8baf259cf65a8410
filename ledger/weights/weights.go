// Package weights implements compute_weights: the pure, deterministic
// function shared byte-for-byte between the primary and every auditor.
// It is grounded on the upstream
// sparket/validator/ledger/compute_weights.py, translated into an
// explicit, allocation-light Go pipeline with no hidden state.
package weights

import (
	"math"
	"sort"

	"github.com/equa/scoring-ledger/ledger/model"
)

const u16Max = 65535

// WeightResult mirrors the upstream WeightResult dataclass: the final
// quantized vector plus the full audit trail a verifier needs.
type WeightResult struct {
	UIDs            []uint64
	Uint16Weights   []uint16
	SkillScores     map[uint64]float64
	RawWeights      map[uint64]float64
	DimensionScores map[uint64][4]float64 // forecast, skill, econ, info
}

// Compute runs the full normalize-combine-allocate-cap-quantize pipeline.
// metrics need not be pre-sorted; Compute sorts a copy by uid ascending.
func Compute(metrics []model.MinerMetrics, config model.ScoringConfigSnapshot, chain model.ChainParamsSnapshot) WeightResult {
	sorted := append([]model.MinerMetrics(nil), metrics...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].UID < sorted[j].UID })

	n := len(sorted)
	fqNorm := make([]float64, n)
	pssNorm := make([]float64, n)
	esNorm := make([]float64, n)
	calNorm := make([]float64, n)
	mesNorm := make([]float64, n)
	sosNorm := make([]float64, n)
	leadNorm := make([]float64, n)

	for i, m := range sorted {
		fqNorm[i] = clip((sanitize(m.FQRaw)+1)/2, 0, 1)
		calNorm[i] = clip(sanitize(m.CalScore), 0, 1)
		mesNorm[i] = clip(sanitize(m.MESMean), 0, 1)
		sosNorm[i] = clip(sanitize(m.SOSScore), 0, 1)
		leadNorm[i] = clip(sanitize(m.LeadScore), 0, 1)
	}

	pssRaw := extract(sorted, func(m model.MinerMetrics) float64 { return m.PSSMean })
	esRaw := extract(sorted, func(m model.MinerMetrics) float64 { return m.ESAdj })
	if n >= config.MinCountForZScore {
		copy(pssNorm, zscoreLogistic(pssRaw))
		copy(esNorm, zscoreLogistic(esRaw))
	} else {
		copy(pssNorm, percentile(pssRaw))
		copy(esNorm, percentile(esRaw))
	}

	dimensionScores := make(map[uint64][4]float64, n)
	skillScores := make(map[uint64]float64, n)
	dw := config.DimensionWeights
	sw := config.SkillScoreWeights

	dense := make([]float64, chain.NNeurons)
	for i, m := range sorted {
		forecast := fqNorm[i]*dw["w_fq"] + calNorm[i]*dw["w_cal"]
		skill := pssNorm[i]
		econ := esNorm[i]*dw["w_edge"] + mesNorm[i]*dw["w_mes"]
		info := sosNorm[i]*dw["w_sos"] + leadNorm[i]*dw["w_lead"]

		skillScore := forecast*sw["w_outcome_accuracy"] + skill*sw["w_outcome_relative"] + econ*sw["w_odds_edge"] + info*sw["w_info_adv"]
		if math.IsNaN(skillScore) {
			skillScore = 0
		}
		dimensionScores[m.UID] = [4]float64{forecast, skill, econ, info}
		skillScores[m.UID] = skillScore
		if int(m.UID) < len(dense) {
			dense[m.UID] = skillScore
		}
	}

	l1 := 0.0
	for _, v := range dense {
		l1 += math.Abs(v)
	}

	if l1 == 0 {
		if chain.BurnUID != nil && int(*chain.BurnUID) < len(dense) {
			dense = make([]float64, chain.NNeurons)
			dense[*chain.BurnUID] = 1.0
		} else {
			return WeightResult{
				UIDs: nil, Uint16Weights: nil,
				SkillScores: skillScores, RawWeights: map[uint64]float64{},
				DimensionScores: dimensionScores,
			}
		}
	} else {
		for i := range dense {
			dense[i] /= l1
		}
		if chain.BurnRate > 0 && chain.BurnUID != nil && int(*chain.BurnUID) < len(dense) {
			for i := range dense {
				dense[i] *= 1 - chain.BurnRate
			}
			dense[*chain.BurnUID] = chain.BurnRate
		}
	}

	dense = normalizeMaxWeight(dense, chain.MaxWeightLimit, chain.MinAllowedWeights)

	rawWeights := make(map[uint64]float64, n)
	for uid := range skillScores {
		if int(uid) < len(dense) {
			rawWeights[uid] = dense[uid]
		}
	}

	uids, u16 := convertToUint16(dense)
	return WeightResult{
		UIDs: uids, Uint16Weights: u16,
		SkillScores: skillScores, RawWeights: rawWeights,
		DimensionScores: dimensionScores,
	}
}

func sanitize(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}

func clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func extract(ms []model.MinerMetrics, f func(model.MinerMetrics) float64) []float64 {
	out := make([]float64, len(ms))
	for i, m := range ms {
		out[i] = sanitize(f(m))
	}
	return out
}

// zscoreLogistic computes the logistic squashing of each value's
// population z-score (ddof = 0). A single participant normalizes to a
// neutral 0.5 rather than dividing by zero.
func zscoreLogistic(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[0] = 0.5
		return out
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(n)
	std := math.Sqrt(variance)
	for i, v := range values {
		var z float64
		if std == 0 {
			z = 0
		} else {
			z = (v - mean) / std
		}
		out[i] = 1 / (1 + math.Exp(-z))
	}
	return out
}

// percentile maps each value to its empirical-CDF rank in [0,1], using
// average-rank tie-breaking for equal values.
func percentile(values []float64) []float64 {
	n := len(values)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	if n == 1 {
		out[0] = 0.5
		return out
	}
	for i, v := range values {
		less, equal := 0, 0
		for _, w := range values {
			switch {
			case w < v:
				less++
			case w == v:
				equal++
			}
		}
		// average rank among ties, 0-indexed, then scaled to [0,1]
		rank := float64(less) + float64(equal-1)/2.0
		out[i] = rank / float64(n-1)
	}
	return out
}

const waterFillEpsilon = 1e-7
const minAllowedPad = 1e-5

// normalizeMaxWeight is the water-filling cap-and-renormalize projection,
// grounded on the upstream compute_weights._normalize_max_weight.
func normalizeMaxWeight(vec []float64, maxWeightLimit float64, minAllowedWeights int) []float64 {
	if len(vec) == 0 || maxWeightLimit <= 0 || maxWeightLimit >= 1 {
		return vec
	}
	out := append([]float64(nil), vec...)

	nonZero := 0
	for _, v := range out {
		if v > 0 {
			nonZero++
		}
	}
	if nonZero < minAllowedWeights {
		for i := range out {
			out[i] += minAllowedPad
		}
	}

	sum := 0.0
	for _, v := range out {
		sum += v
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}

	for iter := 0; iter < 100; iter++ {
		maxV := 0.0
		for _, v := range out {
			if v > maxV {
				maxV = v
			}
		}
		if maxV <= maxWeightLimit+waterFillEpsilon {
			break
		}
		clipped := 0.0
		clippedCount := 0
		for i, v := range out {
			if v > maxWeightLimit {
				clipped += v - maxWeightLimit
				out[i] = maxWeightLimit
				clippedCount++
			}
		}
		if clippedCount == 0 || clippedCount == len(out) {
			break
		}
		// redistribute the clipped mass across the entries still below
		// the cap, proportionally to their current value.
		belowSum := 0.0
		for i, v := range out {
			if v < maxWeightLimit {
				belowSum += v
				_ = i
			}
		}
		if belowSum == 0 {
			break
		}
		for i, v := range out {
			if v < maxWeightLimit {
				out[i] = v + clipped*(v/belowSum)
			}
		}
	}
	return out
}

// convertToUint16 scales vec by U16_MAX/max(vec), rounds half-away-from-
// zero, and drops zero entries.
func convertToUint16(vec []float64) ([]uint64, []uint16) {
	maxV := 0.0
	for _, v := range vec {
		if v > maxV {
			maxV = v
		}
	}
	if maxV == 0 {
		return nil, nil
	}
	var uids []uint64
	var weights []uint16
	for uid, v := range vec {
		scaled := v * u16Max / maxV
		rounded := math.Floor(scaled + 0.5)
		if rounded <= 0 {
			continue
		}
		if rounded > u16Max {
			rounded = u16Max
		}
		uids = append(uids, uint64(uid))
		weights = append(weights, uint16(rounded))
	}
	return uids, weights
}
