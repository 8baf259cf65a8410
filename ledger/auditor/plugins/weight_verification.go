// Package plugins holds the required TaskHandler implementations. This
// file restores sparket/validator/auditor/plugins/weight_verification.py:
// independent Brier recomputation, shared compute_weights re-derivation,
// cosine-similarity comparison against the primary's on-chain vector,
// and a conditional set_weights call.
package plugins

import (
	"math"

	"github.com/equa/scoring-ledger/ledger/auditor"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/weights"
)

const brierTolerance = 1e-6

type WeightVerificationHandler struct {
	version string
}

func NewWeightVerificationHandler(version string) *WeightVerificationHandler {
	return &WeightVerificationHandler{version: version}
}

func (h *WeightVerificationHandler) Name() string    { return "weight_verification" }
func (h *WeightVerificationHandler) Version() string { return h.version }

func (h *WeightVerificationHandler) OnCycle(ctx auditor.AuditorContext) auditor.TaskResult {
	if ctx.Checkpoint == nil {
		return auditor.TaskResult{Name: h.Name(), Status: "pass", Evidence: map[string]any{"reason": "no checkpoint"}}
	}

	metrics := make([]model.MinerMetrics, 0, len(ctx.Checkpoint.Accumulators))
	for _, a := range ctx.Checkpoint.Accumulators {
		metrics = append(metrics, model.FromAccumulator(a))
	}

	checks, mismatches := 0, 0
	for _, d := range ctx.AcceptedDeltas {
		outcomeByMarket := make(map[string]model.OutcomeEntry, len(d.SettledOutcomes))
		for _, o := range d.SettledOutcomes {
			outcomeByMarket[o.MarketID] = o
		}
		for _, sub := range d.SettledSubmissions {
			outcome, ok := outcomeByMarket[sub.MarketID]
			if !ok || outcome.Result == nil || sub.Brier == nil {
				continue
			}
			actual := 0.0
			if sub.Side == *outcome.Result {
				actual = 1.0
			}
			expected := (sub.ImpProb - actual) * (sub.ImpProb - actual)
			checks++
			if math.Abs(expected-*sub.Brier) > brierTolerance {
				mismatches++
			}
		}
	}

	chainParams := chainParamsFallback(ctx)
	result := weights.Compute(metrics, ctx.Checkpoint.ScoringConfig, chainParams)

	primaryVec := fetchPrimaryWeightVector(ctx)
	localVec := densify(result.UIDs, result.Uint16Weights, chainParams.NNeurons)
	cosine := cosineSimilarity(localVec, primaryVec)
	tolerance := ctx.WeightTolerance
	if tolerance == 0 {
		tolerance = 0.001
	}
	matched := cosine >= 1-tolerance

	evidence := map[string]any{
		"brier_checks": checks, "brier_mismatches": mismatches,
		"cosine_similarity": cosine, "matched": matched,
	}

	status := "fail"
	if matched {
		status = "pass"
		if ctx.Subtensor != nil {
			ok, msg, err := ctx.Subtensor.SetWeights(ctx.WalletHotkey, ctx.NetUID, result.UIDs, result.Uint16Weights)
			evidence["set_weights_ok"] = ok
			evidence["set_weights_message"] = msg
			if err != nil {
				evidence["set_weights_error"] = err.Error()
			}
		}
	}

	taskResult := auditor.TaskResult{Name: h.Name(), Status: status, Evidence: evidence}
	if ctx.WalletSign != nil {
		if att, err := auditor.CreateAttestation(h.Name(), h.Version(), status, evidence, signerAdapter{ctx.WalletHotkey, ctx.WalletSign}); err == nil {
			taskResult.Attestation = &att
		}
	}
	return taskResult
}

// chainParamsFallback prefers the checkpoint's chain params; otherwise
// synthesises them from the live chain state.
func chainParamsFallback(ctx auditor.AuditorContext) model.ChainParamsSnapshot {
	if ctx.Checkpoint.ChainParams != nil {
		return *ctx.Checkpoint.ChainParams
	}
	n := 0
	if ctx.Metagraph != nil {
		n = ctx.Metagraph.N()
	}
	maxWeight := 1.0
	minAllowed := 0
	if ctx.Subtensor != nil {
		if v, err := ctx.Subtensor.MaxWeightLimit(ctx.NetUID); err == nil {
			maxWeight = v
		}
		if v, err := ctx.Subtensor.MinAllowedWeights(ctx.NetUID); err == nil {
			minAllowed = v
		}
	}
	return model.ChainParamsSnapshot{MaxWeightLimit: maxWeight, MinAllowedWeights: minAllowed, NNeurons: n}
}

func fetchPrimaryWeightVector(ctx auditor.AuditorContext) []float64 {
	if ctx.Metagraph == nil {
		return nil
	}
	hotkeys := ctx.Metagraph.Hotkeys()
	weightsMatrix := ctx.Metagraph.Weights()
	n := ctx.Metagraph.N()
	primaryUID := -1
	for i, hk := range hotkeys {
		if hk == ctx.Checkpoint.Manifest.PrimaryHotkey {
			primaryUID = i
			break
		}
	}
	out := make([]float64, n)
	if primaryUID < 0 || primaryUID >= len(weightsMatrix) {
		return out
	}
	row := weightsMatrix[primaryUID]
	for i, w := range row {
		if i < n {
			out[i] = float64(w)
		}
	}
	return out
}

func densify(uids []uint64, w []uint16, n int) []float64 {
	out := make([]float64, n)
	for i, uid := range uids {
		if int(uid) < n {
			out[uid] = float64(w[i])
		}
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

type signerAdapter struct {
	hotkey string
	sign   func([]byte) (string, error)
}

func (s signerAdapter) Hotkey() string                           { return s.hotkey }
func (s signerAdapter) Sign(message []byte) (string, error)      { return s.sign(message) }
