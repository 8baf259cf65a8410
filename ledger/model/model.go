// Package model holds the typed ledger records: manifests, checkpoint and
// delta windows, accumulator entries, and the scoring/chain config
// snapshots carried inside them. Field names and JSON tags follow the
// wire shapes exported by the upstream scoring pipeline, not Go naming
// convention, because these structs round-trip through canonical JSON
// that auditors re-hash byte-for-byte.
package model

import "time"

const SchemaVersion = 1

type WindowType string

const (
	WindowCheckpoint WindowType = "checkpoint"
	WindowDelta      WindowType = "delta"
)

// RecomputeReasonCode is the closed enum of reasons a primary may bump
// checkpoint_epoch, restored from the upstream scoring pipeline's own
// enum.
type RecomputeReasonCode string

const (
	ReasonSDIOFeedError         RecomputeReasonCode = "SDIO_FEED_ERROR"
	ReasonSDIOOutage            RecomputeReasonCode = "SDIO_OUTAGE"
	ReasonScoringBug            RecomputeReasonCode = "SCORING_BUG"
	ReasonDBCorruption          RecomputeReasonCode = "DB_CORRUPTION"
	ReasonDBMigration           RecomputeReasonCode = "DB_MIGRATION"
	ReasonConfigChange          RecomputeReasonCode = "CONFIG_CHANGE"
	ReasonManualCorrection      RecomputeReasonCode = "MANUAL_CORRECTION"
	ReasonScheduledRecalibration RecomputeReasonCode = "SCHEDULED_RECALIBRATION"
)

var ValidReasonCodes = map[RecomputeReasonCode]bool{
	ReasonSDIOFeedError: true, ReasonSDIOOutage: true, ReasonScoringBug: true,
	ReasonDBCorruption: true, ReasonDBMigration: true, ReasonConfigChange: true,
	ReasonManualCorrection: true, ReasonScheduledRecalibration: true,
}

type Severity string

const (
	SeverityCorrection Severity = "correction"
	SeverityBugfix     Severity = "bugfix"
	SeverityRecovery   Severity = "recovery"
)

var ValidSeverities = map[Severity]bool{
	SeverityCorrection: true, SeverityBugfix: true, SeverityRecovery: true,
}

// MetricAccumulator is the weighted-sum/weight-sum pair every per-metric
// mean is derived from. Add implements the decayed-accumulator update
// shape used by the upstream rolling-aggregate job, exported here so
// tests and exporters can build fixtures identically instead of each
// hand-rolling the update.
type MetricAccumulator struct {
	WS float64 `json:"ws"`
	WT float64 `json:"wt"`
}

func (m *MetricAccumulator) Add(value, decayWeight float64) {
	m.WS += value * decayWeight
	m.WT += decayWeight
}

// Mean returns ws/wt, or fallback if wt == 0 (the documented "numeric
// fallback" error kind: not an error, silent).
func (m MetricAccumulator) Mean(fallback float64) float64 {
	if m.WT == 0 {
		return fallback
	}
	return m.WS / m.WT
}

// AccumulatorEntry holds the seven tracked metrics for one participant
// plus their derived means, which auditors independently re-derive and
// compare.
type AccumulatorEntry struct {
	MinerID string `json:"miner_id"`
	Hotkey  string `json:"hotkey"`
	UID     uint64 `json:"uid"`
	Count   uint64 `json:"count"`

	Brier MetricAccumulator `json:"brier"`
	FQ    MetricAccumulator `json:"fq"`
	PSS   MetricAccumulator `json:"pss"`
	ES    MetricAccumulator `json:"es"`
	MES   MetricAccumulator `json:"mes"`
	SOS   MetricAccumulator `json:"sos"`
	Lead  MetricAccumulator `json:"lead"`

	BrierMean float64 `json:"brier_mean"`
	FQRaw     float64 `json:"fq_raw"`
	PSSMean   float64 `json:"pss_mean"`
	ESAdj     float64 `json:"es_adj"`
	MESMean   float64 `json:"mes_mean"`
	SOSScore  float64 `json:"sos_score"`
	LeadScore float64 `json:"lead_score"`
	CalScore  float64 `json:"cal_score"`
	SharpScore float64 `json:"sharp_score"`
}

// DeriveMeans recomputes all derived_mean fields from the accumulator
// pairs using the documented per-metric fallback defaults, and returns a
// copy with them populated — the operation both the exporter and the
// auditor must produce byte-identical results from.
func (a AccumulatorEntry) DeriveMeans() AccumulatorEntry {
	out := a
	out.BrierMean = a.Brier.Mean(0.0)
	out.FQRaw = a.FQ.Mean(0.0)
	out.PSSMean = a.PSS.Mean(0.0)
	out.ESAdj = a.ES.Mean(0.0)
	out.MESMean = a.MES.Mean(0.5)
	out.SOSScore = a.SOS.Mean(0.5)
	out.LeadScore = a.Lead.Mean(0.5)
	// cal_score and sharp_score have no matching accumulator pair in the
	// tracked set; they default to the neutral 0.5 fallback when absent.
	if out.CalScore == 0 {
		out.CalScore = 0.5
	}
	if out.SharpScore == 0 {
		out.SharpScore = 0.5
	}
	return out
}

type MinerRosterEntry struct {
	MinerID string `json:"miner_id"`
	UID     uint64 `json:"uid"`
	Hotkey  string `json:"hotkey"`
	Active  bool   `json:"active"`
}

// ScoringConfigSnapshot is the parameter object carried inside a
// checkpoint window: the four well-known keys plus min_count_for_zscore.
// It has no catch-all field, so keys other than these are dropped when a
// snapshot is decoded and are not carried into its section hash.
type ScoringConfigSnapshot struct {
	DimensionWeights  map[string]float64 `json:"dimension_weights"`
	SkillScoreWeights map[string]float64 `json:"skill_score_weights"`
	Normalization     map[string]any     `json:"normalization,omitempty"`
	WeightEmission    map[string]any     `json:"weight_emission,omitempty"`
	MinCountForZScore int                `json:"min_count_for_zscore"`
}

type ChainParamsSnapshot struct {
	BurnRate         float64 `json:"burn_rate"`
	BurnUID          *uint64 `json:"burn_uid,omitempty"`
	MaxWeightLimit   float64 `json:"max_weight_limit"`
	MinAllowedWeights int    `json:"min_allowed_weights"`
	NNeurons         int     `json:"n_neurons"`
}

type SettledSubmissionEntry struct {
	MinerID   string   `json:"miner_id"`
	MarketID  string   `json:"market_id"`
	Side      string   `json:"side"`
	ImpProb   float64  `json:"imp_prob"`
	Brier     *float64 `json:"brier,omitempty"`
	PSS       *float64 `json:"pss,omitempty"`
	SettledAt string   `json:"settled_at"`
}

type OutcomeEntry struct {
	MarketID  string  `json:"market_id"`
	EventID   string  `json:"event_id"`
	Result    *string `json:"result,omitempty"`
	ScoreHome *int    `json:"score_home,omitempty"`
	ScoreAway *int    `json:"score_away,omitempty"`
	SettledAt string  `json:"settled_at"`
}

type RecomputeRecord struct {
	Epoch             uint64              `json:"epoch"`
	PreviousEpoch     uint64              `json:"previous_epoch"`
	ReasonCode        RecomputeReasonCode `json:"reason_code"`
	ReasonDetail      string              `json:"reason_detail"`
	AffectedEventIDs  []string            `json:"affected_event_ids"`
	Severity          Severity            `json:"severity"`
	Timestamp         time.Time           `json:"timestamp"`
	CodeVersion       string              `json:"code_version"`
}

// LedgerManifest is the signed header of every window. Signature is
// computed over the canonical form of the manifest with this field
// zeroed (see ledger/codec and ledger/wallet).
type LedgerManifest struct {
	SchemaVersion    int               `json:"schema_version"`
	WindowType       WindowType        `json:"window_type"`
	WindowStart      time.Time         `json:"window_start"`
	WindowEnd        time.Time         `json:"window_end"`
	CheckpointEpoch  uint64            `json:"checkpoint_epoch"`
	ContentHashes    map[string]string `json:"content_hashes"`
	PrimaryHotkey    string            `json:"primary_hotkey"`
	Signature        string            `json:"signature"`
	CreatedAt        time.Time         `json:"created_at"`
	RecomputeRecord  *RecomputeRecord  `json:"recompute_record,omitempty"`
}

// CheckpointWindow is the tagged Checkpoint arm of the Window variant.
type CheckpointWindow struct {
	Manifest      LedgerManifest          `json:"manifest"`
	Roster        []MinerRosterEntry      `json:"roster"`
	Accumulators  []AccumulatorEntry      `json:"accumulators"`
	ScoringConfig ScoringConfigSnapshot   `json:"scoring_config"`
	ChainParams   *ChainParamsSnapshot    `json:"chain_params,omitempty"`
}

type DeltaWindow struct {
	Manifest          LedgerManifest           `json:"manifest"`
	SettledSubmissions []SettledSubmissionEntry `json:"settled_submissions"`
	SettledOutcomes    []OutcomeEntry           `json:"settled_outcomes"`
}

// Window is the tagged variant over the two window shapes, replacing
// duck-typed dispatch on window_type with a single accessor any caller
// can use regardless of concrete kind.
type Window struct {
	Checkpoint *CheckpointWindow
	Delta      *DeltaWindow
}

// ManifestOf returns the manifest shared by whichever arm is populated.
func (w Window) ManifestOf() LedgerManifest {
	if w.Checkpoint != nil {
		return w.Checkpoint.Manifest
	}
	return w.Delta.Manifest
}

// MinerMetrics holds the derived rolling means compute_weights actually
// consumes — identical whether sourced from the primary's rolling-score
// table directly or re-derived from an AccumulatorEntry on the auditor.
type MinerMetrics struct {
	UID        uint64
	Hotkey     string
	BrierMean  float64
	FQRaw      float64
	PSSMean    float64
	ESAdj      float64
	MESMean    float64
	SOSScore   float64
	LeadScore  float64
	CalScore   float64
	SharpScore float64
}

// FromAccumulator builds MinerMetrics from an AccumulatorEntry, deriving
// the means afresh with DeriveMeans, the auditor's path into
// compute_weights.
func FromAccumulator(a AccumulatorEntry) MinerMetrics {
	d := a.DeriveMeans()
	return MinerMetrics{
		UID: d.UID, Hotkey: d.Hotkey,
		BrierMean: d.BrierMean, FQRaw: d.FQRaw, PSSMean: d.PSSMean,
		ESAdj: d.ESAdj, MESMean: d.MESMean, SOSScore: d.SOSScore,
		LeadScore: d.LeadScore, CalScore: d.CalScore, SharpScore: d.SharpScore,
	}
}
