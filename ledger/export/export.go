// Package export implements the primary-side exporter:
// export_checkpoint, export_delta, and bump_epoch. Grounded on the
// upstream sparket/validator/ledger/exporter.py LedgerExporter, with the
// SQL-query-driven primary database treated as an external DataSource
// collaborator supplied by the deployment.
package export

import (
	"context"
	"fmt"
	"time"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/ledger/codec"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/redact"
	"github.com/equa/scoring-ledger/ledger/store"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// DataSource is the upstream scoring pipeline's database, an external
// collaborator
// so the exporter can run them through the redaction filter before they
// ever become typed model structs.
type DataSource interface {
	QueryRoster(ctx context.Context) ([]map[string]any, error)
	QueryAccumulators(ctx context.Context, asOf time.Time) ([]map[string]any, error)
	QuerySettledSubmissions(ctx context.Context, since, until time.Time) ([]map[string]any, error)
	QuerySettledOutcomes(ctx context.Context, since, until time.Time) ([]map[string]any, error)
	QueryScoringConfig(ctx context.Context) (model.ScoringConfigSnapshot, error)
	QueryChainParams(ctx context.Context) (*model.ChainParamsSnapshot, error)

	// Durable ledger_state singleton.
	CurrentEpoch(ctx context.Context) (uint64, error)
	BumpEpochDurable(ctx context.Context, newEpoch uint64) error
	RecordCheckpointExported(ctx context.Context, at time.Time) error
	RecordDeltaExported(ctx context.Context, at time.Time, id string) error
}

// CodeVersionFunc resolves the running code's version string, grounded
// on the upstream _get_code_version() (git rev-parse --short HEAD).
type CodeVersionFunc func() (string, error)

type Exporter struct {
	data     DataSource
	store    store.LedgerStore
	keypair  wallet.Keypair
	version  CodeVersionFunc
	windowDays int
}

func NewExporter(data DataSource, st store.LedgerStore, kp wallet.Keypair, version CodeVersionFunc, windowDays int) *Exporter {
	return &Exporter{data: data, store: st, keypair: kp, version: version, windowDays: windowDays}
}

// WindowBoundary is the deterministic function of the rolling-window
// length and a reference time both primary and auditor can recompute
// without a side channel.
func WindowBoundary(ref time.Time, windowDays int) time.Time {
	midnight := time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, time.UTC)
	daysSinceEpoch := int(midnight.Unix() / 86400)
	aligned := daysSinceEpoch - (daysSinceEpoch % windowDays)
	return time.Unix(int64(aligned)*86400, 0).UTC()
}

func rowsToRoster(rows []map[string]any) []model.MinerRosterEntry {
	out := make([]model.MinerRosterEntry, 0, len(rows))
	for _, row := range rows {
		r := redact.Redact(row, redact.SafeMinerFields)
		out = append(out, model.MinerRosterEntry{
			MinerID: asString(r["miner_id"]),
			UID:     asUint64(r["uid"]),
			Hotkey:  asString(r["hotkey"]),
			Active:  asBool(r["active"]),
		})
	}
	return out
}

func rowsToAccumulators(rows []map[string]any) []model.AccumulatorEntry {
	out := make([]model.AccumulatorEntry, 0, len(rows))
	for _, row := range rows {
		r := redact.Redact(row, redact.SafeAccumulatorFields)
		entry := model.AccumulatorEntry{
			MinerID:    asString(r["miner_id"]),
			Hotkey:     asString(r["hotkey"]),
			UID:        asUint64(r["uid"]),
			Count:      asUint64(r["count"]),
			Brier:      asAccumulator(r["brier"]),
			FQ:         asAccumulator(r["fq"]),
			PSS:        asAccumulator(r["pss"]),
			ES:         asAccumulator(r["es"]),
			MES:        asAccumulator(r["mes"]),
			SOS:        asAccumulator(r["sos"]),
			Lead:       asAccumulator(r["lead"]),
			CalScore:   asFloat(r["cal_score"]),
			SharpScore: asFloat(r["sharp_score"]),
		}
		out = append(out, entry.DeriveMeans())
	}
	return out
}

func rowsToSubmissions(rows []map[string]any) []model.SettledSubmissionEntry {
	out := make([]model.SettledSubmissionEntry, 0, len(rows))
	for _, row := range rows {
		r := redact.Redact(row, redact.SafeSettledSubmissionFields)
		entry := model.SettledSubmissionEntry{
			MinerID: asString(r["miner_id"]), MarketID: asString(r["market_id"]),
			Side: asString(r["side"]), ImpProb: asFloat(r["imp_prob"]),
			SettledAt: asString(r["settled_at"]),
		}
		if v, ok := r["brier"]; ok {
			f := asFloat(v)
			entry.Brier = &f
		}
		if v, ok := r["pss"]; ok {
			f := asFloat(v)
			entry.PSS = &f
		}
		out = append(out, entry)
	}
	return out
}

func rowsToOutcomes(rows []map[string]any) []model.OutcomeEntry {
	out := make([]model.OutcomeEntry, 0, len(rows))
	for _, row := range rows {
		r := redact.Redact(row, redact.SafeOutcomeFields)
		entry := model.OutcomeEntry{
			MarketID: asString(r["market_id"]), EventID: asString(r["event_id"]),
			SettledAt: asString(r["settled_at"]),
		}
		if v, ok := r["result"]; ok {
			s := asString(v)
			entry.Result = &s
		}
		out = append(out, entry)
	}
	return out
}

// ExportCheckpoint implements export_checkpoint.
func (e *Exporter) ExportCheckpoint(ctx context.Context, asOf *time.Time, recompute *model.RecomputeRecord) (model.CheckpointWindow, error) {
	ref := time.Now().UTC()
	if asOf != nil {
		ref = *asOf
	}
	windowEnd := WindowBoundary(ref, e.windowDays)
	windowStart := windowEnd.AddDate(0, 0, -e.windowDays)

	rosterRows, err := e.data.QueryRoster(ctx)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query roster")
	}
	accRows, err := e.data.QueryAccumulators(ctx, windowEnd)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query accumulators")
	}
	scoringConfig, err := e.data.QueryScoringConfig(ctx)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query scoring config")
	}
	chainParams, err := e.data.QueryChainParams(ctx)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query chain params")
	}
	epoch, err := e.data.CurrentEpoch(ctx)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query current epoch")
	}

	roster := rowsToRoster(rosterRows)
	accumulators := rowsToAccumulators(accRows)

	for _, row := range rosterRows {
		if redact.ContainsTier3(row) {
			return model.CheckpointWindow{}, errkind.New(errkind.Integrity, "roster row contains tier-3 field")
		}
	}
	for _, row := range accRows {
		if redact.ContainsTier3(row) {
			return model.CheckpointWindow{}, errkind.New(errkind.Integrity, "accumulator row contains tier-3 field")
		}
	}

	rosterHash, err := codec.HashNamedSection(roster)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Integrity, err, "hash roster")
	}
	accHash, err := codec.HashNamedSection(accumulators)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Integrity, err, "hash accumulators")
	}
	cfgHash, err := codec.HashSection(scoringConfig)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Integrity, err, "hash scoring config")
	}

	manifest := model.LedgerManifest{
		SchemaVersion:   model.SchemaVersion,
		WindowType:      model.WindowCheckpoint,
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		CheckpointEpoch: epoch,
		ContentHashes: map[string]string{
			"roster": rosterHash, "accumulators": accHash, "scoring_config": cfgHash,
		},
		CreatedAt:       time.Now().UTC(),
		RecomputeRecord: recompute,
	}
	manifest, err = codec.SignManifest(manifest, e.keypair)
	if err != nil {
		return model.CheckpointWindow{}, err
	}

	cp := model.CheckpointWindow{
		Manifest: manifest, Roster: roster, Accumulators: accumulators,
		ScoringConfig: scoringConfig, ChainParams: chainParams,
	}
	if _, err := e.store.PutCheckpoint(ctx, cp); err != nil {
		return model.CheckpointWindow{}, err
	}
	if err := e.data.RecordCheckpointExported(ctx, time.Now().UTC()); err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "record checkpoint exported")
	}
	return cp, nil
}

// ExportDelta implements export_delta.
func (e *Exporter) ExportDelta(ctx context.Context, since time.Time, until *time.Time) (model.DeltaWindow, error) {
	end := time.Now().UTC()
	if until != nil {
		end = *until
	}
	epoch, err := e.data.CurrentEpoch(ctx)
	if err != nil {
		return model.DeltaWindow{}, errkind.Wrap(errkind.Transient, err, "query current epoch")
	}
	subRows, err := e.data.QuerySettledSubmissions(ctx, since, end)
	if err != nil {
		return model.DeltaWindow{}, errkind.Wrap(errkind.Transient, err, "query settled submissions")
	}
	outRows, err := e.data.QuerySettledOutcomes(ctx, since, end)
	if err != nil {
		return model.DeltaWindow{}, errkind.Wrap(errkind.Transient, err, "query settled outcomes")
	}

	for _, row := range subRows {
		if redact.ContainsTier3(row) {
			return model.DeltaWindow{}, errkind.New(errkind.Integrity, "settled submission row contains tier-3 field")
		}
	}

	submissions := rowsToSubmissions(subRows)
	outcomes := rowsToOutcomes(outRows)

	subHash, err := codec.HashNamedSection(submissions)
	if err != nil {
		return model.DeltaWindow{}, err
	}
	outHash, err := codec.HashNamedSection(outcomes)
	if err != nil {
		return model.DeltaWindow{}, err
	}

	manifest := model.LedgerManifest{
		SchemaVersion:   model.SchemaVersion,
		WindowType:      model.WindowDelta,
		WindowStart:     since,
		WindowEnd:       end,
		CheckpointEpoch: epoch,
		ContentHashes: map[string]string{
			"settled_submissions": subHash, "settled_outcomes": outHash,
		},
		CreatedAt: time.Now().UTC(),
	}
	manifest, err = codec.SignManifest(manifest, e.keypair)
	if err != nil {
		return model.DeltaWindow{}, err
	}

	d := model.DeltaWindow{Manifest: manifest, SettledSubmissions: submissions, SettledOutcomes: outcomes}
	id, err := e.store.PutDelta(ctx, d)
	if err != nil {
		return model.DeltaWindow{}, err
	}
	if err := e.data.RecordDeltaExported(ctx, time.Now().UTC(), id); err != nil {
		return model.DeltaWindow{}, errkind.Wrap(errkind.Transient, err, "record delta exported")
	}
	return d, nil
}

// BumpEpoch implements bump_epoch.
func (e *Exporter) BumpEpoch(ctx context.Context, reasonCode model.RecomputeReasonCode, reasonDetail string, affectedEventIDs []string, severity model.Severity) (model.CheckpointWindow, error) {
	if !model.ValidReasonCodes[reasonCode] {
		return model.CheckpointWindow{}, errkind.New(errkind.Configuration, fmt.Sprintf("invalid reason code %q", reasonCode))
	}
	if !model.ValidSeverities[severity] {
		return model.CheckpointWindow{}, errkind.New(errkind.Configuration, fmt.Sprintf("invalid severity %q", severity))
	}
	if reasonDetail == "" {
		return model.CheckpointWindow{}, errkind.New(errkind.Policy, "reason_detail must be non-empty")
	}
	currentEpoch, err := e.data.CurrentEpoch(ctx)
	if err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "query current epoch")
	}
	newEpoch := currentEpoch + 1
	if err := e.data.BumpEpochDurable(ctx, newEpoch); err != nil {
		return model.CheckpointWindow{}, errkind.Wrap(errkind.Transient, err, "bump epoch durable")
	}
	version, err := e.version()
	if err != nil {
		version = "unknown"
	}
	record := &model.RecomputeRecord{
		Epoch: newEpoch, PreviousEpoch: currentEpoch,
		ReasonCode: reasonCode, ReasonDetail: reasonDetail,
		AffectedEventIDs: affectedEventIDs, Severity: severity,
		Timestamp: time.Now().UTC(), CodeVersion: version,
	}
	return e.ExportCheckpoint(ctx, nil, record)
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	default:
		return 0
	}
}
func asUint64(v any) uint64 {
	switch t := v.(type) {
	case float64:
		return uint64(t)
	case int:
		return uint64(t)
	case uint64:
		return t
	default:
		return 0
	}
}
func asAccumulator(v any) model.MetricAccumulator {
	m, ok := v.(map[string]any)
	if !ok {
		return model.MetricAccumulator{}
	}
	return model.MetricAccumulator{WS: asFloat(m["ws"]), WT: asFloat(m["wt"])}
}
