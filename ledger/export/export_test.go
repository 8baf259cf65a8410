package export

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/codec"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/store"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

type fakeDataSource struct {
	epoch   uint64
	roster  []map[string]any
	accs    []map[string]any
	subs    []map[string]any
	outs    []map[string]any
}

func (f *fakeDataSource) QueryRoster(ctx context.Context) ([]map[string]any, error) { return f.roster, nil }
func (f *fakeDataSource) QueryAccumulators(ctx context.Context, asOf time.Time) ([]map[string]any, error) {
	return f.accs, nil
}
func (f *fakeDataSource) QuerySettledSubmissions(ctx context.Context, since, until time.Time) ([]map[string]any, error) {
	return f.subs, nil
}
func (f *fakeDataSource) QuerySettledOutcomes(ctx context.Context, since, until time.Time) ([]map[string]any, error) {
	return f.outs, nil
}
func (f *fakeDataSource) QueryScoringConfig(ctx context.Context) (model.ScoringConfigSnapshot, error) {
	return model.ScoringConfigSnapshot{MinCountForZScore: 20}, nil
}
func (f *fakeDataSource) QueryChainParams(ctx context.Context) (*model.ChainParamsSnapshot, error) {
	return nil, nil
}
func (f *fakeDataSource) CurrentEpoch(ctx context.Context) (uint64, error) { return f.epoch, nil }
func (f *fakeDataSource) BumpEpochDurable(ctx context.Context, newEpoch uint64) error {
	f.epoch = newEpoch
	return nil
}
func (f *fakeDataSource) RecordCheckpointExported(ctx context.Context, at time.Time) error { return nil }
func (f *fakeDataSource) RecordDeltaExported(ctx context.Context, at time.Time, id string) error {
	return nil
}

func testKeypair(t *testing.T) wallet.Keypair {
	t.Helper()
	priv := make([]byte, 32)
	for i := range priv {
		priv[i] = byte(i + 3)
	}
	kp, err := wallet.NewKeypair(priv)
	require.NoError(t, err)
	return kp
}

func TestExportCheckpointProjectsRowsAndSigns(t *testing.T) {
	data := &fakeDataSource{
		epoch: 1,
		roster: []map[string]any{{"miner_id": "m1", "uid": 1.0, "hotkey": "hk1", "active": true}},
		accs: []map[string]any{{
			"miner_id": "m1", "uid": 1.0, "hotkey": "hk1", "count": 5.0,
			"brier": map[string]any{"ws": 0.4, "wt": 2.0},
		}},
	}
	st, err := store.NewFilesystemStore(t.TempDir(), 0)
	require.NoError(t, err)
	kp := testKeypair(t)
	exp := NewExporter(data, st, kp, func() (string, error) { return "test-version", nil }, 1)

	cp, err := exp.ExportCheckpoint(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, cp.Roster, 1)
	require.Equal(t, "m1", cp.Roster[0].MinerID)
	require.InDelta(t, 0.2, cp.Accumulators[0].BrierMean, 1e-9)
	require.True(t, codec.VerifyManifest(cp.Manifest, wallet.DefaultVerifier()))
}

func TestExportCheckpointRejectsTier3Contamination(t *testing.T) {
	data := &fakeDataSource{
		epoch:  1,
		roster: []map[string]any{{"miner_id": "m1", "closing_line": 1.91}},
	}
	st, err := store.NewFilesystemStore(t.TempDir(), 0)
	require.NoError(t, err)
	exp := NewExporter(data, st, testKeypair(t), func() (string, error) { return "v", nil }, 1)
	_, err = exp.ExportCheckpoint(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestBumpEpochRejectsEmptyReasonDetail(t *testing.T) {
	data := &fakeDataSource{epoch: 1}
	st, err := store.NewFilesystemStore(t.TempDir(), 0)
	require.NoError(t, err)
	exp := NewExporter(data, st, testKeypair(t), func() (string, error) { return "v", nil }, 1)
	_, err = exp.BumpEpoch(context.Background(), model.ReasonScoringBug, "", nil, model.SeverityBugfix)
	require.Error(t, err)
}

func TestBumpEpochRejectsInvalidReasonCode(t *testing.T) {
	data := &fakeDataSource{epoch: 1}
	st, err := store.NewFilesystemStore(t.TempDir(), 0)
	require.NoError(t, err)
	exp := NewExporter(data, st, testKeypair(t), func() (string, error) { return "v", nil }, 1)
	_, err = exp.BumpEpoch(context.Background(), model.RecomputeReasonCode("NOT_REAL"), "detail", nil, model.SeverityBugfix)
	require.Error(t, err)
}

func TestBumpEpochAdvancesEpochAndCarriesRecomputeRecord(t *testing.T) {
	data := &fakeDataSource{epoch: 1}
	st, err := store.NewFilesystemStore(t.TempDir(), 0)
	require.NoError(t, err)
	exp := NewExporter(data, st, testKeypair(t), func() (string, error) { return "v", nil }, 1)
	cp, err := exp.BumpEpoch(context.Background(), model.ReasonManualCorrection, "fixed a bug", []string{"evt1"}, model.SeverityCorrection)
	require.NoError(t, err)
	require.Equal(t, uint64(2), cp.Manifest.CheckpointEpoch)
	require.NotNil(t, cp.Manifest.RecomputeRecord)
	require.Equal(t, model.ReasonManualCorrection, cp.Manifest.RecomputeRecord.ReasonCode)
}

func TestWindowBoundaryIsDeterministic(t *testing.T) {
	ref := time.Date(2026, 3, 17, 14, 22, 0, 0, time.UTC)
	a := WindowBoundary(ref, 7)
	b := WindowBoundary(ref, 7)
	require.Equal(t, a, b)
}
