package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/model"
)

func TestFilesystemStoreCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFilesystemStore(dir, 0)
	require.NoError(t, err)

	windowEnd := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	cp := model.CheckpointWindow{
		Manifest: model.LedgerManifest{
			SchemaVersion: model.SchemaVersion, CheckpointEpoch: 1, WindowEnd: windowEnd,
			ContentHashes: map[string]string{"roster": "abc"},
		},
		Roster:       []model.MinerRosterEntry{{MinerID: "m1", UID: 1, Hotkey: "hk1", Active: true}},
		Accumulators: []model.AccumulatorEntry{{MinerID: "m1", UID: 1}},
		ScoringConfig: model.ScoringConfigSnapshot{MinCountForZScore: 20},
	}

	id, err := st.PutCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := st.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, cp.Manifest.CheckpointEpoch, loaded.Manifest.CheckpointEpoch)
	require.Len(t, loaded.Roster, 1)
	require.Equal(t, "m1", loaded.Roster[0].MinerID)
}

func TestFilesystemStoreNoCheckpointReturnsNil(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFilesystemStore(dir, 0)
	require.NoError(t, err)
	cp, err := st.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.Nil(t, cp)
}

func TestFilesystemStoreDeltaRoundTripAndListing(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFilesystemStore(dir, 0)
	require.NoError(t, err)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	delta := model.DeltaWindow{
		Manifest: model.LedgerManifest{CheckpointEpoch: 1, WindowStart: start, WindowEnd: end},
		SettledSubmissions: []model.SettledSubmissionEntry{{MinerID: "m1", MarketID: "mkt1"}},
	}
	id, err := st.PutDelta(context.Background(), delta)
	require.NoError(t, err)

	ids, err := st.ListDeltas(context.Background(), 1, nil)
	require.NoError(t, err)
	require.Contains(t, ids, id)

	loaded, err := st.GetDelta(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.SettledSubmissions, 1)
}

func TestFilesystemStoreGetDeltaRejectsMalformedID(t *testing.T) {
	dir := t.TempDir()
	st, err := NewFilesystemStore(dir, 0)
	require.NoError(t, err)
	_, err = st.GetDelta(context.Background(), "not-a-valid-id")
	require.Error(t, err)
}
