package pebblestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/equa/scoring-ledger/ledger/model"
)

func TestCheckpointRoundTrip(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer s.Close()

	cp := model.CheckpointWindow{
		Manifest: model.LedgerManifest{
			CheckpointEpoch: 1,
			WindowEnd:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Roster: []model.MinerRosterEntry{{MinerID: "m1", UID: 1}},
	}
	id, err := s.PutCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	loaded, err := s.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, uint64(1), loaded.Manifest.CheckpointEpoch)
	require.Len(t, loaded.Roster, 1)
}

func TestDeltaRoundTripAndListing(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer s.Close()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := model.DeltaWindow{
		Manifest: model.LedgerManifest{CheckpointEpoch: 5, WindowStart: start, WindowEnd: start.Add(time.Hour)},
		SettledSubmissions: []model.SettledSubmissionEntry{{MinerID: "m1", MarketID: "mkt1"}},
	}
	id, err := s.PutDelta(context.Background(), d)
	require.NoError(t, err)

	ids, err := s.ListDeltas(context.Background(), 5, nil)
	require.NoError(t, err)
	require.Contains(t, ids, id)

	loaded, err := s.GetDelta(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Len(t, loaded.SettledSubmissions, 1)
}

func TestGetLatestCheckpointEmptyReturnsNil(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer s.Close()
	cp, err := s.GetLatestCheckpoint(context.Background())
	require.NoError(t, err)
	require.Nil(t, cp)
}
