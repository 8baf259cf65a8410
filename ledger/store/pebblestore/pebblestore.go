// Package pebblestore is an alternate LedgerStore backend keeping
// checkpoint and delta windows in an embedded cockroachdb/pebble KV
// store so list_deltas and get_delta resolve without a directory scan.
// Each window is stored whole as one gzip-compressed JSON value keyed by
// its id (no per-section files), and ids embed unix-second timestamps
// rather than the filesystem store's YYYYMMDDTHHMMSS form. Grounded
// on go-equa's own use of cockroachdb/pebble as a chain database engine.
package pebblestore

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/cockroachdb/pebble"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/ledger/model"
)

type Store struct {
	db *pebble.DB
}

func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "open pebble db")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func checkpointKey(id string) []byte { return []byte("checkpoint/" + id) }
func deltaKey(epoch uint64, id string) []byte {
	return []byte(fmt.Sprintf("delta/%d/%s", epoch, id))
}
func latestKey() []byte { return []byte("latest_checkpoint") }

func gzipJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(raw); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipJSON(b []byte, v any) error {
	gr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer gr.Close()
	raw, err := io.ReadAll(gr)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

func checkpointIDOf(epoch uint64, windowEndUnix int64) string {
	return fmt.Sprintf("epoch_%d_%d", epoch, windowEndUnix)
}

func (s *Store) PutCheckpoint(ctx context.Context, cp model.CheckpointWindow) (string, error) {
	id := checkpointIDOf(cp.Manifest.CheckpointEpoch, cp.Manifest.WindowEnd.Unix())
	enc, err := gzipJSON(cp)
	if err != nil {
		return "", errkind.Wrap(errkind.Integrity, err, "encode checkpoint")
	}
	batch := s.db.NewBatch()
	if err := batch.Set(checkpointKey(id), enc, nil); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "stage checkpoint")
	}
	if err := batch.Set(latestKey(), []byte(id), nil); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "stage latest pointer")
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "commit checkpoint batch")
	}
	return id, nil
}

func (s *Store) PutDelta(ctx context.Context, d model.DeltaWindow) (string, error) {
	id := fmt.Sprintf("d_%d_%d", d.Manifest.WindowStart.Unix(), d.Manifest.WindowEnd.Unix())
	enc, err := gzipJSON(d)
	if err != nil {
		return "", errkind.Wrap(errkind.Integrity, err, "encode delta")
	}
	if err := s.db.Set(deltaKey(d.Manifest.CheckpointEpoch, id), enc, pebble.Sync); err != nil {
		return "", errkind.Wrap(errkind.Transient, err, "write delta")
	}
	return id, nil
}

func (s *Store) GetLatestCheckpoint(ctx context.Context) (*model.CheckpointWindow, error) {
	v, closer, err := s.db.Get(latestKey())
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read latest pointer")
	}
	id := string(v)
	closer.Close()
	enc, closer2, err := s.db.Get(checkpointKey(id))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read checkpoint")
	}
	defer closer2.Close()
	var cp model.CheckpointWindow
	if err := gunzipJSON(enc, &cp); err != nil {
		return nil, errkind.Wrap(errkind.Integrity, err, "decode checkpoint")
	}
	return &cp, nil
}

func (s *Store) ListDeltas(ctx context.Context, epoch uint64, since *string) ([]string, error) {
	prefix := fmt.Sprintf("delta/%d/", epoch)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "\xff"),
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "create iterator")
	}
	defer iter.Close()
	var ids []string
	for iter.First(); iter.Valid(); iter.Next() {
		id := strings.TrimPrefix(string(iter.Key()), prefix)
		if since == nil || id > *since {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) GetDelta(ctx context.Context, id string) (*model.DeltaWindow, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("delta/"),
		UpperBound: []byte("delta/\xff"),
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "create iterator")
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if strings.HasSuffix(string(iter.Key()), "/"+id) {
			var d model.DeltaWindow
			if err := gunzipJSON(iter.Value(), &d); err != nil {
				return nil, errkind.Wrap(errkind.Integrity, err, "decode delta")
			}
			return &d, nil
		}
	}
	return nil, nil
}
