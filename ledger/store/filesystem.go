package store

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/internal/xlog"
	"github.com/equa/scoring-ledger/ledger/model"
)

var (
	checkpointIDPattern = regexp.MustCompile(`^epoch_\d+_\d{8}T\d{6}$`)
	deltaIDPattern       = regexp.MustCompile(`^d_\d{8}T\d{6}_\d{8}T\d{6}$`)
)

// FilesystemStore is the filesystem baseline LedgerStore implementation.
// A gofrs/flock advisory lock serializes the temp-file+rename write
// sequence against any other process sharing dataDir, mirroring
// go-equa's use of the same library to guard its own datadir.
type FilesystemStore struct {
	mu            sync.Mutex
	dataDir       string
	retentionDays int
}

func NewFilesystemStore(dataDir string, retentionDays int) (*FilesystemStore, error) {
	for _, sub := range []string{"checkpoints", "deltas"} {
		if err := os.MkdirAll(filepath.Join(dataDir, "ledger", sub), 0o755); err != nil {
			return nil, errkind.Wrap(errkind.Transient, err, "create ledger dir")
		}
	}
	return &FilesystemStore{dataDir: dataDir, retentionDays: retentionDays}, nil
}

func (s *FilesystemStore) withLock(fn func() error) error {
	lockPath := filepath.Join(s.dataDir, "ledger", ".lock")
	fl := flock.New(lockPath)
	if err := fl.Lock(); err != nil {
		return errkind.Wrap(errkind.Transient, err, "acquire ledger lock")
	}
	defer fl.Unlock()
	return fn()
}

func checkpointID(epoch uint64, windowEnd time.Time) string {
	return fmt.Sprintf("epoch_%d_%s", epoch, windowEnd.UTC().Format("20060102T150405"))
}

func deltaID(windowStart, windowEnd time.Time) string {
	return fmt.Sprintf("d_%s_%s", windowStart.UTC().Format("20060102T150405"), windowEnd.UTC().Format("20060102T150405"))
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errkind.Wrap(errkind.Transient, err, "write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errkind.Wrap(errkind.Transient, err, "rename temp file")
	}
	return nil
}

func writeGzipAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errkind.Wrap(errkind.Transient, err, "create gzip temp file")
	}
	gw := gzip.NewWriter(f)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		f.Close()
		return errkind.Wrap(errkind.Transient, err, "gzip write")
	}
	if err := gw.Close(); err != nil {
		f.Close()
		return errkind.Wrap(errkind.Transient, err, "gzip close")
	}
	if err := f.Close(); err != nil {
		return errkind.Wrap(errkind.Transient, err, "close gzip temp file")
	}
	return os.Rename(tmp, path)
}

func readGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gr.Close()
	var buf []byte
	chunk := make([]byte, 32*1024)
	for {
		n, err := gr.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if err != nil {
			break
		}
	}
	return buf, nil
}

func (s *FilesystemStore) PutCheckpoint(ctx context.Context, cp model.CheckpointWindow) (string, error) {
	id := checkpointID(cp.Manifest.CheckpointEpoch, cp.Manifest.WindowEnd)
	dir := filepath.Join(s.dataDir, "ledger", "checkpoints", id)
	err := s.withLock(func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errkind.Wrap(errkind.Transient, err, "mkdir checkpoint dir")
		}
		manifestJSON, err := json.Marshal(cp.Manifest)
		if err != nil {
			return errkind.Wrap(errkind.Integrity, err, "marshal manifest")
		}
		if err := writeAtomic(filepath.Join(dir, "manifest.json"), manifestJSON); err != nil {
			return err
		}
		rosterJSON, err := json.Marshal(cp.Roster)
		if err != nil {
			return err
		}
		if err := writeGzipAtomic(filepath.Join(dir, "roster.json.gz"), rosterJSON); err != nil {
			return err
		}
		accJSON, err := json.Marshal(cp.Accumulators)
		if err != nil {
			return err
		}
		if err := writeGzipAtomic(filepath.Join(dir, "accumulators.json.gz"), accJSON); err != nil {
			return err
		}
		cfgJSON, err := json.Marshal(cp.ScoringConfig)
		if err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dir, "config.json"), cfgJSON); err != nil {
			return err
		}
		if cp.ChainParams != nil {
			cpJSON, err := json.Marshal(cp.ChainParams)
			if err != nil {
				return err
			}
			if err := writeAtomic(filepath.Join(dir, "chain_params.json"), cpJSON); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	s.prune()
	xlog.Info("checkpoint persisted", "id", id)
	return id, nil
}

func (s *FilesystemStore) PutDelta(ctx context.Context, d model.DeltaWindow) (string, error) {
	id := deltaID(d.Manifest.WindowStart, d.Manifest.WindowEnd)
	dir := filepath.Join(s.dataDir, "ledger", "deltas", fmt.Sprintf("epoch_%d", d.Manifest.CheckpointEpoch), id)
	err := s.withLock(func() error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errkind.Wrap(errkind.Transient, err, "mkdir delta dir")
		}
		manifestJSON, err := json.Marshal(d.Manifest)
		if err != nil {
			return err
		}
		if err := writeAtomic(filepath.Join(dir, "manifest.json"), manifestJSON); err != nil {
			return err
		}
		subJSON, err := json.Marshal(d.SettledSubmissions)
		if err != nil {
			return err
		}
		if err := writeGzipAtomic(filepath.Join(dir, "settled_submissions.json.gz"), subJSON); err != nil {
			return err
		}
		outJSON, err := json.Marshal(d.SettledOutcomes)
		if err != nil {
			return err
		}
		return writeGzipAtomic(filepath.Join(dir, "settled_outcomes.json.gz"), outJSON)
	})
	if err != nil {
		return "", err
	}
	xlog.Info("delta persisted", "id", id)
	return id, nil
}

func (s *FilesystemStore) GetLatestCheckpoint(ctx context.Context) (*model.CheckpointWindow, error) {
	base := filepath.Join(s.dataDir, "ledger", "checkpoints")
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read checkpoints dir")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && checkpointIDPattern.MatchString(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)
	latest := ids[len(ids)-1]
	return s.loadCheckpoint(filepath.Join(base, latest))
}

func (s *FilesystemStore) loadCheckpoint(dir string) (*model.CheckpointWindow, error) {
	manifestBytes, err := os.ReadFile(filepath.Join(dir, "manifest.json"))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read manifest")
	}
	var cp model.CheckpointWindow
	if err := json.Unmarshal(manifestBytes, &cp.Manifest); err != nil {
		return nil, errkind.Wrap(errkind.Integrity, err, "parse manifest")
	}
	rosterBytes, err := readGzip(filepath.Join(dir, "roster.json.gz"))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read roster")
	}
	if err := json.Unmarshal(rosterBytes, &cp.Roster); err != nil {
		return nil, errkind.Wrap(errkind.Integrity, err, "parse roster")
	}
	accBytes, err := readGzip(filepath.Join(dir, "accumulators.json.gz"))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read accumulators")
	}
	if err := json.Unmarshal(accBytes, &cp.Accumulators); err != nil {
		return nil, errkind.Wrap(errkind.Integrity, err, "parse accumulators")
	}
	cfgBytes, err := os.ReadFile(filepath.Join(dir, "config.json"))
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read scoring config")
	}
	if err := json.Unmarshal(cfgBytes, &cp.ScoringConfig); err != nil {
		return nil, errkind.Wrap(errkind.Integrity, err, "parse scoring config")
	}
	if cpBytes, err := os.ReadFile(filepath.Join(dir, "chain_params.json")); err == nil {
		var cpParams model.ChainParamsSnapshot
		if err := json.Unmarshal(cpBytes, &cpParams); err == nil {
			cp.ChainParams = &cpParams
		}
	}
	return &cp, nil
}

func (s *FilesystemStore) ListDeltas(ctx context.Context, epoch uint64, since *string) ([]string, error) {
	dir := filepath.Join(s.dataDir, "ledger", "deltas", fmt.Sprintf("epoch_%d", epoch))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read deltas dir")
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && deltaIDPattern.MatchString(e.Name()) {
			if since == nil || e.Name() > *since {
				ids = append(ids, e.Name())
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FilesystemStore) GetDelta(ctx context.Context, id string) (*model.DeltaWindow, error) {
	if !deltaIDPattern.MatchString(id) {
		return nil, errkind.New(errkind.Integrity, "malformed delta id")
	}
	epochPart := strings.SplitN(strings.TrimPrefix(id, "d_"), "_", 2)[0]
	_ = epochPart
	base := filepath.Join(s.dataDir, "ledger", "deltas")
	epochs, err := os.ReadDir(base)
	if err != nil {
		return nil, errkind.Wrap(errkind.Transient, err, "read deltas dir")
	}
	for _, epochDir := range epochs {
		dir := filepath.Join(base, epochDir.Name(), id)
		manifestPath := filepath.Join(dir, "manifest.json")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		manifestBytes, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, errkind.Wrap(errkind.Transient, err, "read delta manifest")
		}
		var d model.DeltaWindow
		if err := json.Unmarshal(manifestBytes, &d.Manifest); err != nil {
			return nil, errkind.Wrap(errkind.Integrity, err, "parse delta manifest")
		}
		subBytes, err := readGzip(filepath.Join(dir, "settled_submissions.json.gz"))
		if err != nil {
			return nil, errkind.Wrap(errkind.Transient, err, "read settled submissions")
		}
		if err := json.Unmarshal(subBytes, &d.SettledSubmissions); err != nil {
			return nil, errkind.Wrap(errkind.Integrity, err, "parse settled submissions")
		}
		outBytes, err := readGzip(filepath.Join(dir, "settled_outcomes.json.gz"))
		if err != nil {
			return nil, errkind.Wrap(errkind.Transient, err, "read settled outcomes")
		}
		if err := json.Unmarshal(outBytes, &d.SettledOutcomes); err != nil {
			return nil, errkind.Wrap(errkind.Integrity, err, "parse settled outcomes")
		}
		return &d, nil
	}
	return nil, nil
}

// prune deletes checkpoint directories older than retentionDays,
// comparing the embedded date in the directory name the way the
// upstream FilesystemStore._prune does.
func (s *FilesystemStore) prune() {
	if s.retentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	base := filepath.Join(s.dataDir, "ledger", "checkpoints")
	entries, err := os.ReadDir(base)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !checkpointIDPattern.MatchString(e.Name()) {
			continue
		}
		parts := strings.Split(e.Name(), "_")
		ts, err := time.Parse("20060102T150405", parts[len(parts)-1])
		if err != nil {
			continue
		}
		if ts.Before(cutoff) {
			if err := os.RemoveAll(filepath.Join(base, e.Name())); err != nil {
				xlog.Warn("prune failed", "dir", e.Name(), "err", err)
			}
		}
	}
}
