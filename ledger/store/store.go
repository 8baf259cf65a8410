// Package store defines the pluggable ledger persistence contract and
// its filesystem baseline, grounded on the upstream
// sparket/validator/ledger/store/filesystem.py: one directory per
// window, gzip-compressed large sections, a plain-text manifest, and
// atomic temp-file+rename writes.
package store

import (
	"context"

	"github.com/equa/scoring-ledger/ledger/model"
)

// LedgerStore is the five-operation contract any persistence backend
// must satisfy.
type LedgerStore interface {
	PutCheckpoint(ctx context.Context, cp model.CheckpointWindow) (id string, err error)
	PutDelta(ctx context.Context, d model.DeltaWindow) (id string, err error)
	GetLatestCheckpoint(ctx context.Context) (*model.CheckpointWindow, error)
	ListDeltas(ctx context.Context, epoch uint64, since *string) ([]string, error)
	GetDelta(ctx context.Context, id string) (*model.DeltaWindow, error)
}
