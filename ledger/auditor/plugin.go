package auditor

import (
	"fmt"
	"sync"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/internal/xlog"
)

// TaskResult is a plugin's per-cycle outcome.
type TaskResult struct {
	Name        string
	Status      string // "pass", "fail", "error"
	Evidence    map[string]any
	Attestation *Attestation
}

// TaskHandler is the explicit typed-registry interface replacing the
// upstream's duck-typed module-introspection plugin loading.
type TaskHandler interface {
	Name() string
	Version() string
	OnCycle(ctx AuditorContext) TaskResult
}

// PluginRegistry rejects duplicate registrations and dispatches every
// registered handler per cycle, catching panics into an error TaskResult
// so one handler's failure cannot silence the others.
type PluginRegistry struct {
	mu       sync.Mutex
	handlers map[string]TaskHandler
	order    []string
}

func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{handlers: make(map[string]TaskHandler)}
}

func (r *PluginRegistry) Register(h TaskHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[h.Name()]; exists {
		return errkind.New(errkind.Configuration, fmt.Sprintf("duplicate plugin registration: %s", h.Name()))
	}
	r.handlers[h.Name()] = h
	r.order = append(r.order, h.Name())
	return nil
}

func (r *PluginRegistry) Dispatch(ctx AuditorContext) []TaskResult {
	r.mu.Lock()
	names := append([]string(nil), r.order...)
	r.mu.Unlock()

	results := make([]TaskResult, 0, len(names))
	for _, name := range names {
		r.mu.Lock()
		h := r.handlers[name]
		r.mu.Unlock()
		results = append(results, r.runSafely(h, ctx))
	}
	return results
}

func (r *PluginRegistry) runSafely(h TaskHandler, ctx AuditorContext) (result TaskResult) {
	defer func() {
		if rec := recover(); rec != nil {
			xlog.Error("plugin panicked", "plugin", h.Name(), "recover", rec)
			result = TaskResult{Name: h.Name(), Status: "error", Evidence: map[string]any{"panic": fmt.Sprint(rec)}}
		}
	}()
	return h.OnCycle(ctx)
}
