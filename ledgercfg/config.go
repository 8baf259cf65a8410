// Package ledgercfg loads the closed set of configurable knobs described by
// the ledger's design: burn allocation, max-weight projection, rate
// policy, store retention, and HTTP auth parameters. It mirrors go-equa's
// own TOML-file configuration convention (github.com/naoina/toml) and
// supports a hot-reload watch of the config file via fsnotify.
package ledgercfg

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/equa/scoring-ledger/internal/errkind"
	"github.com/equa/scoring-ledger/internal/xlog"
)

// Config enumerates every knob the ledger core reads. Nothing outside
// this struct is a valid configuration input to the core packages.
type Config struct {
	// Weight computation
	MinCountForZScore int     `toml:"min_count_for_zscore"`
	BurnUID            uint64  `toml:"burn_uid"`
	BurnRate            float64 `toml:"burn_rate"`
	MaxWeightLimit      float64 `toml:"max_weight_limit"`

	// Epoch / recompute policy
	MaxEpochBumpsPerDay  int `toml:"max_epoch_bumps_per_day"`
	MaxEpochBumpsPerWeek int `toml:"max_epoch_bumps_per_week"`

	// Store
	RetentionDays int    `toml:"retention_days"`
	StoreDir      string `toml:"store_dir"`

	// HTTP auth / rate limiting
	ChallengeTTLSeconds int     `toml:"challenge_ttl_seconds"`
	TokenTTLSeconds     int     `toml:"token_ttl_seconds"`
	MaxTokens           int     `toml:"max_tokens"`
	RateLimitPerHour    float64 `toml:"rate_limit_per_hour"`
	MinValidatorStake   float64 `toml:"min_validator_stake"`
	TestMode            bool    `toml:"test_mode"`

	// Auditor
	SyncIntervalSeconds int `toml:"sync_interval_seconds"`
}

// Load reads path as TOML into a Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err, "read config")
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err, "parse config")
	}
	return &cfg, nil
}

// Watcher hot-reloads a Config file on write and serves the most
// recently loaded snapshot through Current; it has no subscriber
// notification. It mirrors go-equa's filesystem watch over the accounts
// keystore directory.
type Watcher struct {
	mu      sync.RWMutex
	path    string
	current *Config
	fsw     *fsnotify.Watcher
	log     func(string, ...any)
}

func NewWatcher(path string) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errkind.Wrap(errkind.Configuration, err, "create fsnotify watcher")
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, errkind.Wrap(errkind.Configuration, err, "watch config path")
	}
	w := &Watcher{path: path, current: cfg, fsw: fsw, log: xlog.Info}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.log("config reload failed", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			w.log("config reloaded", "path", w.path)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log("config watcher error", "err", err)
		}
	}
}

// Current returns the most recently loaded snapshot.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	c := *w.current
	return &c
}

func (w *Watcher) Close() error {
	if err := w.fsw.Close(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}
