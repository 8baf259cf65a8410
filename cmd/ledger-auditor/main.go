// Command ledger-auditor runs the auditor sync+verify loop against a
// primary's HTTP surface. Chain collaborators (Metagraph,
// Subtensor) are expected to be supplied by the surrounding Bittensor
// node software; this entrypoint has no live chain implementation and
// always wires the null ones, with or without --offline, so it verifies
// but never publishes weights.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/equa/scoring-ledger/internal/xlog"
	"github.com/equa/scoring-ledger/ledgercfg"
	"github.com/equa/scoring-ledger/ledger/auditor"
	"github.com/equa/scoring-ledger/ledger/auditor/plugins"
	"github.com/equa/scoring-ledger/ledger/httpapi"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

// nullMetagraph/nullSubtensor stand in for the chain collaborators; this
// binary always uses them, so verification still runs and publication
// never happens.
type nullMetagraph struct{}

func (nullMetagraph) Hotkeys() []string        { return nil }
func (nullMetagraph) ValidatorPermit() []bool  { return nil }
func (nullMetagraph) Stake() []float64         { return nil }
func (nullMetagraph) Weights() [][]uint16      { return nil }
func (nullMetagraph) N() int                   { return 0 }
func (nullMetagraph) LastUpdate() []uint64     { return nil }
func (nullMetagraph) Sync() error              { return nil }

type nullSubtensor struct{}

func (nullSubtensor) SetWeights(string, int, []uint64, []uint16) (bool, string, error) {
	return false, "offline mode: weights not published", nil
}
func (nullSubtensor) MaxWeightLimit(int) (float64, error)    { return 1.0, nil }
func (nullSubtensor) MinAllowedWeights(int) (int, error)     { return 0, nil }
func (nullSubtensor) GetSubnetOwnerHotkey(int) (string, error) { return "", nil }

func main() {
	maxprocs.Set()

	app := &cli.App{
		Name:  "ledger-auditor",
		Usage: "scoring ledger auditor: sync, verify, and (optionally) republish",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Required: true},
			&cli.StringFlag{Name: "primary-url", Required: true},
			&cli.StringFlag{Name: "state-file", Value: "auditor-state.json"},
			&cli.StringFlag{Name: "privkey-hex", Required: true},
			&cli.StringFlag{Name: "expected-primary-hotkey", Required: true},
			&cli.BoolFlag{Name: "offline", Usage: "verify only, never call SetWeights"},
			&cli.IntFlag{Name: "netuid", Value: 0},
		},
		Commands: []*cli.Command{
			{Name: "run", Usage: "run the auditor loop", Action: runLoop},
			{Name: "status", Usage: "print persisted auditor state and exit", Action: runStatus},
		},
	}
	if err := app.Run(os.Args); err != nil {
		xlog.Error("ledger-auditor exited with error", "err", err)
		os.Exit(1)
	}
}

func buildRuntime(c *cli.Context) (*auditor.AuditorRuntime, error) {
	cfg, err := ledgercfg.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	privHex := c.String("privkey-hex")
	priv := make([]byte, 32)
	if _, err := fmt.Sscanf(privHex, "%x", &priv); err != nil {
		return nil, fmt.Errorf("decode privkey-hex: %w", err)
	}
	kp, err := wallet.NewKeypair(priv)
	if err != nil {
		return nil, err
	}

	client := httpapi.NewClient(c.String("primary-url"), 10*time.Second, 3, kp.Hotkey(), kp.Sign)
	verifier := auditor.NewManifestVerifier(wallet.DefaultVerifier(), c.String("expected-primary-hotkey"))
	sync := auditor.NewLedgerSync(c.String("state-file"), client, verifier, cfg.MaxEpochBumpsPerDay, cfg.MaxEpochBumpsPerWeek)

	registry := auditor.NewPluginRegistry()
	if err := registry.Register(plugins.NewWeightVerificationHandler("1.0.0")); err != nil {
		return nil, err
	}

	var mg auditor.Metagraph = nullMetagraph{}
	var st auditor.Subtensor = nullSubtensor{}
	if c.Bool("offline") {
		st = nullSubtensor{}
	}

	chain := auditor.ChainCollaborators{
		Metagraph:       mg,
		Subtensor:       st,
		WalletHotkey:    kp.Hotkey(),
		WalletSign:      kp.Sign,
		NetUID:          c.Int("netuid"),
		WeightTolerance: 0.001,
	}

	interval := time.Duration(cfg.SyncIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return auditor.NewAuditorRuntime(sync, registry, interval, chain), nil
}

func runLoop(c *cli.Context) error {
	runtime, err := buildRuntime(c)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	xlog.Info("ledger-auditor starting")
	done := make(chan struct{})
	go func() {
		runtime.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	runtime.Stop()
	<-done
	xlog.Info("ledger-auditor stopped")
	return nil
}

func runStatus(c *cli.Context) error {
	if _, err := buildRuntime(c); err != nil {
		return err
	}
	state := auditor.NewLedgerSync(c.String("state-file"), nil, nil, 0, 0).GetState()
	fmt.Println("auditor state file:", c.String("state-file"))
	fmt.Println("epoch:", state.Epoch)
	fmt.Println("last delta id:", state.LastDeltaID)
	fmt.Println("miners tracked:", len(state.PerMinerBrier))
	fmt.Println("recompute history entries:", len(state.RecomputeHistory))
	return nil
}
