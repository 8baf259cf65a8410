// Command ledger-primary runs the authenticated HTTP surface; no
// exporter DataSource is wired in this binary, so serve runs with export
// and /ledger/recompute disabled. Flag wiring follows go-equa's own
// cmd/geth convention of an urfave/cli app with subcommands; no business
// logic lives here.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/equa/scoring-ledger/internal/xlog"
	"github.com/equa/scoring-ledger/ledgercfg"
	"github.com/equa/scoring-ledger/ledger/export"
	"github.com/equa/scoring-ledger/ledger/httpapi"
	"github.com/equa/scoring-ledger/ledger/model"
	"github.com/equa/scoring-ledger/ledger/store"
	"github.com/equa/scoring-ledger/ledger/wallet"
)

func main() {
	maxprocs.Set()

	app := &cli.App{
		Name:  "ledger-primary",
		Usage: "scoring ledger primary: exporter + authenticated HTTP surface",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Required: true, Usage: "path to TOML config"},
			&cli.StringFlag{Name: "listen", Value: ":8765"},
			&cli.StringFlag{Name: "privkey-hex", Required: true, Usage: "hex-encoded secp256k1 private key"},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP surface (export disabled: no DataSource is wired)",
				Action: runServe,
			},
			{
				Name:  "bootstrap",
				Usage: "seed an epoch-1 checkpoint with no prior state",
				Action: runBootstrap,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		xlog.Error("ledger-primary exited with error", "err", err)
		os.Exit(1)
	}
}

func loadWallet(c *cli.Context) (wallet.Keypair, error) {
	privHex := c.String("privkey-hex")
	priv := make([]byte, 32)
	if _, err := fmt.Sscanf(privHex, "%x", &priv); err != nil {
		return nil, fmt.Errorf("decode privkey-hex: %w", err)
	}
	return wallet.NewKeypair(priv)
}

func runServe(c *cli.Context) error {
	cfg, err := ledgercfg.Load(c.String("config"))
	if err != nil {
		return err
	}
	kp, err := loadWallet(c)
	if err != nil {
		return err
	}
	st, err := store.NewFilesystemStore(cfg.StoreDir, cfg.RetentionDays)
	if err != nil {
		return err
	}

	policy, err := httpapi.NewAccessPolicy(
		nil, wallet.DefaultVerifier(), cfg.MinValidatorStake, cfg.TestMode,
		time.Duration(cfg.ChallengeTTLSeconds)*time.Second,
		time.Duration(cfg.TokenTTLSeconds)*time.Second,
		cfg.MaxTokens, cfg.RateLimitPerHour,
	)
	if err != nil {
		return err
	}

	// The exporter needs a DataSource backed by the scoring pipeline's own
	// database; that adapter is supplied by the deployment, not this
	// binary, so serve runs with export disabled (nil) until one is wired.
	var exp *export.Exporter

	notifier := httpapi.NewNotifier(policy)
	server := httpapi.NewServer(policy, st, exp, notifier)

	xlog.Info("ledger-primary serving", "addr", c.String("listen"), "primary_hotkey", kp.Hotkey())
	return http.ListenAndServe(c.String("listen"), server.Handler())
}

func runBootstrap(c *cli.Context) error {
	kp, err := loadWallet(c)
	if err != nil {
		return err
	}
	cfg, err := ledgercfg.Load(c.String("config"))
	if err != nil {
		return err
	}
	st, err := store.NewFilesystemStore(cfg.StoreDir, cfg.RetentionDays)
	if err != nil {
		return err
	}
	manifest := model.LedgerManifest{
		SchemaVersion:   model.SchemaVersion,
		WindowType:      model.WindowCheckpoint,
		CheckpointEpoch: 1,
		ContentHashes:   map[string]string{},
		CreatedAt:       time.Now().UTC(),
	}
	manifest.ContentHashes["roster"] = ""
	manifest.ContentHashes["accumulators"] = ""
	manifest.ContentHashes["scoring_config"] = ""

	cp := model.CheckpointWindow{Manifest: manifest}
	id, err := st.PutCheckpoint(c.Context, cp)
	if err != nil {
		return err
	}
	xlog.Info("bootstrap checkpoint written", "id", id, "primary_hotkey", kp.Hotkey())
	return nil
}
