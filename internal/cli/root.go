// Package cli implements the carbon command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"carbon-gocli/internal/config"
	"carbon-gocli/internal/logging"
	"carbon-gocli/internal/metrics"
	"carbon-gocli/internal/session"
)

// Opener builds the session for a command.
type Opener func(ctx context.Context, cfg config.Config, opts session.Options, log zerolog.Logger) (*session.Session, error)

// Deps are the process hooks a command tree runs against.
type Deps struct {
	Open   Opener
	Stderr io.Writer
}

type app struct {
	v          *viper.Viper
	configPath string
	cfg        config.Config
	log        zerolog.Logger
	deps       Deps
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	return execute(ctx, Deps{Open: session.Open, Stderr: stderr}, args, stdout)
}

func execute(ctx context.Context, d Deps, args []string, stdout io.Writer) int {
	root, a := newRoot(d)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(a.deps.Stderr)

	code := 0
	if err := root.ExecuteContext(ctx); err != nil {
		a.log.Error().Err(err).Msg("carbon failed")
		code = 1
	}
	if path := a.cfg.MetricsTextfile; path != "" {
		if err := metrics.WriteTextfile(path); err != nil {
			a.log.Warn().Err(err).Str("path", path).Msg("write metrics textfile")
		}
	}
	return code
}

func newRoot(d Deps) (*cobra.Command, *app) {
	if d.Stderr == nil {
		d.Stderr = os.Stderr
	}
	a := &app{
		v:    config.NewViper(),
		deps: d,
		log:  logging.New(logging.Options{Out: d.Stderr}),
	}

	root := &cobra.Command{
		Use:           "carbon",
		Short:         "Manage Carbon DeFi strategies",
		Long:          "Inspect cached Carbon pairs and update, propose or transfer strategies through the Carbon controller.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.loadConfig()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default carbon.yaml in . or ./config)")
	pf.String("network", config.DefaultNetwork, "network name")
	pf.String("rpc-url", "", "JSON-RPC endpoint (ws or http)")
	pf.String("log-level", "info", "log level: trace|debug|info|warn|error")
	pf.String("log-format", "console", "log format: console|json")
	pf.String("log-file", "", "write logs to a rotated file instead of stderr")
	pf.String("cache-path", "", "bbolt file holding the chain cache snapshot")
	pf.Bool("sync", true, "sync the chain cache before pair queries")
	pf.Duration("sync-timeout", config.DefaultSyncTimeout, "how long to wait for the initial sync")
	pf.Duration("confirm-timeout", config.DefaultConfirmTimeout, "how long to wait for a receipt")
	pf.String("journal", "", "append a JSON line per transaction to this file")
	pf.String("metrics-textfile", "", "write prometheus metrics to this file on exit")

	bindings := map[string]string{
		"network":            "network",
		"rpc_url":            "rpc-url",
		"log.level":          "log-level",
		"log.format":         "log-format",
		"log.file":           "log-file",
		"cache.path":         "cache-path",
		"sync.enabled":       "sync",
		"sync.timeout":       "sync-timeout",
		"tx.confirm_timeout": "confirm-timeout",
		"tx.journal":         "journal",
		"metrics.textfile":   "metrics-textfile",
	}
	for key, flag := range bindings {
		if err := a.v.BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}

	root.AddCommand(a.newInitCmd())
	root.AddCommand(a.newGetPairInfoCmd())
	root.AddCommand(a.newGetCachedPairsCmd())
	root.AddCommand(a.newUpdateStrategyCmd())
	root.AddCommand(a.newProposeUpdateStrategyCmd())
	root.AddCommand(a.newTransferStrategyCmd())
	return root, a
}

func (a *app) loadConfig() error {
	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Out:    a.deps.Stderr,
	})
	return nil
}

func (a *app) open(ctx context.Context, waitSync bool) (*session.Session, error) {
	return a.deps.Open(ctx, a.cfg, session.Options{WaitSync: waitSync}, a.log)
}

// isolated turns a handler failure into a log line so one failing command
// never changes the exit code.
func (a *app) isolated(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if err := fn(cmd, args); err != nil {
			a.log.Error().Err(err).Str("command", cmd.Name()).Msg("command failed")
		}
		return nil
	}
}
