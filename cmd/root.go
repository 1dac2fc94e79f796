package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/agentic-research/partbom/api"
	"github.com/agentic-research/partbom/internal/catalog"
	"github.com/agentic-research/partbom/internal/config"
	"github.com/agentic-research/partbom/internal/events"
	"github.com/agentic-research/partbom/internal/logging"
	"github.com/agentic-research/partbom/internal/metrics"
	"github.com/agentic-research/partbom/internal/partapi"
	"github.com/agentic-research/partbom/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

var (
	configPath  string
	baseURL     string
	depthFlag   string
	nodeLimit   int
	logLevel    string
	logFormat   string
	metricsAddr string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to config file (default ~/.config/partbom/partbom.hcl)")
	pf.StringVar(&baseURL, "base-url", "", "Parts service base URL")
	pf.StringVar(&depthFlag, "depth", "", `Tree depth fetched on selection: a positive integer or "all"`)
	pf.IntVar(&nodeLimit, "node-limit", 0, "Maximum nodes per tree fetch (0 leaves it to the service)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (console, json)")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

var rootCmd = &cobra.Command{
	Use:           "partbom",
	Short:         "partbom: browse parts and edit their bill of materials",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if env != nil {
			env.close()
		}
	},
}

// runtimeEnv is what every subcommand shares once flags are resolved.
type runtimeEnv struct {
	cfg    config.Config
	log    *zap.Logger
	client *partapi.Client
	stop   context.CancelFunc
}

var env *runtimeEnv

func setup(cmd *cobra.Command) error {
	path, required := configPath, true
	if path == "" {
		path, required = config.DefaultPath(), false
	}
	cfg, err := config.Load(path, required)
	if err != nil {
		return err
	}
	if err := applyFlags(cmd, &cfg); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	client, err := partapi.New(partapi.Options{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		MaxRetries: cfg.MaxRetries,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	ctx, stop := context.WithCancel(context.Background())
	metrics.Serve(ctx, cfg.MetricsAddr, log)

	env = &runtimeEnv{cfg: cfg, log: log, client: client, stop: stop}
	log.Debug("configured", zap.String("base_url", client.BaseURL()), zap.Stringer("depth", cfg.InitialDepth))
	return nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = baseURL
	}
	if flags.Changed("depth") {
		d, err := api.ParseDepth(depthFlag)
		if err != nil {
			return err
		}
		cfg.InitialDepth = d
	}
	if flags.Changed("node-limit") {
		cfg.NodeLimit = nodeLimit
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = metricsAddr
	}
	return cfg.Validate()
}

func (e *runtimeEnv) close() {
	e.stop()
	_ = e.log.Sync()
}

// openSession wires a catalog, an event bus and a session to the client.
// The returned cleanup closes all three.
func (e *runtimeEnv) openSession() (*session.Session, *events.Bus, func(), error) {
	ix, err := catalog.Open(e.client, e.log)
	if err != nil {
		return nil, nil, nil, err
	}
	bus := events.NewBus(e.log)
	sess := session.New(session.Options{
		API:            e.client,
		Catalog:        ix,
		Bus:            bus,
		Logger:         e.log,
		InitialDepth:   e.cfg.InitialDepth,
		NodeLimit:      e.cfg.NodeLimit,
		SearchDebounce: e.cfg.SearchDebounce,
	})
	return sess, bus, func() {
		sess.Close()
		_ = ix.Close()
	}, nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
