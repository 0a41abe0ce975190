package main

import (
	"context"
	"fmt"
	"io"

	"github.com/lemmego/fluid"
	"github.com/lemmego/fluid/config"
	"github.com/lemmego/fluid/internal/logging"
	"github.com/lemmego/fluid/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "github.com/lemmego/fluid/fluidbun"
	_ "github.com/lemmego/fluid/fluidgorm"
	_ "github.com/lemmego/fluid/fluidmem"
	_ "github.com/lemmego/fluid/fluidmongo"
	_ "github.com/lemmego/fluid/fluidredis"
)

// app holds what PersistentPreRunE builds for the subcommands
type app struct {
	configFile string
	out        io.Writer

	cfg      *config.Config
	logger   *zap.Logger
	metrics  *metrics.Collector
	registry *fluid.Registry
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "fluid",
		Short: "fluid manages configured collections from the command line",
		Long: `fluid opens the provider named in the configuration, registers the demo
collections (articles, authors) and runs repository operations on them.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.init(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default: ./fluid.yaml or ~/.fluid/fluid.yaml)")

	root.AddCommand(
		versionCmd(a),
		collectionsCmd(a),
		listCmd(a),
		getCmd(a),
		saveCmd(a),
		deleteCmd(a),
		countCmd(a),
		seedCmd(a),
		serveCmd(a),
	)
	return root
}

// init loads the configuration and wires logger, metrics, provider and
// registry
func (a *app) init(ctx context.Context) error {
	cfg, err := config.Load(a.configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Log, zap.String("provider", cfg.Provider))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	a.logger = logger
	a.metrics = metrics.NewCollector(prometheus.NewRegistry())

	provider, err := fluid.OpenProvider(cfg.Provider, cfg.Database)
	if err != nil {
		return fmt.Errorf("open provider %s: %w", cfg.Provider, err)
	}

	a.registry = fluid.NewRegistry(fluid.WithLogger(logger), fluid.WithObserver(a.metrics))
	if err := a.registry.RegisterProvider(cfg.Provider, provider); err != nil {
		provider.Close()
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := registerCollections(ctx, a.registry, provider); err != nil {
		a.registry.Close()
		return fmt.Errorf("register collections: %w", err)
	}
	a.registry.Seal()
	subscribeAuditLog(a.registry, logger)
	return nil
}

func (a *app) close() error {
	if a.logger != nil {
		defer a.logger.Sync()
	}
	if a.registry != nil {
		return a.registry.Close()
	}
	return nil
}

// subscribeAuditLog logs every completed save and delete
func subscribeAuditLog(r *fluid.Registry, logger *zap.Logger) {
	r.Hooks().OnSaved(func(ctx context.Context, e fluid.SaveEvent) (fluid.SaveEvent, error) {
		logger.Info("record saved", zap.String("collection", e.Collection), zap.Bool("created", e.Before == nil))
		return e, nil
	})
	r.Hooks().OnDeleted(func(ctx context.Context, e fluid.DeleteEvent) (fluid.DeleteEvent, error) {
		logger.Info("record deleted", zap.String("collection", e.Collection), zap.Any("id", e.ID))
		return e, nil
	})
}

func versionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(a.out, "fluid v0.1.0")
		},
	}
}
