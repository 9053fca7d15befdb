package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aristath/crew/internal/config"
	"github.com/aristath/crew/internal/events"
	"github.com/aristath/crew/internal/idgen"
	"github.com/aristath/crew/internal/logging"
	"github.com/aristath/crew/internal/metrics"
	"github.com/aristath/crew/internal/persistence"
	"github.com/aristath/crew/internal/provider"
	"github.com/aristath/crew/internal/store"
)

// app is everything a command needs, wired from config.
type app struct {
	cfg     *config.Config
	paths   config.Paths
	logger  *zap.Logger
	bus     *events.EventBus
	metrics *metrics.Collector
	pm      *provider.ProcessManager
	store   *store.Store

	metricsServer *http.Server
}

// appOptions adjust wiring per command.
type appOptions struct {
	configPath string
	logFile    bool // Log to <data_dir>/crew.log instead of stderr
	logHooks   []func(zapcore.Entry) error
	serveHTTP  bool // Expose metrics when metrics.addr is set
}

// configFlag registers --config on fs.
func configFlag(fs *flag.FlagSet) *string {
	return fs.String("config", "", "config file to use in place of .crew/config.yaml")
}

func loadConfig(path string) (*config.Config, config.Paths, error) {
	if path == "" {
		return config.LoadDefault()
	}
	paths, err := config.DefaultPaths()
	if err != nil {
		return nil, config.Paths{}, err
	}
	paths.Project = path
	cfg, err := config.Load(paths.Global, paths.Project)
	return cfg, paths, err
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, paths, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if opts.logFile {
		cfg.Log.OutputPaths = []string{filepath.Join(cfg.ResolvedDataDir(), "crew.log")}
	}

	logger, err := logging.New(cfg.Log, opts.logHooks...)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:     cfg,
		paths:   paths,
		logger:  logger,
		bus:     events.NewEventBus(),
		metrics: metrics.NewCollector("crew"),
		pm:      provider.NewProcessManager(),
	}

	gateway, err := persistence.Open(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening persistence: %w", err)
	}

	p, err := provider.New(cfg.Provider, a.pm, logger)
	if err != nil {
		gateway.Close()
		a.Close()
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	storeOpts, err := store.OptionsFromConfig(cfg)
	if err != nil {
		gateway.Close()
		a.Close()
		return nil, err
	}
	storeOpts.Bus = a.bus
	storeOpts.Metrics = a.metrics
	storeOpts.Logger = logger

	a.store = store.New(gateway, p, idgen.NewUUIDGenerator(cfg.IDs.Length), storeOpts)
	if err := a.store.Open(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("loading workflows: %w", err)
	}

	if opts.serveHTTP && cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("serving metrics", zap.String("addr", addr))
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
}

// Close kills provider subprocesses and releases everything newApp opened.
func (a *app) Close() {
	if err := a.pm.KillAll(); err != nil {
		a.logger.Warn("killing provider processes", zap.Error(err))
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("stopping metrics server", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("closing store", zap.Error(err))
		}
	}
	a.bus.Close()
	_ = a.logger.Sync()
}

// parseInterleaved parses flags that may appear before or after positional
// arguments and returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, flagError(err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// flagError marks a parse failure as a usage error. The flag set has
// already printed the details.
func flagError(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		return err
	}
	return usageError{err.Error()}
}

// newFlagSet returns a flag set that reports errors to stderr without
// exiting.
func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("crew "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}
