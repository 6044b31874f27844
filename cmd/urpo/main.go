// Command urpo runs the trace ingestion/storage/query backend described
// in this repository's design document. Grounded on cmd/tempo/main.go's
// load-config -> init-logger -> build-app -> run shape, restructured
// around github.com/alecthomas/kong subcommands instead of a single flag
// set plus a -config.verify switch, since urpo's CLI surface names
// explicit "start"/"version"/"config validate" commands rather than
// tempo's flag-driven single binary.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/urpo-dev/urpo/internal/archive"
	"github.com/urpo-dev/urpo/internal/config"
	"github.com/urpo-dev/urpo/internal/fakespans"
	"github.com/urpo-dev/urpo/internal/health"
	"github.com/urpo-dev/urpo/internal/intern"
	"github.com/urpo-dev/urpo/internal/logging"
	"github.com/urpo-dev/urpo/internal/metrics"
	"github.com/urpo-dev/urpo/internal/receiver"
	"github.com/urpo-dev/urpo/internal/sampling"
	"github.com/urpo-dev/urpo/internal/store"
)

// defaultHealthCheckInterval is used when monitoring.health_check_interval
// is left unset (zero), so the adaptive-rate controller still ticks.
const defaultHealthCheckInterval = 15 * time.Second

// version is set via -ldflags -X main.version at release build time.
var version = "dev"

const (
	exitOK          = 0
	exitConfigError = 1
	exitBindError   = 2
	exitInterrupted = 130
)

// CLI is the top-level kong command tree (spec.md §6 "CLI surface").
type CLI struct {
	Start   startCmd   `cmd:"" help:"Start the urpo server."`
	Version versionCmd `cmd:"" help:"Print version information."`
	Config  configCmd  `cmd:"" help:"Configuration utilities."`
}

type startCmd struct {
	Config       string  `help:"Path to the YAML config file." type:"path"`
	GRPCPort     int     `help:"Override server.grpc_port." default:"0"`
	HTTPPort     int     `help:"Override server.http_port." default:"0"`
	MaxMemoryMB  int     `help:"Override storage.max_memory_mb." default:"0"`
	SamplingRate float64 `help:"Override sampling.default_rate." default:"-1"`
	Debug        bool    `help:"Force debug-level logging."`
}

type versionCmd struct{}

type configCmd struct {
	Validate validateCmd `cmd:"" help:"Validate a config file and exit."`
}

type validateCmd struct {
	Path string `arg:"" type:"existingfile" help:"Config file to validate."`
}

func (c *versionCmd) Run(*kong.Context) error {
	fmt.Printf("urpo %s\n", version)
	return nil
}

func (c *validateCmd) Run(*kong.Context) error {
	cfg, err := config.Load(c.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(exitConfigError)
	}
	fmt.Printf("%s: ok (grpc_port=%d http_port=%d)\n", c.Path, cfg.Server.GRPCPort, cfg.Server.HTTPPort)
	return nil
}

func (c *startCmd) Run(*kong.Context) error {
	cfg := config.Default()
	if c.Config != "" {
		loaded, err := config.Load(c.Config)
		if err != nil {
			fmt.Fprintf(os.Stderr, "config error: %v\n", err)
			os.Exit(exitConfigError)
		}
		cfg = loaded
	}
	c.applyOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(exitConfigError)
	}

	level := cfg.Logging.Level
	if c.Debug {
		level = "debug"
	}
	log, err := logging.New(logging.Config{Level: level, Rotation: logging.Rotation(cfg.Logging.Rotation)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging error: %v\n", err)
		os.Exit(exitConfigError)
	}
	defer log.Sync()

	runServer(log, cfg, c.Config)
	return nil
}

func (c *startCmd) applyOverrides(cfg *config.Config) {
	if c.GRPCPort != 0 {
		cfg.Server.GRPCPort = c.GRPCPort
	}
	if c.HTTPPort != 0 {
		cfg.Server.HTTPPort = c.HTTPPort
	}
	if c.MaxMemoryMB != 0 {
		cfg.Storage.MaxMemoryMB = c.MaxMemoryMB
	}
	if c.SamplingRate >= 0 {
		cfg.Sampling.DefaultRate = c.SamplingRate
	}
}

func runServer(log *zap.Logger, cfg config.Config, configPath string) {
	pool := intern.New()

	var archiver store.Archiver
	writer, err := archive.NewWriter(archive.Config{RootDir: "urpo_data/archives", Granularity: archive.GranularityHour}, pool)
	if err != nil {
		log.Error("failed to open archive writer", zap.Error(err))
		os.Exit(exitConfigError)
	}
	archiver = writer
	defer writer.Close()

	st := store.New(store.Config{
		MaxSpans:          cfg.Storage.MaxSpans,
		RetentionDuration: time.Duration(cfg.Storage.RetentionDuration),
	}, pool, archiver)

	rate := sampling.NewAdaptiveRate(cfg.Sampling.DefaultRate)
	budget := sampling.NewBudget(int64(cfg.Storage.MaxMemoryMB) * 1024 * 1024)
	head := sampling.NewHeadSampler(rate, true)
	tail := sampling.NewTailSampler(sampling.DefaultTailConfig(), budget, rate)

	mon := health.NewMonitor()
	ring := metrics.NewRing(100_000)
	logs := metrics.NewLogStore(metrics.DefaultLogStoreConfig())

	orch := receiver.NewOrchestrator(log, st, pool, head, tail, mon, ring, logs, receiver.DefaultIdleTimeout)
	limiter := receiver.NewLimiter(cfg.Server.MaxConnections, 10_000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)
	defer orch.Stop()

	if cfg.Features.EnableFakeSpans {
		gen := fakespans.New(fakespans.DefaultConfig(), st, log)
		go gen.Run(ctx)
	}

	live := newLiveConfig(cfg)
	go runCleanupLoop(ctx, log, st, live)
	go runMonitorLoop(ctx, log, st, mon, rate, budget, live)
	if configPath != "" {
		go runConfigWatch(ctx, log, configPath, live, rate)
	}

	grpcAddr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		log.Error("failed to bind grpc port", zap.String("addr", grpcAddr), zap.Error(err))
		os.Exit(exitBindError)
	}

	grpcServer := receiver.NewGRPCServer(log, orch, limiter)
	httpServer := receiver.NewHTTPServer(fmt.Sprintf(":%d", cfg.Server.HTTPPort), log, orch, st, limiter)

	errCh := make(chan error, 2)
	go func() {
		log.Info("grpc server listening", zap.String("addr", grpcAddr))
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		log.Info("http server listening", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.Serve(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", zap.String("signal", sig.String()))
		grpcServer.Stop()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		os.Exit(exitInterrupted)
	case err := <-errCh:
		if err != nil {
			log.Error("server error", zap.Error(err))
			os.Exit(exitBindError)
		}
	}
}

// liveConfig guards the subset of config.Config that background loops
// read on every tick against the copy config.Watch delivers on reload.
type liveConfig struct {
	mu  sync.Mutex
	cfg config.Config
}

func newLiveConfig(cfg config.Config) *liveConfig {
	return &liveConfig{cfg: cfg}
}

func (l *liveConfig) get() config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

func (l *liveConfig) set(cfg config.Config) {
	l.mu.Lock()
	l.cfg = cfg
	l.mu.Unlock()
}

// runCleanupLoop drives store.Cleanup on storage.cleanup_interval, evicting
// rows past storage.retention_duration (spec.md §4.3 "cleanup(retention)").
func runCleanupLoop(ctx context.Context, log *zap.Logger, st *store.Store, live *liveConfig) {
	interval := time.Duration(live.get().Storage.CleanupInterval)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cfg := live.get()
			n := st.Cleanup(time.Duration(cfg.Storage.RetentionDuration), now)
			if n > 0 {
				log.Debug("retention cleanup evicted rows", zap.Int("count", n))
			}
		}
	}
}

// runMonitorLoop drives the adaptive-rate closed-loop controller
// (spec.md §4.4) and keeps the sampling budget's usage estimate current,
// on monitoring.health_check_interval.
func runMonitorLoop(ctx context.Context, log *zap.Logger, st *store.Store, mon *health.Monitor, rate *sampling.AdaptiveRate, budget *sampling.Budget, live *liveConfig) {
	interval := time.Duration(live.get().Monitoring.HealthCheckInterval)
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			cfg := live.get()
			stats := st.Stats()
			budget.SetUsed(int64(stats.MemoryMB * 1024 * 1024))

			var requests, errs float64
			for _, h := range mon.Snapshot(now) {
				requests += h.RequestRate
				errs += h.RequestRate * h.ErrorRate
			}
			var errRate float64
			if requests > 0 {
				errRate = errs / requests
			}
			storagePct := 0.0
			if cfg.Storage.MaxMemoryMB > 0 {
				storagePct = stats.MemoryMB / float64(cfg.Storage.MaxMemoryMB)
			}

			rate.Adjust(now, sampling.SystemMetrics{
				TracesPerSecond: requests,
				ErrorRate:       errRate,
				StorageUsedPct:  storagePct,
				MemoryPct:       storagePct,
			})
			log.Debug("adaptive rate tick",
				zap.Float64("rate", rate.Load()),
				zap.Float64("storage_used_pct", storagePct),
				zap.Int64("budget_used_bytes", budget.Used()))
		}
	}
}

// runConfigWatch hot-reloads the sampling rate from configPath on every
// validated change (spec.md §7, "reload without tearing down") and
// publishes the new config to live. The budget total, server listen
// addresses and storage sizing are not re-applied live.
func runConfigWatch(ctx context.Context, log *zap.Logger, configPath string, live *liveConfig, rate *sampling.AdaptiveRate) {
	w, err := config.Watch(configPath, log)
	if err != nil {
		log.Warn("config watch disabled", zap.Error(err))
		return
	}
	defer w.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-w.Updates():
			if !ok {
				return
			}
			live.set(cfg)
			rate.Set(cfg.Sampling.DefaultRate)
			log.Info("config reloaded", zap.String("path", configPath))
		}
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("urpo"),
		kong.Description("OTLP trace, metric and log ingestion backend."),
		kong.UsageOnError(),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}
