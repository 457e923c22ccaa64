package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/diagd/internal/apimon"
	"github.com/tinytelemetry/diagd/internal/collector"
	"github.com/tinytelemetry/diagd/internal/dbmon"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/duckdb"
	"github.com/tinytelemetry/diagd/internal/health"
	"github.com/tinytelemetry/diagd/internal/httpserver"
	"github.com/tinytelemetry/diagd/internal/localstore"
	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/statemon"
)

// monitors is the composition root: one instance of each monitor, shared by
// the HTTP API and the background loops.
type monitors struct {
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	logger    *diag.Logger
	collector *collector.Store
	calls     *apimon.Monitor
	queries   *dbmon.Monitor
	state     *statemon.Monitor
	network   *health.NetworkWatcher
	memory    *health.MemoryWatcher
	health    *health.Aggregator
	sink      model.EventSink
}

// sinkCloser is implemented by sinks holding a file.
type sinkCloser interface {
	Close() error
}

// buildMonitors wires every monitor. console receives the Logger's and the
// collector's rendered output and must not be tapped by the Logger.
func buildMonitors(cfg appConfig, console io.Writer, warnings *log.Logger) *monitors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	mon := &monitors{registry: reg, metrics: m, sink: diag.NopSink{}}

	mon.collector = collector.New(collector.Config{
		Capacity: cfg.ReceivedCapacity,
		Output:   console,
		Metrics:  m,
	})

	if !cfg.production() {
		local, err := localstore.Open(cfg.LocalStorePath, cfg.LocalStoreLimit)
		if err != nil {
			warnings.Printf("localstore: disabled: %v", err)
		} else {
			mon.sink = local
		}
	}

	var forwarder model.EventForwarder = mon.collector
	if cfg.CollectorURL != "" {
		forwarder = diag.NewHTTPForwarder(cfg.CollectorURL, nil)
	}

	mon.logger = diag.New(diag.Config{
		Capacity:  cfg.EventCapacity,
		Output:    console,
		Sink:      mon.sink,
		Forwarder: forwarder,
		Metrics:   m,
		Online:    func() bool { return mon.network == nil || mon.network.Online() },
	})

	mon.calls = apimon.New(apimon.Config{Capacity: cfg.CallCapacity, Logger: mon.logger, Metrics: m})
	mon.queries = dbmon.New(dbmon.Config{Capacity: cfg.QueryCapacity, Logger: mon.logger, Metrics: m})
	mon.state = statemon.New(statemon.Config{Capacity: cfg.SnapshotCapacity, Logger: mon.logger, Metrics: m})

	mon.network = health.NewNetworkWatcherFunc(mon.logger, networkProbe(cfg.NetworkProbeAddr, mon.calls))
	mon.memory = health.NewMemoryWatcher(mon.logger, health.SampleMemory)
	return mon
}

// networkProbe dials host:port targets and sends HEAD through the call
// monitor for http(s) URLs.
func networkProbe(target string, calls *apimon.Monitor) func(ctx context.Context) bool {
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		return health.HTTPProbe(calls.Client(&http.Client{}), target)
	}
	return health.DialProbe(target)
}

// runServer starts the collector API and the background health loops.
func runServer(cfg appConfig) error {
	logFile, cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	warnings := log.New(logFile, "warning: ", log.LstdFlags|log.Lmicroseconds)
	mon := buildMonitors(cfg, os.Stdout, warnings)
	defer mon.logger.Flush()
	if c, ok := mon.sink.(sinkCloser); ok {
		defer c.Close()
	}

	// Operational log lines become console-error events from here on.
	log.SetOutput(mon.logger.ErrorWriter(logFile))
	warnings.SetOutput(mon.logger.WarnWriter(logFile))
	defer log.SetOutput(logFile)

	store, err := duckdb.NewStore(cfg.DBPath, mon.queries, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	if cfg.Seed {
		n, err := seedDemoData(context.Background(), store)
		if err != nil {
			warnings.Printf("seed: %v", err)
		} else if n > 0 {
			log.Printf("seed: created %d demo rows", n)
		}
	}

	mon.health = health.New(health.Config{
		Logger:              mon.logger,
		ErrorRate:           mon.logger.ErrorRate,
		AverageResponseTime: func() float64 { return mon.calls.GetStatistics().AverageDuration },
		Memory:              health.SampleMemory,
		Online:              mon.network.Online,
		Database:            store.Connected,
		Metrics:             mon.metrics,
	})

	apiServer := httpserver.NewServer(cfg.APIAddr, httpserver.Deps{
		Logger:    mon.logger,
		Collector: mon.collector,
		Calls:     mon.calls,
		Queries:   mon.queries,
		State:     mon.state,
		Store:     store,
		Gatherer:  mon.registry,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	printStartupBanner(cfg)
	mon.logger.Info(model.CategoryLogic, "Diagnostic collector started", map[string]any{
		"addr":        cfg.APIAddr,
		"environment": cfg.Environment,
	}, map[string]any{"type": "startup"})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.health.Run(gctx, cfg.HealthInterval) })
	g.Go(func() error { return mon.memory.Run(gctx, cfg.MemoryInterval) })
	g.Go(func() error { return mon.network.Run(gctx, cfg.NetworkInterval) })

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	signal.Stop(sigCh)
	return nil
}

// configureRuntimeLogger points the std logger at ~/.local/state/diagd/diagd.log
// and returns that writer. It falls back to stderr.
func configureRuntimeLogger() (io.Writer, func()) {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return os.Stderr, func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "diagd")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return os.Stderr, func() {}
	}

	f, err := os.OpenFile(filepath.Join(logDir, "diagd.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return os.Stderr, func() {}
	}
	log.SetOutput(f)
	return f, func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig) {
	fmt.Println(renderStartupBanner(cfg))
}

func renderStartupBanner(cfg appConfig) string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔╦╗╦╔═╗╔═╗╔╦╗
     ║║║╠═╣║ ╦ ║║
    ═╩╝╩╩ ╩╚═╝═╩╝`)

	var lines []string
	lines = append(lines, "", logo, "    "+dim.Render("v"+version), "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Collector"), "")
	lines = append(lines, fmt.Sprintf("    %s  HTTP API       %s", check, cyan.Render("http://"+cfg.APIAddr+"/api/diagnostic")))
	lines = append(lines, fmt.Sprintf("    %s  Metrics        %s", check, cyan.Render("http://"+cfg.APIAddr+"/metrics")))
	if cfg.CollectorURL != "" {
		lines = append(lines, fmt.Sprintf("    %s  Forwarding     %s", check, cyan.Render(cfg.CollectorURL)))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Forwarding     %s", dot, dim.Render("in-process")))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "in-memory"
	}
	lines = append(lines, fmt.Sprintf("    %s  Database       %s", check, dim.Render(shortenPath(dbPath))))
	if cfg.production() {
		lines = append(lines, fmt.Sprintf("    %s  Local Events   %s", dot, dim.Render("disabled in production")))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Local Events   %s", check, dim.Render(shortenPath(cfg.LocalStorePath))))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", check, dim.Render(shortenPath(cfg.ConfigPath))))
	} else {
		lines = append(lines, fmt.Sprintf("    %s  Config File    %s", dot, dim.Render("default (no file)")))
	}
	lines = append(lines, fmt.Sprintf("    %s  Environment    %s", check, dim.Render(cfg.Environment)))

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	return strings.Join(lines, "\n")
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
