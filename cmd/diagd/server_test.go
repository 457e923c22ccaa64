package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinytelemetry/diagd/internal/collector"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/localstore"
	"github.com/tinytelemetry/diagd/internal/model"
)

func testConfig(t *testing.T) appConfig {
	t.Helper()
	return appConfig{
		APIAddr:         "127.0.0.1:0",
		Environment:     defaultEnvironment,
		EventCapacity:   100,
		LocalStorePath:  filepath.Join(t.TempDir(), "events.jsonl"),
		LocalStoreLimit: 10,
	}
}

func TestBuildMonitorsDevelopmentUsesLocalStore(t *testing.T) {
	mon := buildMonitors(testConfig(t), io.Discard, log.New(io.Discard, "", 0))
	local, ok := mon.sink.(*localstore.Store)
	if !ok {
		t.Fatalf("sink = %T, want *localstore.Store", mon.sink)
	}
	defer local.Close()

	mon.logger.Info(model.CategoryUI, "hello", nil, nil)
	if n := len(local.Events()); n != 1 {
		t.Errorf("local events = %d, want 1", n)
	}
}

func TestBuildMonitorsProductionUsesNopSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = environmentProduction
	mon := buildMonitors(cfg, io.Discard, log.New(io.Discard, "", 0))
	if _, ok := mon.sink.(diag.NopSink); !ok {
		t.Errorf("sink = %T, want NopSink", mon.sink)
	}
}

func TestCriticalEventsReachInProcessCollector(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = environmentProduction
	mon := buildMonitors(cfg, io.Discard, log.New(io.Discard, "", 0))

	mon.logger.Critical(model.CategoryDatabase, "store unreachable", nil, nil)
	mon.logger.Warn(model.CategoryDatabase, "slow", nil, nil)
	mon.logger.Flush()

	got := mon.collector.Events(collector.Filter{})
	if len(got) != 1 || got[0].Level != model.LevelCritical || got[0].IP != "in-process" {
		t.Fatalf("collector events = %+v", got)
	}
}

func TestConsoleTapsCaptureStdLog(t *testing.T) {
	cfg := testConfig(t)
	cfg.Environment = environmentProduction
	var file bytes.Buffer
	mon := buildMonitors(cfg, io.Discard, log.New(io.Discard, "", 0))

	std := log.New(mon.logger.ErrorWriter(&file), "", 0)
	std.Printf("duckdb: checkpoint failed")

	if !strings.Contains(file.String(), "checkpoint failed") {
		t.Error("line not passed through to the log file")
	}
	events := mon.logger.GetEvents(diag.EventFilter{Level: model.LevelError})
	if len(events) != 1 || events[0].Type() != "console_error" {
		t.Errorf("events = %+v", events)
	}
}

func TestNetworkProbeHTTPIsMonitored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Environment = environmentProduction
	mon := buildMonitors(cfg, io.Discard, log.New(io.Discard, "", 0))

	if !networkProbe(srv.URL, mon.calls)(context.Background()) {
		t.Fatal("probe failed against live server")
	}
	if n := mon.calls.GetStatistics().TotalCalls; n != 1 {
		t.Errorf("recorded calls = %d, want 1", n)
	}
}

func TestRenderStartupBanner(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIAddr = "127.0.0.1:3001"
	out := renderStartupBanner(cfg)
	for _, want := range []string{"/api/diagnostic", "/metrics", "in-process", "in-memory"} {
		if !strings.Contains(out, want) {
			t.Errorf("banner missing %q", want)
		}
	}
}
