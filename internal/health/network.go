package health

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

const probeTimeout = 3 * time.Second

// NetworkWatcher tracks reachability and logs each transition.
type NetworkWatcher struct {
	mu     sync.Mutex
	online bool

	logger model.EventLogger
	probe  func(ctx context.Context) bool
}

// NewNetworkWatcher dials addr for each probe. An empty addr is always
// reachable. The watcher starts online.
func NewNetworkWatcher(logger model.EventLogger, addr string) *NetworkWatcher {
	return NewNetworkWatcherFunc(logger, DialProbe(addr))
}

// NewNetworkWatcherFunc uses probe to test reachability.
func NewNetworkWatcherFunc(logger model.EventLogger, probe func(ctx context.Context) bool) *NetworkWatcher {
	return &NetworkWatcher{online: true, logger: logger, probe: probe}
}

// DialProbe returns a probe that opens and closes a TCP connection to addr.
func DialProbe(addr string) func(ctx context.Context) bool {
	if addr == "" {
		return func(context.Context) bool { return true }
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}
}

// HTTPProbe returns a probe that sends HEAD to url with client. Any response
// counts as reachable; only a transport failure counts as offline.
func HTTPProbe(client *http.Client, url string) func(ctx context.Context) bool {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context) bool {
		ctx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return true
	}
}

// Online returns the last observed state.
func (w *NetworkWatcher) Online() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.online
}

// Check probes once and logs if the state changed.
func (w *NetworkWatcher) Check(ctx context.Context) bool {
	now := w.probe(ctx)

	w.mu.Lock()
	changed := now != w.online
	w.online = now
	w.mu.Unlock()

	if !changed || w.logger == nil {
		return now
	}
	if now {
		w.logger.Log(model.Entry{
			Level:    model.LevelInfo,
			Category: model.CategoryNetwork,
			Message:  "Network connection restored",
			Context:  map[string]any{"type": "network_online"},
		})
	} else {
		w.logger.Log(model.Entry{
			Level:    model.LevelError,
			Category: model.CategoryNetwork,
			Message:  "Network connection lost",
			Context:  map[string]any{"type": "network_offline"},
		})
	}
	return now
}

// Run probes every interval until ctx is done.
func (w *NetworkWatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = model.DefaultNetworkInterval
	}
	return every(ctx, interval, func() { w.Check(ctx) })
}
