// Package diag implements the diagnostic Logger: the single funnel every
// monitor reports through. It keeps a bounded in-memory event store, per-level
// counters that survive eviction, a console rendering of every event, forwarding
// of CRITICAL/FATAL events to a collector and a best-effort local sink.
package diag

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

// Thresholds is the static per-level notice table. A notice fires every time
// the level's counter is at or above its threshold.
var Thresholds = map[model.Level]int64{
	model.LevelWarn:     10,
	model.LevelError:    5,
	model.LevelCritical: 2,
	model.LevelFatal:    1,
}

const forwardTimeout = 10 * time.Second

// Config holds the Logger's collaborators. Zero values select defaults.
type Config struct {
	Capacity int
	// Output receives the rendered console form of every event. It must not
	// be one of this Logger's console taps.
	Output    io.Writer
	Sink      model.EventSink
	Forwarder model.EventForwarder
	Metrics   *metrics.Metrics
	// Memory reports current heap usage in MB; 0 means not measurable.
	Memory func() float64
	Online func() bool
	Now    func() time.Time
}

// Logger records diagnostic events. It is safe for concurrent use.
type Logger struct {
	mu      sync.Mutex
	events  *ring.Buffer[model.DiagnosticEvent]
	counts  map[model.Level]int64
	session model.Session

	outMu sync.Mutex
	out   io.Writer

	sink      model.EventSink
	forwarder model.EventForwarder
	metrics   *metrics.Metrics
	memory    func() float64
	online    func() bool
	now       func() time.Time

	inflight sync.WaitGroup
}

// New creates a Logger with a fresh session.
func New(cfg Config) *Logger {
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultEventCapacity
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Memory == nil {
		cfg.Memory = HeapInUseMB
	}
	if cfg.Online == nil {
		cfg.Online = func() bool { return true }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	started := cfg.Now()
	return &Logger{
		events:    ring.New[model.DiagnosticEvent](cfg.Capacity),
		counts:    zeroCounts(),
		session:   model.Session{ID: newID("session", started), StartedAt: started.UTC()},
		out:       cfg.Output,
		sink:      cfg.Sink,
		forwarder: cfg.Forwarder,
		metrics:   cfg.Metrics,
		memory:    cfg.Memory,
		online:    cfg.Online,
		now:       cfg.Now,
	}
}

func zeroCounts() map[model.Level]int64 {
	counts := make(map[model.Level]int64, len(model.Levels))
	for _, l := range model.Levels {
		counts[l] = 0
	}
	return counts
}

// Session returns the process session this Logger stamps on events.
func (l *Logger) Session() model.Session { return l.session }

// Log records one event. It never panics and never blocks on forwarding.
func (l *Logger) Log(e model.Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.note("diag: logger internal failure: %v", r)
		}
	}()

	now := l.now()
	if !e.Level.Valid() {
		e.Level = model.LevelInfo
	}
	ev := model.DiagnosticEvent{
		ID:         newID("event", now),
		Timestamp:  now.UTC(),
		Level:      e.Level,
		Category:   e.Category,
		Message:    e.Message,
		Details:    e.Details,
		StackTrace: e.StackTrace,
		SessionID:  l.session.ID,
		Context:    copyContext(e.Context),
		Meta:       e.Meta,
	}
	if mb := l.memory(); mb > 0 {
		ev.Meta.MemoryUsage = mb
	}

	l.mu.Lock()
	l.events.Push(ev)
	l.counts[ev.Level]++
	count := l.counts[ev.Level]
	l.mu.Unlock()

	l.metrics.ObserveEvent(string(ev.Level), string(ev.Category))
	l.write(renderEvent(ev))

	if ev.Level == model.LevelCritical || ev.Level == model.LevelFatal {
		l.forward(ev)
	}

	if threshold, ok := Thresholds[ev.Level]; ok && count >= threshold {
		l.metrics.ObserveThreshold(string(ev.Level))
		l.write(renderThreshold(ev, count, threshold))
	}

	if err := l.sink.Record(ev); err != nil {
		l.note("diag: local sink write failed: %v", err)
	}
}

func (l *Logger) forward(ev model.DiagnosticEvent) {
	if l.forwarder == nil {
		return
	}
	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				l.metrics.ObserveForwardFailure()
				l.note("diag: failed to send diagnostic event to collector: %v", r)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), forwardTimeout)
		defer cancel()
		if err := l.forwarder.Forward(ctx, ev); err != nil {
			l.metrics.ObserveForwardFailure()
			l.note("diag: failed to send diagnostic event to collector: %v", err)
		}
	}()
}

// Flush waits for in-flight forwards to finish.
func (l *Logger) Flush() {
	l.inflight.Wait()
}

func (l *Logger) write(s string) {
	l.outMu.Lock()
	defer l.outMu.Unlock()
	_, _ = io.WriteString(l.out, s)
}

// note writes a secondary message straight to the console, bypassing the store.
func (l *Logger) note(format string, args ...any) {
	l.write(fmt.Sprintf(format, args...) + "\n")
}

func copyContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// EventFilter narrows GetEvents. Zero fields match everything.
type EventFilter struct {
	Level    model.Level
	Category model.Category
	Limit    int
}

// GetEvents returns retained events, most recent last, filtered and then
// tail-limited.
func (l *Logger) GetEvents(f EventFilter) []model.DiagnosticEvent {
	l.mu.Lock()
	items := l.events.Items()
	l.mu.Unlock()

	return ring.Tail(items, func(e model.DiagnosticEvent) bool {
		if f.Level != "" && e.Level != f.Level {
			return false
		}
		if f.Category != "" && e.Category != f.Category {
			return false
		}
		return true
	}, f.Limit)
}

// Statistics summarises the session.
type Statistics struct {
	SessionID string `json:"sessionId"`
	// TotalEvents is the number of retained events.
	TotalEvents int `json:"totalEvents"`
	// LoggedEvents is the number of events logged since start or the last clear.
	LoggedEvents int64                 `json:"loggedEvents"`
	ErrorCounts  map[model.Level]int64 `json:"errorCounts"`
	ErrorRate    float64               `json:"errorRate"`
	MemoryUsage  float64               `json:"memoryUsage"`
	IsOnline     bool                  `json:"isOnline"`
}

// GetStatistics returns counters, error rate and runtime state.
func (l *Logger) GetStatistics() Statistics {
	l.mu.Lock()
	counts := make(map[model.Level]int64, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	retained := l.events.Len()
	l.mu.Unlock()

	return Statistics{
		SessionID:    l.session.ID,
		TotalEvents:  retained,
		LoggedEvents: sumCounts(counts),
		ErrorCounts:  counts,
		ErrorRate:    errorRate(counts),
		MemoryUsage:  l.memory(),
		IsOnline:     l.online(),
	}
}

// ErrorRate returns 100 * (ERROR+CRITICAL+FATAL) / events logged, 0 when empty.
func (l *Logger) ErrorRate() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return errorRate(l.counts)
}

func sumCounts(counts map[model.Level]int64) int64 {
	var total int64
	for _, v := range counts {
		total += v
	}
	return total
}

func errorRate(counts map[model.Level]int64) float64 {
	total := sumCounts(counts)
	if total == 0 {
		return 0
	}
	failures := counts[model.LevelError] + counts[model.LevelCritical] + counts[model.LevelFatal]
	return float64(failures) / float64(total) * 100
}

// Export is the full serialised dump of the session.
type Export struct {
	SessionID string                  `json:"sessionId" yaml:"sessionId"`
	Timestamp time.Time               `json:"timestamp" yaml:"timestamp"`
	Events    []model.DiagnosticEvent `json:"events" yaml:"events"`
	Summary   ExportSummary           `json:"summary" yaml:"summary"`
}

// ExportSummary carries the counts section of an Export.
type ExportSummary struct {
	Total  int                   `json:"total" yaml:"total"`
	Counts map[model.Level]int64 `json:"counts" yaml:"counts"`
}

// ExportLogs snapshots every retained event with the session counters.
func (l *Logger) ExportLogs() Export {
	l.mu.Lock()
	events := l.events.Items()
	counts := make(map[model.Level]int64, len(l.counts))
	for k, v := range l.counts {
		counts[k] = v
	}
	l.mu.Unlock()

	return Export{
		SessionID: l.session.ID,
		Timestamp: l.now().UTC(),
		Events:    events,
		Summary:   ExportSummary{Total: len(events), Counts: counts},
	}
}

// ExportJSON returns ExportLogs as indented JSON.
func (l *Logger) ExportJSON() ([]byte, error) {
	return json.MarshalIndent(l.ExportLogs(), "", "  ")
}

// ClearLogs empties the event store and zeroes every counter. The session id
// is kept.
func (l *Logger) ClearLogs() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events.Reset()
	l.counts = zeroCounts()
}

func (l *Logger) Debug(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelDebug, Category: c, Message: msg, Details: details, Context: ctx})
}

func (l *Logger) Info(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelInfo, Category: c, Message: msg, Details: details, Context: ctx})
}

func (l *Logger) Warn(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelWarn, Category: c, Message: msg, Details: details, Context: ctx})
}

func (l *Logger) Error(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelError, Category: c, Message: msg, Details: details, Context: ctx})
}

func (l *Logger) Critical(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelCritical, Category: c, Message: msg, Details: details, Context: ctx})
}

func (l *Logger) Fatal(c model.Category, msg string, details any, ctx map[string]any) {
	l.Log(model.Entry{Level: model.LevelFatal, Category: c, Message: msg, Details: details, Context: ctx})
}
