// Package collector holds diagnostic events received from other processes in
// a bounded in-memory list.
package collector

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

// ReceivedEvent is a DiagnosticEvent plus what the collector saw on receipt.
type ReceivedEvent struct {
	model.DiagnosticEvent `yaml:",inline"`
	ReceivedAt            time.Time `json:"receivedAt" yaml:"receivedAt"`
	IP                    string    `json:"ip,omitempty" yaml:"ip,omitempty"`
	UserAgent             string    `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	URL                   string    `json:"url,omitempty" yaml:"url,omitempty"`
}

type Config struct {
	Capacity int
	// Output receives the console notice for CRITICAL and FATAL events.
	Output  io.Writer
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Store is safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	events *ring.Buffer[ReceivedEvent]

	outMu   sync.Mutex
	out     io.Writer
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(cfg Config) *Store {
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultReceivedCapacity
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		events:  ring.New[ReceivedEvent](cfg.Capacity),
		out:     cfg.Output,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
}

// Receive stores ev, stamping ReceivedAt, and returns the stored copy.
func (s *Store) Receive(ev ReceivedEvent) ReceivedEvent {
	ev.ReceivedAt = s.now().UTC()

	s.mu.Lock()
	s.events.Push(ev)
	s.mu.Unlock()

	s.metrics.ObserveReceived(string(ev.Level))
	if ev.Level == model.LevelCritical || ev.Level == model.LevelFatal {
		s.outMu.Lock()
		_, _ = io.WriteString(s.out, renderCritical(ev))
		s.outMu.Unlock()
	}
	return ev
}

// Forward lets the Logger deliver straight into this store when no remote
// collector is configured.
func (s *Store) Forward(_ context.Context, ev model.DiagnosticEvent) error {
	s.Receive(ReceivedEvent{DiagnosticEvent: ev, IP: "in-process"})
	return nil
}

// Filter narrows Events. Zero fields match everything.
type Filter struct {
	Level     model.Level
	Category  model.Category
	SessionID string
	Limit     int
}

// Events returns stored events, oldest first, filtered then tail-limited.
func (s *Store) Events(f Filter) []ReceivedEvent {
	s.mu.Lock()
	items := s.events.Items()
	s.mu.Unlock()

	return ring.Tail(items, func(e ReceivedEvent) bool {
		if f.Level != "" && e.Level != f.Level {
			return false
		}
		if f.Category != "" && e.Category != f.Category {
			return false
		}
		if f.SessionID != "" && e.SessionID != f.SessionID {
			return false
		}
		return true
	}, f.Limit)
}

// Len returns the number of stored events.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// Failures counts stored ERROR, CRITICAL and FATAL events.
func (s *Store) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	s.events.Each(func(e ReceivedEvent) bool {
		if e.Level.IsFailure() {
			n++
		}
		return true
	})
	return n
}

// Clear empties the store and returns how many events it held.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.events.Len()
	s.events.Reset()
	return n
}

// LastHour counts events whose own timestamp falls in the past hour.
type LastHour struct {
	Total    int `json:"total"`
	Errors   int `json:"errors"`
	Critical int `json:"critical"`
}

// Stats summarises the buffered logs. Capacity is the buffer bound and
// TotalReceived counts every log received since the last Clear, including
// those already evicted.
type Stats struct {
	TotalLogs     int                    `json:"totalLogs"`
	Capacity      int                    `json:"capacity"`
	TotalReceived uint64                 `json:"totalReceived"`
	ByLevel       map[model.Level]int    `json:"byLevel"`
	ByCategory    map[model.Category]int `json:"byCategory"`
	BySessions    int                    `json:"bySessions"`
	LastHour      LastHour               `json:"lastHour"`
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	items := s.events.Items()
	st := Stats{
		TotalLogs:     len(items),
		Capacity:      s.events.Cap(),
		TotalReceived: s.events.Total(),
		ByLevel:       map[model.Level]int{},
		ByCategory:    map[model.Category]int{},
	}
	s.mu.Unlock()

	cutoff := s.now().Add(-time.Hour)
	sessions := map[string]struct{}{}
	for _, e := range items {
		st.ByLevel[e.Level]++
		st.ByCategory[e.Category]++
		sessions[e.SessionID] = struct{}{}

		if e.Timestamp.After(cutoff) {
			st.LastHour.Total++
			switch e.Level {
			case model.LevelError:
				st.LastHour.Errors++
			case model.LevelCritical, model.LevelFatal:
				st.LastHour.Critical++
			}
		}
	}
	st.BySessions = len(sessions)
	return st
}
