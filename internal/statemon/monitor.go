// Package statemon validates application state snapshots against a registry
// of invariant rules, keeps a bounded snapshot history and flags forbidden
// status regressions between two states.
package statemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tinytelemetry/diagd/internal/metrics"
	"github.com/tinytelemetry/diagd/internal/model"
	"github.com/tinytelemetry/diagd/internal/ring"
)

// ViolationType classifies a failed rule.
type ViolationType string

const (
	Contradiction     ViolationType = "CONTRADICTION"
	InvalidTransition ViolationType = "INVALID_TRANSITION"
	Duplicate         ViolationType = "DUPLICATE"
	MemoryLeak        ViolationType = "MEMORY_LEAK"
	CircularRef       ViolationType = "CIRCULAR_REF"
)

// Violation is one failed rule evaluation.
type Violation struct {
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Details   any           `json:"details,omitempty"`
	Rule      string        `json:"rule,omitempty"`
	StoreName string        `json:"storeName,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Snapshot is a deep copy of a store's state at a point in time.
type Snapshot struct {
	Timestamp  time.Time `json:"timestamp"`
	StoreName  string    `json:"storeName"`
	State      any       `json:"state"`
	ActionName string    `json:"actionName,omitempty"`
}

// State is what rules evaluate: the decoded copy plus its encoding.
type State struct {
	// Value is the JSON-shaped copy; nil when the state could not be encoded.
	Value map[string]any
	// Encoded is the serialised form used for size checks.
	Encoded []byte
	// EncodeErr is set when the state could not be serialised.
	EncodeErr error
	Now       time.Time
}

// Rule is a named predicate. Check returns nil when the state is fine.
type Rule struct {
	Name  string
	Check func(State) *Violation
}

type Config struct {
	Capacity int
	Logger   model.EventLogger
	Metrics  *metrics.Metrics
	Now      func() time.Time
}

// Monitor is the state validator. It is safe for concurrent use.
type Monitor struct {
	mu         sync.Mutex
	snapshots  *ring.Buffer[Snapshot]
	violations []Violation
	rules      []Rule

	logger  model.EventLogger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Monitor loaded with the built-in rules.
func New(cfg Config) *Monitor {
	if cfg.Capacity <= 0 {
		cfg.Capacity = model.DefaultSnapshotCapacity
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	m := &Monitor{
		snapshots: ring.New[Snapshot](cfg.Capacity),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       cfg.Now,
	}
	m.rules = append(m.rules, DefaultRules()...)
	return m
}

// RegisterRule appends r to the registry. It runs on every later snapshot.
func (m *Monitor) RegisterRule(r Rule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
}

// Rules returns the registered rule names in evaluation order.
func (m *Monitor) Rules() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.rules))
	for i, r := range m.rules {
		names[i] = r.Name
	}
	return names
}

// Snapshot copies state into the history and evaluates every rule against
// it. It returns the violations found.
func (m *Monitor) Snapshot(storeName string, state any, actionName string) []Violation {
	now := m.now()
	st := Normalize(state)
	st.Now = now

	var copied any
	if st.Value != nil {
		copied = st.Value
	}

	m.mu.Lock()
	m.snapshots.Push(Snapshot{
		Timestamp:  now.UTC(),
		StoreName:  storeName,
		State:      copied,
		ActionName: actionName,
	})
	rules := make([]Rule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	var found []Violation
	for _, r := range rules {
		v := r.Check(st)
		if v == nil {
			continue
		}
		v.Rule = r.Name
		v.StoreName = storeName
		v.Timestamp = now.UTC()
		found = append(found, *v)
	}
	if len(found) == 0 {
		return nil
	}

	m.mu.Lock()
	m.violations = append(m.violations, found...)
	m.mu.Unlock()

	for _, v := range found {
		m.metrics.ObserveViolation(string(v.Type))
		m.report(v, actionName)
	}
	return found
}

func (m *Monitor) report(v Violation, actionName string) {
	if m.logger == nil {
		return
	}
	level := model.LevelError
	if v.Type == MemoryLeak || v.Type == CircularRef {
		level = model.LevelCritical
	}
	m.logger.Log(model.Entry{
		Level:    level,
		Category: model.CategoryState,
		Message:  "State validation failed: " + v.Message,
		Details: map[string]any{
			"storeName":  v.StoreName,
			"actionName": actionName,
			"rule":       v.Rule,
			"violation":  v.Details,
		},
		Context: map[string]any{
			"type":          "state_violation",
			"violationType": string(v.Type),
		},
	})
}

// Normalize deep-copies state through its JSON form. Maps, structs and
// already-decoded values are all accepted.
func Normalize(state any) State {
	data, err := json.Marshal(state)
	if err != nil {
		return State{EncodeErr: err}
	}
	st := State{Encoded: data}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		st.EncodeErr = err
		return st
	}
	if obj, ok := decoded.(map[string]any); ok {
		st.Value = obj
	}
	return st
}

// isCycle reports whether err is the encoder's cycle detection failure.
func isCycle(err error) bool {
	var unsupported *json.UnsupportedValueError
	if !errors.As(err, &unsupported) {
		return false
	}
	return strings.Contains(strings.ToLower(unsupported.Str), "cycle")
}

// ViolationFilter narrows GetViolations.
type ViolationFilter struct {
	Type ViolationType
}

// GetViolations returns every violation recorded since start.
func (m *Monitor) GetViolations(f ViolationFilter) []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Violation, 0, len(m.violations))
	for _, v := range m.violations {
		if f.Type == "" || v.Type == f.Type {
			out = append(out, v)
		}
	}
	return out
}

// SnapshotFilter narrows GetSnapshots.
type SnapshotFilter struct {
	StoreName string
	Limit     int
}

func (m *Monitor) GetSnapshots(f SnapshotFilter) []Snapshot {
	m.mu.Lock()
	items := m.snapshots.Items()
	m.mu.Unlock()

	return ring.Tail(items, func(s Snapshot) bool {
		return f.StoreName == "" || s.StoreName == f.StoreName
	}, f.Limit)
}

// Statistics counts snapshots and violations.
type Statistics struct {
	TotalSnapshots   int                   `json:"totalSnapshots"`
	TotalViolations  int                   `json:"totalViolations"`
	ViolationsByType map[ViolationType]int `json:"violationsByType"`
}

func (m *Monitor) GetStatistics() Statistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Statistics{
		TotalSnapshots:   m.snapshots.Len(),
		TotalViolations:  len(m.violations),
		ViolationsByType: map[ViolationType]int{},
	}
	for _, v := range m.violations {
		st.ViolationsByType[v.Type]++
	}
	return st
}

// Export is the dump of history, violations and statistics.
type Export struct {
	Timestamp  time.Time   `json:"timestamp"`
	Snapshots  []Snapshot  `json:"snapshots"`
	Violations []Violation `json:"violations"`
	Statistics Statistics  `json:"statistics"`
}

func (m *Monitor) Export() Export {
	return Export{
		Timestamp:  m.now().UTC(),
		Snapshots:  m.GetSnapshots(SnapshotFilter{}),
		Violations: m.GetViolations(ViolationFilter{}),
		Statistics: m.GetStatistics(),
	}
}

func (m *Monitor) ExportJSON() ([]byte, error) {
	data, err := json.MarshalIndent(m.Export(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding state export: %w", err)
	}
	return data, nil
}
