package model

import "time"

// Level is the ordered severity of a DiagnosticEvent.
type Level string

const (
	LevelDebug    Level = "DEBUG"
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelError    Level = "ERROR"
	LevelCritical Level = "CRITICAL"
	LevelFatal    Level = "FATAL"
)

// Levels lists every severity in ascending order.
var Levels = []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelCritical, LevelFatal}

// Category classifies the subsystem an event originated from.
type Category string

const (
	CategoryUI          Category = "UI"
	CategoryAPI         Category = "API"
	CategoryDatabase    Category = "DATABASE"
	CategoryLogic       Category = "LOGIC"
	CategoryPerformance Category = "PERFORMANCE"
	CategoryMemory      Category = "MEMORY"
	CategoryNetwork     Category = "NETWORK"
	CategoryState       Category = "STATE"
	CategorySecurity    Category = "SECURITY"
	CategoryValidation  Category = "VALIDATION"
)

// Categories lists every known category.
var Categories = []Category{
	CategoryUI, CategoryAPI, CategoryDatabase, CategoryLogic, CategoryPerformance,
	CategoryMemory, CategoryNetwork, CategoryState, CategorySecurity, CategoryValidation,
}

// Meta holds numeric annotations attached opportunistically to an event.
type Meta struct {
	Component      string  `json:"component,omitempty" yaml:"component,omitempty"`
	Action         string  `json:"action,omitempty" yaml:"action,omitempty"`
	Duration       float64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	MemoryUsage    float64 `json:"memoryUsage,omitempty" yaml:"memoryUsage,omitempty"`
	NetworkLatency float64 `json:"networkLatency,omitempty" yaml:"networkLatency,omitempty"`
}

// DiagnosticEvent is one structured diagnostic record. It is never mutated
// after the Logger creates it.
type DiagnosticEvent struct {
	ID         string         `json:"id" yaml:"id"`
	Timestamp  time.Time      `json:"timestamp" yaml:"timestamp"`
	Level      Level          `json:"level" yaml:"level"`
	Category   Category       `json:"category" yaml:"category"`
	Message    string         `json:"message" yaml:"message"`
	Details    any            `json:"details,omitempty" yaml:"details,omitempty"`
	StackTrace string         `json:"stackTrace,omitempty" yaml:"stackTrace,omitempty"`
	SessionID  string         `json:"sessionId" yaml:"sessionId"`
	Context    map[string]any `json:"context,omitempty" yaml:"context,omitempty"`
	Meta       Meta           `json:"meta" yaml:"meta"`
}

// Type returns the context "type" tag naming the originating rule or check.
func (e DiagnosticEvent) Type() string {
	if e.Context == nil {
		return ""
	}
	s, _ := e.Context["type"].(string)
	return s
}

// Entry is the caller-supplied part of an event; the Logger fills in id,
// timestamp, session and memory usage.
type Entry struct {
	Level      Level
	Category   Category
	Message    string
	Details    any
	Context    map[string]any
	StackTrace string
	Meta       Meta
}

// Session identifies one running process. All its events carry ID.
type Session struct {
	ID        string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}
