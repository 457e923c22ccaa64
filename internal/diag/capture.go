package diag

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"

	"github.com/tinytelemetry/diagd/internal/model"
)

// CapturePanic records a recovered panic as an uncaught UI error and then
// re-panics with the original value. Use it directly as a deferred call:
//
//	defer logger.CapturePanic()
func (l *Logger) CapturePanic() {
	if r := recover(); r != nil {
		l.RecordPanic(r, debug.Stack())
		panic(r)
	}
}

// RecordPanic logs a recovered panic value with its stack.
func (l *Logger) RecordPanic(value any, stack []byte) {
	details := map[string]any{"value": fmt.Sprint(value)}
	if err, ok := value.(error); ok {
		details["error"] = err.Error()
	}
	l.Log(model.Entry{
		Level:      model.LevelError,
		Category:   model.CategoryUI,
		Message:    fmt.Sprintf("Uncaught Error: %v", value),
		Details:    details,
		StackTrace: string(stack),
		Context:    map[string]any{"type": "global_error"},
	})
}

// Go runs fn on its own goroutine. A returned error is logged as an unhandled
// rejection; a panic is logged and then re-raised.
func (l *Logger) Go(fn func() error) {
	go func() {
		defer l.CapturePanic()
		if err := fn(); err != nil {
			l.RecordRejection(err, debug.Stack())
		}
	}()
}

// RecordRejection logs an error nobody was waiting for.
func (l *Logger) RecordRejection(err error, stack []byte) {
	l.Log(model.Entry{
		Level:      model.LevelError,
		Category:   model.CategoryLogic,
		Message:    fmt.Sprintf("Unhandled Promise Rejection: %v", err),
		Details:    map[string]any{"reason": err.Error()},
		StackTrace: string(stack),
		Context:    map[string]any{"type": "promise_rejection"},
	})
}

// ErrorWriter returns a writer that mirrors each write as an ERROR/LOGIC
// "Console Error" event and then passes it to next (which may be nil).
func (l *Logger) ErrorWriter(next io.Writer) io.Writer {
	return &consoleTap{logger: l, next: next, level: model.LevelError, message: "Console Error", kind: "console_error"}
}

// WarnWriter is ErrorWriter for the warning channel.
func (l *Logger) WarnWriter(next io.Writer) io.Writer {
	return &consoleTap{logger: l, next: next, level: model.LevelWarn, message: "Console Warning", kind: "console_warn"}
}

type consoleTap struct {
	logger  *Logger
	next    io.Writer
	level   model.Level
	message string
	kind    string
}

func (t *consoleTap) Write(p []byte) (int, error) {
	t.logger.Log(model.Entry{
		Level:    t.level,
		Category: model.CategoryLogic,
		Message:  t.message,
		Details:  map[string]any{"args": []string{strings.TrimRight(string(p), "\n")}},
		Context:  map[string]any{"type": t.kind},
	})
	if t.next == nil {
		return len(p), nil
	}
	return t.next.Write(p)
}
