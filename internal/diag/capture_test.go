package diag

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tinytelemetry/diagd/internal/model"
)

func TestErrorWriterMirrorsAndPassesThrough(t *testing.T) {
	l, _ := newTestLogger(t, 10)
	var original strings.Builder
	w := l.ErrorWriter(&original)

	if _, err := w.Write([]byte("disk full\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	if original.String() != "disk full\n" {
		t.Errorf("original writer got %q", original.String())
	}
	events := l.GetEvents(EventFilter{Level: model.LevelError})
	if len(events) != 1 {
		t.Fatalf("expected one ERROR event, got %d", len(events))
	}
	ev := events[0]
	if ev.Message != "Console Error" || ev.Category != model.CategoryLogic || ev.Type() != "console_error" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestWarnWriter(t *testing.T) {
	l, _ := newTestLogger(t, 10)
	w := l.WarnWriter(nil)
	n, err := w.Write([]byte("deprecated"))
	if err != nil || n != len("deprecated") {
		t.Fatalf("write = %d, %v", n, err)
	}
	events := l.GetEvents(EventFilter{Level: model.LevelWarn})
	if len(events) != 1 || events[0].Type() != "console_warn" {
		t.Fatalf("events = %+v", events)
	}
}

func TestCapturePanicRecordsAndRepanics(t *testing.T) {
	l, _ := newTestLogger(t, 10)

	func() {
		defer func() {
			if r := recover(); r != "kaboom" {
				t.Errorf("re-panicked with %v", r)
			}
		}()
		defer l.CapturePanic()
		panic("kaboom")
	}()

	events := l.GetEvents(EventFilter{Category: model.CategoryUI})
	if len(events) != 1 {
		t.Fatalf("expected one UI event, got %d", len(events))
	}
	ev := events[0]
	if ev.Level != model.LevelError || ev.Type() != "global_error" {
		t.Errorf("unexpected event %+v", ev)
	}
	if !strings.Contains(ev.Message, "kaboom") || ev.StackTrace == "" {
		t.Errorf("missing message or stack: %+v", ev)
	}
}

func TestGoRecordsRejection(t *testing.T) {
	l, _ := newTestLogger(t, 10)
	l.Go(func() error { return errors.New("nobody awaited") })

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if events := l.GetEvents(EventFilter{Level: model.LevelError}); len(events) == 1 {
			if events[0].Type() != "promise_rejection" {
				t.Errorf("type = %s", events[0].Type())
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("rejection was not recorded")
}
