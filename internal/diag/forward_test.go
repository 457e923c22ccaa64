package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tinytelemetry/diagd/internal/model"
)

func TestHTTPForwarderPostsJSON(t *testing.T) {
	var got model.DiagnosticEvent
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := NewHTTPForwarder(srv.URL+"/api/diagnostic/log", nil)
	ev := model.DiagnosticEvent{ID: "event-1-abc", Level: model.LevelCritical, Category: model.CategoryAPI, Message: "down"}
	if err := f.Forward(context.Background(), ev); err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if got.ID != ev.ID || got.Level != ev.Level {
		t.Errorf("collector received %+v", got)
	}
}

func TestHTTPForwarderNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewHTTPForwarder(srv.URL, nil)
	if err := f.Forward(context.Background(), model.DiagnosticEvent{}); err == nil {
		t.Fatal("expected error for 502")
	}
}
