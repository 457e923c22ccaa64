package main

import (
	"context"
	"io"
	"testing"

	"github.com/tinytelemetry/diagd/internal/dbmon"
	"github.com/tinytelemetry/diagd/internal/diag"
	"github.com/tinytelemetry/diagd/internal/duckdb"
)

func TestSeedDemoDataRecordsQueries(t *testing.T) {
	logger := diag.New(diag.Config{Output: io.Discard})
	queries := dbmon.New(dbmon.Config{Logger: logger})
	store, err := duckdb.NewStore("", queries)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	n, err := seedDemoData(ctx, store)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if n != 4 {
		t.Errorf("created %d rows, want 4", n)
	}

	st := queries.GetStatistics()
	if st.TotalQueries == 0 {
		t.Error("seeding recorded no queries")
	}
	if issues := store.AnalyzeIntegrity(ctx); len(issues) != 0 {
		t.Errorf("seeded data has integrity issues: %+v", issues)
	}

	again, err := seedDemoData(ctx, store)
	if err != nil || again != 0 {
		t.Errorf("second seed = %d, %v; want a no-op", again, err)
	}
	employees, err := store.ListEmployees(ctx)
	if err != nil || len(employees) != len(demoEmployees) {
		t.Errorf("employees = %d, %v", len(employees), err)
	}
}
