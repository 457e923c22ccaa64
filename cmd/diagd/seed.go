package main

import (
	"context"
	"fmt"

	"github.com/tinytelemetry/diagd/internal/duckdb"
)

var demoEmployees = []duckdb.Employee{
	{FullName: "Ana Petrova", Email: "ana.petrova@example.com"},
	{FullName: "Ivan Sokolov", Email: "ivan.sokolov@example.com"},
}

// seedDemoData fills an empty store with a few employees and requests through
// the monitored repository, so the query log and integrity report have rows
// to show. A store that already has employees is left alone.
func seedDemoData(ctx context.Context, store *duckdb.Store) (int, error) {
	existing, err := store.ListEmployees(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing employees: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}

	created := 0
	for i, e := range demoEmployees {
		emp, err := store.CreateEmployee(ctx, e)
		if err != nil {
			return created, fmt.Errorf("creating employee %q: %w", e.FullName, err)
		}
		created++

		req, err := store.CreateRequest(ctx, duckdb.Request{
			RequestNumber: fmt.Sprintf("REQ-%04d", i+1),
			EmployeeID:    emp.ID,
			EmployeeName:  emp.FullName,
			Type:          "vacation",
			Status:        "pending",
		})
		if err != nil {
			return created, fmt.Errorf("creating request for %q: %w", emp.FullName, err)
		}
		created++

		if err := store.UpdateRequestStatus(ctx, req.ID, "approved"); err != nil {
			return created, fmt.Errorf("approving %s: %w", req.RequestNumber, err)
		}
	}

	if _, err := store.ListRequests(ctx, duckdb.RequestFilter{Status: "approved"}); err != nil {
		return created, fmt.Errorf("listing requests: %w", err)
	}
	return created, nil
}
