package dbmon

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeSource struct {
	orphans    []RequestRef
	numbers    []RequestRef
	future     []RequestRef
	employees  []EmployeeRef
	numbersErr error
}

func (s fakeSource) OrphanedRequests(context.Context) ([]RequestRef, error) { return s.orphans, nil }

func (s fakeSource) RequestNumbers(context.Context) ([]RequestRef, error) {
	return s.numbers, s.numbersErr
}

func (s fakeSource) RequestsCreatedAfter(context.Context, time.Time) ([]RequestRef, error) {
	return s.future, nil
}

func (s fakeSource) EmployeesWithEmail(context.Context) ([]EmployeeRef, error) {
	return s.employees, nil
}

func issuesOfType(issues []Issue, typ string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Type == typ {
			out = append(out, i)
		}
	}
	return out
}

func TestIntegrityCleanData(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	src := fakeSource{
		numbers:   []RequestRef{{ID: "1", RequestNumber: "R-1"}, {ID: "2", RequestNumber: "R-2"}},
		employees: []EmployeeRef{{ID: "e1", Name: "Anna", Email: "anna@example.com"}},
	}
	if issues := m.AnalyzeDataIntegrity(context.Background(), src); len(issues) != 0 {
		t.Errorf("issues = %+v", issues)
	}
	if len(rec.entries) != 0 {
		t.Errorf("clean analysis logged %d events", len(rec.entries))
	}
}

func TestIntegrityDuplicateListsBoth(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	src := fakeSource{numbers: []RequestRef{
		{ID: "1", RequestNumber: "R-1"},
		{ID: "2", RequestNumber: "R-7"},
		{ID: "3", RequestNumber: "R-7"},
	}}

	dups := issuesOfType(m.AnalyzeDataIntegrity(context.Background(), src), IssueDuplicateValues)
	if len(dups) != 1 {
		t.Fatalf("DUPLICATE_VALUES issues = %d, want 1", len(dups))
	}
	examples, ok := dups[0].Details.Examples.([]RequestRef)
	if !ok || len(examples) != 2 || examples[0].ID != "2" || examples[1].ID != "3" {
		t.Errorf("examples = %#v", dups[0].Details.Examples)
	}
	if dups[0].Details.Count != 1 {
		t.Errorf("count = %d, want 1", dups[0].Details.Count)
	}
}

func TestIntegrityAllChecksRun(t *testing.T) {
	m, rec, _ := newTestMonitor(t, 10)
	src := fakeSource{
		orphans:   []RequestRef{{ID: "9", RequestNumber: "R-9"}},
		future:    []RequestRef{{ID: "5", RequestNumber: "R-5"}},
		employees: []EmployeeRef{{ID: "e1", Email: "not-an-email"}, {ID: "e2", Email: "ok@mail.ru"}},
	}

	issues := m.AnalyzeDataIntegrity(context.Background(), src)
	if len(issuesOfType(issues, IssueOrphanedReference)) != 1 {
		t.Error("missing orphan issue")
	}
	invalid := issuesOfType(issues, IssueInvalidData)
	if len(invalid) != 2 {
		t.Fatalf("INVALID_DATA issues = %d, want 2", len(invalid))
	}
	if invalid[1].Details.Count != 1 {
		t.Errorf("bad email count = %d", invalid[1].Details.Count)
	}
	if len(rec.entries) != 1+len(issues) {
		t.Errorf("logged %d events, want summary plus %d", len(rec.entries), len(issues))
	}
}

func TestIntegrityCheckFailureIsAnIssue(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	src := fakeSource{
		numbersErr: errors.New("table missing"),
		orphans:    []RequestRef{{ID: "9"}},
	}

	issues := m.AnalyzeDataIntegrity(context.Background(), src)
	failed := issuesOfType(issues, IssueAnalysisError)
	if len(failed) != 1 || failed[0].Details.Error != "table missing" || failed[0].Check != "duplicate_request_numbers" {
		t.Errorf("analysis errors = %+v", failed)
	}
	if len(issuesOfType(issues, IssueOrphanedReference)) != 1 {
		t.Error("earlier check result lost")
	}
}

func TestIntegrityExamplesCapped(t *testing.T) {
	m, _, _ := newTestMonitor(t, 10)
	var orphans []RequestRef
	for i := 0; i < 8; i++ {
		orphans = append(orphans, RequestRef{ID: string(rune('a' + i))})
	}
	issues := m.AnalyzeDataIntegrity(context.Background(), fakeSource{orphans: orphans})
	if len(issues) != 1 {
		t.Fatalf("issues = %d", len(issues))
	}
	if ex := issues[0].Details.Examples.([]RequestRef); len(ex) != 5 || issues[0].Details.Count != 8 {
		t.Errorf("examples = %d count = %d", len(ex), issues[0].Details.Count)
	}
}
