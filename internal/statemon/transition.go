package statemon

import (
	"github.com/tinytelemetry/diagd/internal/model"
)

// forbiddenTransitions lists terminal regressions. It is a deny-list, not a
// state machine.
var forbiddenTransitions = [][2]string{
	{StatusCompleted, StatusNew},
	{StatusCompleted, StatusInProgress},
}

// Transition is one forbidden status change between two states.
type Transition struct {
	RequestID any    `json:"requestId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// ValidateTransition compares requests with the same id in previous and next
// and logs every forbidden status regression as a STATE error.
func (m *Monitor) ValidateTransition(storeName string, previous, next any, actionName string) []Transition {
	if actionName == "" {
		actionName = "unknown"
	}
	prev := Normalize(previous)
	curr := Normalize(next)
	oldReqs := records(prev, "requests")
	newReqs := records(curr, "requests")
	if oldReqs == nil || newReqs == nil {
		return nil
	}

	byID := make(map[string]map[string]any, len(oldReqs))
	for _, r := range oldReqs {
		if id, ok := r["id"]; ok {
			byID[identity(id)] = r
		}
	}

	var found []Transition
	for _, r := range newReqs {
		id, ok := r["id"]
		if !ok {
			continue
		}
		old, ok := byID[identity(id)]
		if !ok {
			continue
		}
		from, _ := old["status"].(string)
		to, _ := r["status"].(string)
		if from == to || !forbidden(from, to) {
			continue
		}
		t := Transition{RequestID: id, From: from, To: to}
		found = append(found, t)

		if m.logger != nil {
			m.logger.Log(model.Entry{
				Level:    model.LevelError,
				Category: model.CategoryState,
				Message:  "Invalid state transition detected",
				Details: map[string]any{
					"storeName":  storeName,
					"actionName": actionName,
					"requestId":  id,
					"from":       from,
					"to":         to,
					"reason":     "Completed requests cannot be reopened",
				},
				Context: map[string]any{"type": "invalid_transition"},
			})
		}
	}
	return found
}

func forbidden(from, to string) bool {
	for _, pair := range forbiddenTransitions {
		if pair[0] == from && pair[1] == to {
			return true
		}
	}
	return false
}
