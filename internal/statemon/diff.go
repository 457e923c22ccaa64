package statemon

import "reflect"

// Change is one differing leaf of DiffStates.
type Change struct {
	Type  string `json:"type"`
	Value any    `json:"value,omitempty"`
	From  any    `json:"from,omitempty"`
	To    any    `json:"to,omitempty"`
}

// DiffStates reports added, removed and changed key paths between a and b.
// It recurses into nested objects only; arrays compare as whole values.
func DiffStates(a, b any) map[string]Change {
	diff := map[string]Change{}
	compareObjects(diff, Normalize(a).Value, Normalize(b).Value, "")
	return diff
}

func compareObjects(diff map[string]Change, a, b map[string]any, path string) {
	for key, av := range a {
		full := join(path, key)
		bv, ok := b[key]
		if !ok {
			diff[full] = Change{Type: "removed", Value: av}
			continue
		}
		if reflect.DeepEqual(av, bv) {
			continue
		}
		ao, aIsObj := av.(map[string]any)
		bo, bIsObj := bv.(map[string]any)
		if aIsObj && bIsObj {
			compareObjects(diff, ao, bo, full)
			continue
		}
		diff[full] = Change{Type: "changed", From: av, To: bv}
	}
	for key, bv := range b {
		if _, ok := a[key]; !ok {
			diff[join(path, key)] = Change{Type: "added", Value: bv}
		}
	}
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
