package event

import "strings"

// Normalizer corrects simulation-specific field names and shapes in an event's
// context before rules are built. It must be safe to call on any event.
type Normalizer func(*Event)

// classIDAliases are spellings of classId sent by older simulation builds.
var classIDAliases = []string{"classID", "class_id", "classid"}

// NormalizeIncoming is the default Normalizer. It folds classId aliases into
// "classId" and lower-cases the trait keys of the selected, target and
// previous maps so attribute rules can address them uniformly.
func NormalizeIncoming(e *Event) {
	if e == nil || e.Context == nil {
		return
	}

	if !e.Context.Has("classId") {
		for _, alias := range classIDAliases {
			if v, ok := e.Context[alias]; ok && v != nil {
				e.Context["classId"] = v
				break
			}
		}
	}
	for _, alias := range classIDAliases {
		delete(e.Context, alias)
	}

	for _, key := range []string{"selected", "target", "previous"} {
		if m, ok := asMap(e.Context[key]); ok {
			e.Context[key] = lowerKeys(m)
		}
	}
}

// Chain runs normalizers in order.
func Chain(normalizers ...Normalizer) Normalizer {
	return func(e *Event) {
		for _, n := range normalizers {
			if n != nil {
				n(e)
			}
		}
	}
}

func lowerKeys(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}
