// Package rule implements the pedagogical rule evaluators. A rule is a
// stateful, single-use unit of work: Evaluate it against one event, then query
// its outcome. Queries made before a successful Evaluate fail with
// ErrNotEvaluated.
package rule

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/shared"
)

// Errors returned by rules.
var (
	// ErrNotEvaluated is a lifecycle defect: a rule was queried before Evaluate
	// recorded a selected value.
	ErrNotEvaluated = shared.NewDomainError("rule", "Query", shared.ErrLifecycle, "rule has not been evaluated")

	// ErrMissingEventValue is returned by Evaluate when a required context
	// value is absent from an event that otherwise matched.
	ErrMissingEventValue = shared.NewDomainError("rule", "Evaluate", shared.ErrProtocol, "unable to find event value")
)

// Kind names a rule variant.
type Kind string

const (
	KindChallenge     Kind = "challenge"
	KindAttribute     Kind = "attribute"
	KindMove          Kind = "move"
	KindBreeding      Kind = "breeding"
	KindParentChanged Kind = "parent-changed"
)

// Rule decides whether a pedagogical condition is activated by an event.
type Rule interface {
	// Name identifies the rule in logs.
	Name() string

	// Kind returns the variant.
	Kind() Kind

	// Evaluate records the selected value from ev and reports whether the rule
	// is activated. An error is returned only for malformed events.
	Evaluate(ev *event.Event) (bool, error)

	// IsCorrect returns the recorded correctness, nil when unknown.
	IsCorrect() (*bool, error)

	// Concepts returns the concept ids associated with the matched target.
	Concepts() ([]string, error)

	// SubstitutionVariables returns values used to fill feedback templates.
	SubstitutionVariables() (map[string]any, error)

	// SourceAsURL returns where the rule's definition can be audited.
	SourceAsURL() (string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Target matching
// ─────────────────────────────────────────────────────────────────────────────

type targetPattern struct {
	key string
	re  *regexp.Regexp
}

// compileTarget matches the literal target optionally followed by digits and
// dashes, so target "challenge" matches "challenge-3" and "challenge2".
func compileTarget(target string) targetPattern {
	return targetPattern{
		key: target,
		re:  regexp.MustCompile(`(?i)^` + regexp.QuoteMeta(target) + `[-\d]*$`),
	}
}

func compileTargets(targets []string) []targetPattern {
	patterns := make([]targetPattern, 0, len(targets))
	for _, t := range targets {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		patterns = append(patterns, compileTarget(t))
	}
	return patterns
}

// matchOne returns the key of the only pattern matching value. Zero or several
// matches both mean no match.
func matchOne(patterns []targetPattern, value string) (string, bool) {
	found := ""
	count := 0
	for _, p := range patterns {
		if p.re.MatchString(value) {
			found = p.key
			count++
		}
	}
	if count != 1 {
		return "", false
	}
	return found, true
}

// ─────────────────────────────────────────────────────────────────────────────
// Evaluation state
// ─────────────────────────────────────────────────────────────────────────────

type state struct {
	selected  any
	matched   string
	activated bool
	isCorrect *bool
}

func (s *state) reset(selected any) {
	s.selected = selected
	s.matched = ""
	s.activated = false
	s.isCorrect = nil
}

func (s *state) check(name string) error {
	if s.selected == nil {
		return ErrNotEvaluated.Detail("%s has not been evaluated", name)
	}
	return nil
}

func hasVerb(verbs []string, verb string) bool {
	for _, v := range verbs {
		if v == verb {
			return true
		}
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}

// contextBool reads a boolean context value. Strings such as "true" are accepted.
func contextBool(ev *event.Event, path string, required bool) (*bool, error) {
	v, ok := ev.Context.Lookup(path)
	if !ok {
		if required {
			return nil, ErrMissingEventValue.Detail("unable to find event value at property path: context.%s", path)
		}
		return nil, nil
	}

	var b bool
	switch t := v.(type) {
	case bool:
		b = t
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return nil, ErrMissingEventValue.Detail("context.%s is not a boolean: %q", path, t)
		}
		b = parsed
	default:
		return nil, ErrMissingEventValue.Detail("context.%s is not a boolean", path)
	}
	return &b, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
