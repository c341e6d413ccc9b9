package rule

import (
	"strings"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/domain/event"
)

var challengeVerbs = []string{event.VerbSubmitted, event.VerbSelected}

// ChallengeRule fires when a learner submits or selects a challenge whose id
// belongs to the rule's challenge family.
type ChallengeRule struct {
	target   string
	patterns []targetPattern
	row      concept.ChallengeConcept
	concepts []string
	state
}

// NewChallengeRule creates a rule for challengeID. The id may list
// comma-separated alternatives; each is matched independently.
func NewChallengeRule(challengeID string, row concept.ChallengeConcept) *ChallengeRule {
	target := strings.TrimSpace(challengeID)
	concepts := make([]string, len(row.ConceptIDs))
	copy(concepts, row.ConceptIDs)

	return &ChallengeRule{
		target:   target,
		patterns: compileTargets(strings.Split(target, ",")),
		row:      row,
		concepts: concepts,
	}
}

// Name implements Rule.
func (r *ChallengeRule) Name() string {
	return "challenge:" + r.target
}

// Kind implements Rule.
func (r *ChallengeRule) Kind() Kind {
	return KindChallenge
}

// Evaluate implements Rule.
func (r *ChallengeRule) Evaluate(ev *event.Event) (bool, error) {
	selected, ok := ev.Context.Lookup("challengeId")
	r.reset(selected)
	if !ok || !hasVerb(challengeVerbs, ev.Verb) {
		return false, nil
	}

	matched, ok := matchOne(r.patterns, asString(selected))
	if !ok {
		return false, nil
	}

	correct, err := contextBool(ev, "correct", true)
	if err != nil {
		return false, err
	}
	r.matched = matched
	r.activated = true
	r.isCorrect = correct
	return true, nil
}

// IsCorrect implements Rule.
func (r *ChallengeRule) IsCorrect() (*bool, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	return r.isCorrect, nil
}

// Concepts implements Rule.
func (r *ChallengeRule) Concepts() ([]string, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	return r.concepts, nil
}

// SubstitutionVariables implements Rule.
func (r *ChallengeRule) SubstitutionVariables() (map[string]any, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	return map[string]any{
		"selected": r.selected,
		"target":   r.target,
	}, nil
}

// SourceAsURL implements Rule.
func (r *ChallengeRule) SourceAsURL() (string, error) {
	if err := r.check(r.Name()); err != nil {
		return "", err
	}
	return r.row.Source.URL, nil
}
