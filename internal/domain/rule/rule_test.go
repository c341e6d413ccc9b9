package rule

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/shared"
)

func challengeRow(id string) concept.ChallengeConcept {
	return concept.ChallengeConcept{
		ChallengeID: id,
		ConceptIDs:  []string{"LG1.A3"},
		Source:      concept.Source{CollectionID: "abc", Row: 2, URL: "https://sheets.example/abc#row=2"},
	}
}

func colorTargets() map[string]concept.AttributeConcept {
	return map[string]concept.AttributeConcept{
		"Gray": {Attribute: "color", Target: "Gray", ConceptIDs: []string{"LG1.C2a"},
			Source: concept.Source{CollectionID: "attr", Row: 3, URL: "https://sheets.example/attr#row=3"}},
		"Green": {Attribute: "color", Target: "Green", ConceptIDs: []string{"LG1.C2b"},
			Source: concept.Source{CollectionID: "attr", Row: 4, URL: "https://sheets.example/attr#row=4"}},
	}
}

func newEvent(verb, object string, ctx event.Context) *event.Event {
	return event.New(event.ActorUser, verb, object, ctx)
}

func allRules() []Rule {
	return []Rule{
		NewChallengeRule("challenge1", challengeRow("challenge1")),
		NewAttributeRule("color", colorTargets()),
		NewMoveRule("color", colorTargets()),
		NewBreedingRule("color", colorTargets()),
		NewParentChangedRule("color", colorTargets()),
	}
}

func TestAccessorsBeforeEvaluate(t *testing.T) {
	for _, r := range allRules() {
		t.Run(r.Name(), func(t *testing.T) {
			_, err := r.IsCorrect()
			assert.ErrorIs(t, err, ErrNotEvaluated)
			assert.True(t, shared.IsLifecycle(err))

			_, err = r.Concepts()
			assert.ErrorIs(t, err, ErrNotEvaluated)

			_, err = r.SubstitutionVariables()
			assert.ErrorIs(t, err, ErrNotEvaluated)

			_, err = r.SourceAsURL()
			assert.ErrorIs(t, err, ErrNotEvaluated)
		})
	}
}

func TestChallengeRule_Evaluate(t *testing.T) {
	tests := []struct {
		name      string
		verb      string
		ctx       event.Context
		activated bool
		correct   *bool
	}{
		{
			name:      "suffixed id submitted",
			verb:      event.VerbSubmitted,
			ctx:       event.Context{"challengeId": "challenge1-3", "correct": true},
			activated: true,
			correct:   boolPtr(true),
		},
		{
			name:      "case insensitive selected",
			verb:      event.VerbSelected,
			ctx:       event.Context{"challengeId": "CHALLENGE1", "correct": "false"},
			activated: true,
			correct:   boolPtr(false),
		},
		{
			name: "other challenge",
			verb: event.VerbSubmitted,
			ctx:  event.Context{"challengeId": "challenge10a", "correct": true},
		},
		{
			name: "wrong verb",
			verb: event.VerbChanged,
			ctx:  event.Context{"challengeId": "challenge1", "correct": true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewChallengeRule("challenge1", challengeRow("challenge1"))
			ok, err := r.Evaluate(newEvent(tt.verb, event.ObjectChallenge, tt.ctx))
			require.NoError(t, err)
			assert.Equal(t, tt.activated, ok)

			correct, err := r.IsCorrect()
			require.NoError(t, err)
			assert.Equal(t, tt.correct, correct)
		})
	}
}

func TestChallengeRule_MissingCorrect(t *testing.T) {
	r := NewChallengeRule("challenge1", challengeRow("challenge1"))
	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge, event.Context{"challengeId": "challenge1"}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrMissingEventValue)
	assert.True(t, shared.IsProtocol(err))
}

func TestChallengeRule_AmbiguousTarget(t *testing.T) {
	r := NewChallengeRule("allele-target, allele", challengeRow("allele-target, allele"))

	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge,
		event.Context{"challengeId": "allele", "correct": true}))
	require.NoError(t, err)
	assert.True(t, ok, "only one alternative matches")

	r = NewChallengeRule("mate, mate-2", challengeRow("mate, mate-2"))
	ok, err = r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge,
		event.Context{"challengeId": "mate-2", "correct": true}))
	require.NoError(t, err)
	assert.False(t, ok, "two patterns match")

	correct, err := r.IsCorrect()
	require.NoError(t, err)
	assert.Nil(t, correct)
}

func TestChallengeRule_Accessors(t *testing.T) {
	r := NewChallengeRule("challenge1", challengeRow("challenge1"))
	_, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge,
		event.Context{"challengeId": "challenge1-3", "correct": false}))
	require.NoError(t, err)

	concepts, err := r.Concepts()
	require.NoError(t, err)
	assert.Equal(t, []string{"LG1.A3"}, concepts)

	vars, err := r.SubstitutionVariables()
	require.NoError(t, err)
	assert.Equal(t, "challenge1-3", vars["selected"])
	assert.Equal(t, "challenge1", vars["target"])

	url, err := r.SourceAsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://sheets.example/abc#row=2", url)
}

func TestAttributeRule_Evaluate(t *testing.T) {
	r := NewAttributeRule("color", colorTargets())
	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectOrganism, event.Context{
		"selected": map[string]any{"color": "Gray"},
		"target":   map[string]any{"color": "Green"},
	}))
	require.NoError(t, err)
	assert.True(t, ok)

	correct, err := r.IsCorrect()
	require.NoError(t, err)
	require.NotNil(t, correct)
	assert.False(t, *correct)

	concepts, err := r.Concepts()
	require.NoError(t, err)
	assert.Equal(t, []string{"LG1.C2a"}, concepts)

	url, err := r.SourceAsURL()
	require.NoError(t, err)
	assert.Equal(t, "https://sheets.example/attr#row=3", url)

	vars, err := r.SubstitutionVariables()
	require.NoError(t, err)
	assert.Equal(t, "color", vars["attribute"])
	assert.Equal(t, "Gray", vars["target"])
}

func TestAttributeRule_RequiresTarget(t *testing.T) {
	r := NewAttributeRule("color", colorTargets())
	_, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectOrganism, event.Context{
		"selected": map[string]any{"color": "Gray"},
	}))
	assert.ErrorIs(t, err, ErrMissingEventValue)
}

func TestAttributeRule_UnknownTrait(t *testing.T) {
	r := NewAttributeRule("color", colorTargets())
	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectOrganism, event.Context{
		"selected": map[string]any{"color": "Purple"},
	}))
	require.NoError(t, err)
	assert.False(t, ok)

	concepts, err := r.Concepts()
	require.NoError(t, err)
	assert.Empty(t, concepts)
}

func TestAttributeRule_NoSelected(t *testing.T) {
	r := NewAttributeRule("color", colorTargets())
	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectOrganism, event.Context{}))
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = r.IsCorrect()
	assert.ErrorIs(t, err, ErrNotEvaluated)
}

func TestVariantTriggers(t *testing.T) {
	ctx := func() event.Context {
		return event.Context{
			"selected": map[string]any{"color": "green"},
			"target":   map[string]any{"color": "Green"},
			"correct":  true,
		}
	}

	tests := []struct {
		rule Rule
		verb string
		want bool
	}{
		{NewAttributeRule("color", colorTargets()), event.VerbSubmitted, true},
		{NewAttributeRule("color", colorTargets()), event.VerbChanged, false},
		{NewMoveRule("color", colorTargets()), event.VerbChanged, true},
		{NewMoveRule("color", colorTargets()), event.VerbSubmitted, false},
		{NewBreedingRule("color", colorTargets()), event.VerbBred, true},
		{NewBreedingRule("color", colorTargets()), event.VerbSubmitted, true},
		{NewBreedingRule("color", colorTargets()), event.VerbChanged, false},
		{NewParentChangedRule("color", colorTargets()), event.VerbChanged, true},
		{NewParentChangedRule("color", colorTargets()), event.VerbBred, false},
	}

	for _, tt := range tests {
		t.Run(tt.rule.Name()+"/"+tt.verb, func(t *testing.T) {
			ok, err := tt.rule.Evaluate(newEvent(tt.verb, event.ObjectOrganism, ctx()))
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			if tt.want {
				correct, err := tt.rule.IsCorrect()
				require.NoError(t, err)
				require.NotNil(t, correct)
				assert.True(t, *correct)
			}
		})
	}
}

func TestParentChangedRule_OptionalTarget(t *testing.T) {
	r := NewParentChangedRule("color", colorTargets())
	ok, err := r.Evaluate(newEvent(event.VerbChanged, event.ObjectParent, event.Context{
		"selected": map[string]any{"color": "Gray"},
		"previous": map[string]any{"color": "Green"},
	}))
	require.NoError(t, err)
	assert.True(t, ok)

	correct, err := r.IsCorrect()
	require.NoError(t, err)
	assert.Nil(t, correct)

	vars, err := r.SubstitutionVariables()
	require.NoError(t, err)
	assert.Equal(t, "Green", vars["previous"])
}

func TestBreedingRule_RequiresCorrect(t *testing.T) {
	r := NewBreedingRule("color", colorTargets())
	_, err := r.Evaluate(newEvent(event.VerbBred, event.ObjectClutch, event.Context{
		"selected": map[string]any{"color": "Gray"},
	}))
	assert.True(t, errors.Is(err, ErrMissingEventValue))
}

func TestRuleReuseResetsState(t *testing.T) {
	r := NewChallengeRule("challenge1", challengeRow("challenge1"))
	ok, err := r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge,
		event.Context{"challengeId": "challenge1", "correct": true}))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = r.Evaluate(newEvent(event.VerbSubmitted, event.ObjectChallenge,
		event.Context{"challengeId": "other"}))
	require.NoError(t, err)
	assert.False(t, ok)

	correct, err := r.IsCorrect()
	require.NoError(t, err)
	assert.Nil(t, correct)
}

func boolPtr(b bool) *bool { return &b }
