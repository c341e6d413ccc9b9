package rule

import (
	"strings"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/domain/event"
)

// correctness decides whether the selected value of an activated attribute
// rule is right.
type correctness func(ev *event.Event, attrPath string, selected any) (*bool, error)

// matchesTarget compares the selected value with context.target.<attr>.
func matchesTarget(required bool) correctness {
	return func(ev *event.Event, attrPath string, selected any) (*bool, error) {
		path := "target." + attrPath
		target, ok := ev.Context.Lookup(path)
		if !ok {
			if required {
				return nil, ErrMissingEventValue.Detail("unable to find event value at property path: context.%s", path)
			}
			return nil, nil
		}
		eq := strings.EqualFold(asString(selected), asString(target))
		return &eq, nil
	}
}

// reportedCorrect reads context.correct.
func reportedCorrect(ev *event.Event, _ string, _ any) (*bool, error) {
	return contextBool(ev, "correct", true)
}

type variant struct {
	kind     Kind
	triggers []string
	correct  correctness
}

var (
	attributeVariant = variant{
		kind:     KindAttribute,
		triggers: []string{event.VerbSubmitted},
		correct:  matchesTarget(true),
	}
	moveVariant = variant{
		kind:     KindMove,
		triggers: []string{event.VerbChanged},
		correct:  matchesTarget(true),
	}
	breedingVariant = variant{
		kind:     KindBreeding,
		triggers: []string{event.VerbBred, event.VerbSubmitted},
		correct:  reportedCorrect,
	}
	parentChangedVariant = variant{
		kind:     KindParentChanged,
		triggers: []string{event.VerbChanged},
		correct:  matchesTarget(false),
	}
)

// attributeRule is shared by every rule keyed on one organism attribute. Its
// target patterns are the trait values present in the attribute's concept rows.
type attributeRule struct {
	variant   variant
	attribute string
	path      string
	targetMap map[string]concept.AttributeConcept
	patterns  []targetPattern
	previous  any
	state
}

func newAttributeRule(v variant, attribute string, targetMap map[string]concept.AttributeConcept) *attributeRule {
	rows := make(map[string]concept.AttributeConcept, len(targetMap))
	for k, row := range targetMap {
		rows[k] = row
	}
	return &attributeRule{
		variant:   v,
		attribute: attribute,
		path:      strings.ToLower(attribute),
		targetMap: rows,
		patterns:  compileTargets(sortedKeys(rows)),
	}
}

func (r *attributeRule) Name() string {
	return string(r.variant.kind) + ":" + r.attribute
}

func (r *attributeRule) Kind() Kind {
	return r.variant.kind
}

// Attribute returns the organism attribute the rule watches.
func (r *attributeRule) Attribute() string {
	return r.attribute
}

func (r *attributeRule) lookup(ev *event.Event, prefix string) (any, bool) {
	if v, ok := ev.Context.Lookup(prefix + "." + r.path); ok {
		return v, true
	}
	if r.path != r.attribute {
		return ev.Context.Lookup(prefix + "." + r.attribute)
	}
	return nil, false
}

func (r *attributeRule) Evaluate(ev *event.Event) (bool, error) {
	selected, ok := r.lookup(ev, "selected")
	r.reset(selected)
	r.previous, _ = r.lookup(ev, "previous")
	if !ok || !hasVerb(r.variant.triggers, ev.Verb) {
		return false, nil
	}

	matched, ok := matchOne(r.patterns, asString(selected))
	if !ok {
		return false, nil
	}

	correct, err := r.variant.correct(ev, r.path, selected)
	if err != nil {
		return false, err
	}
	r.matched = matched
	r.activated = true
	r.isCorrect = correct
	return true, nil
}

func (r *attributeRule) IsCorrect() (*bool, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	return r.isCorrect, nil
}

func (r *attributeRule) Concepts() ([]string, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	row, ok := r.targetMap[r.matched]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, len(row.ConceptIDs))
	copy(out, row.ConceptIDs)
	return out, nil
}

func (r *attributeRule) SubstitutionVariables() (map[string]any, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	return map[string]any{
		"attribute": r.attribute,
		"selected":  r.selected,
		"target":    r.matched,
		"previous":  r.previous,
	}, nil
}

func (r *attributeRule) SourceAsURL() (string, error) {
	if err := r.check(r.Name()); err != nil {
		return "", err
	}
	if row, ok := r.targetMap[r.matched]; ok {
		return row.Source.URL, nil
	}
	if len(r.patterns) == 0 {
		return "", nil
	}
	return r.targetMap[r.patterns[0].key].Source.URL, nil
}

// AttributeRule fires when a submitted organism carries one of the attribute's
// known trait values. Correct when it equals the requested target trait.
type AttributeRule struct{ *attributeRule }

// NewAttributeRule creates an AttributeRule for attribute.
func NewAttributeRule(attribute string, targetMap map[string]concept.AttributeConcept) *AttributeRule {
	return &AttributeRule{newAttributeRule(attributeVariant, attribute, targetMap)}
}

// MoveRule fires when an allele change produces one of the attribute's trait
// values.
type MoveRule struct{ *attributeRule }

// NewMoveRule creates a MoveRule for attribute.
func NewMoveRule(attribute string, targetMap map[string]concept.AttributeConcept) *MoveRule {
	return &MoveRule{newAttributeRule(moveVariant, attribute, targetMap)}
}

// BreedingRule fires on bred clutches and submitted parents. Correctness is
// reported by the client.
type BreedingRule struct{ *attributeRule }

// NewBreedingRule creates a BreedingRule for attribute.
func NewBreedingRule(attribute string, targetMap map[string]concept.AttributeConcept) *BreedingRule {
	return &BreedingRule{newAttributeRule(breedingVariant, attribute, targetMap)}
}

// ParentChangedRule fires when a parent organism is edited. The target trait
// is optional, so IsCorrect may be nil after activation.
type ParentChangedRule struct{ *attributeRule }

// NewParentChangedRule creates a ParentChangedRule for attribute.
func NewParentChangedRule(attribute string, targetMap map[string]concept.AttributeConcept) *ParentChangedRule {
	return &ParentChangedRule{newAttributeRule(parentChangedVariant, attribute, targetMap)}
}

var (
	_ Rule = (*ChallengeRule)(nil)
	_ Rule = (*AttributeRule)(nil)
	_ Rule = (*MoveRule)(nil)
	_ Rule = (*BreedingRule)(nil)
	_ Rule = (*ParentChangedRule)(nil)
)
