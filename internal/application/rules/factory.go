// Package rules builds the set of rules relevant to one learner event from the
// concept sheets configured for the learner's group.
package rules

import (
	"context"
	"errors"
	"strings"

	"github.com/guide-lms/guide-router/internal/domain/concept"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/group"
	"github.com/guide-lms/guide-router/internal/domain/rule"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// DefaultSpecies is assumed when an event carries no context.species.
const DefaultSpecies = "Drake"

// Collection tags.
const (
	attributeConceptsTag = "attribute-concepts"
	challengeConceptsTag = "challenge-concepts"
)

// ErrGroupNotFound is returned when the session's group has no configuration.
var ErrGroupNotFound = shared.NewDomainError("factory", "CreateRulesForEvent", shared.ErrConfiguration, "unable to find group")

// CacheConfig is the cache configuration handed to every concept loader.
type CacheConfig = concept.CacheConfig

// Config configures a Factory.
type Config struct {
	// Species replaces a missing context.species. Defaults to DefaultSpecies.
	Species string
	// Cache is passed to every loader the factory creates.
	Cache CacheConfig
	// Normalizer runs once per event before rules are built.
	Normalizer event.Normalizer
}

// Sources bundles the collaborators a Factory reads from.
type Sources struct {
	Groups     group.Repository
	Attributes concept.LoaderFactory[concept.AttributeConcept]
	Challenges concept.LoaderFactory[concept.ChallengeConcept]
}

// ═══════════════════════════════════════════════════════════════════════════
// DISPATCH
// ═══════════════════════════════════════════════════════════════════════════

type shape struct {
	verb   string
	object string
}

type builder func(attribute string, targets map[string]concept.AttributeConcept) rule.Rule

func attributeRules(a string, t map[string]concept.AttributeConcept) rule.Rule {
	return rule.NewAttributeRule(a, t)
}

func moveRules(a string, t map[string]concept.AttributeConcept) rule.Rule {
	return rule.NewMoveRule(a, t)
}

func breedingRules(a string, t map[string]concept.AttributeConcept) rule.Rule {
	return rule.NewBreedingRule(a, t)
}

func parentChangedRules(a string, t map[string]concept.AttributeConcept) rule.Rule {
	return rule.NewParentChangedRule(a, t)
}

// dispatch maps learner event shapes to the attribute rule variant they need.
// Shapes not listed only get challenge rules.
var dispatch = map[shape]builder{
	{event.VerbSubmitted, event.ObjectOrganism}: attributeRules,
	{event.VerbSubmitted, event.ObjectEgg}:      attributeRules,
	{event.VerbChanged, event.ObjectAllele}:     moveRules,
	{event.VerbBred, event.ObjectClutch}:        breedingRules,
	{event.VerbSubmitted, event.ObjectParents}:  breedingRules,
	{event.VerbChanged, event.ObjectParent}:     parentChangedRules,
}

// ═══════════════════════════════════════════════════════════════════════════
// FACTORY
// ═══════════════════════════════════════════════════════════════════════════

// Factory creates rules for one (session, event) pair. Attribute concepts are
// loaded once per Factory; challenge concepts are fetched on every call.
// A Factory is not safe for concurrent use.
type Factory struct {
	cfg     Config
	sources Sources
	log     *logger.Logger

	attributeConcepts []concept.AttributeConcept
	attributesLoaded  bool
	ruleSourceURLs    []string
}

// NewFactory creates a Factory.
func NewFactory(cfg Config, sources Sources, log *logger.Logger) *Factory {
	if cfg.Species == "" {
		cfg.Species = DefaultSpecies
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Factory{
		cfg:     cfg,
		sources: sources,
		log:     log.With(logger.Component("rules_factory")),
	}
}

// CreateRulesForEvent prepares ev and returns the attribute rules its shape
// calls for followed by one challenge rule per challenge concept row.
func (f *Factory) CreateRulesForEvent(ctx context.Context, sess *session.Session, ev *event.Event) ([]rule.Rule, error) {
	log := f.log.With(logger.SessionID(sess.ID), logger.GroupID(sess.GroupID), logger.Shape(ev.Shape()))

	f.prepare(sess, ev, log)
	species := ev.Context.String("species")

	g, err := f.findGroup(ctx, sess.GroupID)
	if err != nil {
		return nil, err
	}

	if err := f.loadAttributeConcepts(ctx, g, species, log); err != nil {
		return nil, err
	}

	rules := f.eventRules(ev)

	challengeRules, err := f.challengeRules(ctx, g, log)
	if err != nil {
		return nil, err
	}
	rules = append(rules, challengeRules...)

	log.Debug("rules created", logger.Int("count", len(rules)))
	return rules, nil
}

// RuleSourceURLs returns the sheet URLs of every collection loaded so far.
func (f *Factory) RuleSourceURLs() []string {
	out := make([]string, len(f.ruleSourceURLs))
	copy(out, f.ruleSourceURLs)
	return out
}

// prepare injects derived context at most once per event.
func (f *Factory) prepare(sess *session.Session, ev *event.Event, log *logger.Logger) {
	if !ev.MarkPrepared() {
		return
	}

	if !ev.Context.Has("species") {
		ev.Context["species"] = f.cfg.Species
	}

	if f.cfg.Normalizer != nil {
		f.cfg.Normalizer(ev)
	}

	if ev.Context.Has("previous") && ev.Verb != event.VerbSubmitted && ev.Verb != event.VerbBred {
		return
	}
	prev := sess.FindPreviousEvent(ev)
	if prev == nil {
		return
	}
	if selected, ok := prev.Context["selected"]; ok && selected != nil {
		ev.Context["previous"] = event.CloneValue(selected)
		log.Debug("added previous to event", logger.Any("previous", ev.Context["previous"]))
	}
}

func (f *Factory) findGroup(ctx context.Context, name string) (*group.Group, error) {
	g, err := f.sources.Groups.FindByName(ctx, name)
	if err != nil {
		if errors.Is(err, group.ErrGroupNotFound) {
			detail := ErrGroupNotFound.Detail("unable to find group with name: %s", name)
			detail.Err = err
			return nil, detail
		}
		return nil, shared.WrapError("factory", "CreateRulesForEvent", shared.ErrExternalService, "group lookup failed", err)
	}
	return g, nil
}

func (f *Factory) cacheDisabled(g *group.Group) bool {
	return g.CacheDisabled || f.cfg.Cache.Disabled
}

func (f *Factory) loadAttributeConcepts(ctx context.Context, g *group.Group, species string, log *logger.Logger) error {
	if f.attributesLoaded {
		return nil
	}

	tags := strings.ToLower(species) + ", " + attributeConceptsTag
	ids := g.CollectionIDs(tags)
	if len(ids) == 0 {
		log.Warn("unable to find attribute concepts sheet",
			logger.String("tags", tags), logger.String("group", g.Name))
	}

	loader := f.sources.Attributes(f.cfg.Cache)
	if err := loader.LoadCollections(ctx, ids, f.cacheDisabled(g)); err != nil {
		return shared.WrapError("factory", "LoadAttributeConcepts", shared.ErrExternalService, "unable to load attribute concepts", err)
	}
	f.recordSources(loader.SheetURL, ids)

	f.attributeConcepts = loader.Objs()
	f.attributesLoaded = true
	return nil
}

func (f *Factory) eventRules(ev *event.Event) []rule.Rule {
	rules := make([]rule.Rule, 0)
	if ev.Actor != event.ActorUser {
		return rules
	}
	build, ok := dispatch[shape{ev.Verb, ev.Object}]
	if !ok {
		return rules
	}

	order, grouped := concept.GroupByAttribute(f.attributeConcepts)
	for _, attribute := range order {
		rules = append(rules, build(attribute, grouped[attribute]))
	}
	return rules
}

func (f *Factory) challengeRules(ctx context.Context, g *group.Group, log *logger.Logger) ([]rule.Rule, error) {
	ids := g.CollectionIDs(challengeConceptsTag)
	if len(ids) == 0 {
		log.Warn("unable to find challenge concepts sheet",
			logger.String("tags", challengeConceptsTag), logger.String("group", g.Name))
	}

	loader := f.sources.Challenges(f.cfg.Cache)
	if err := loader.LoadCollections(ctx, ids, f.cacheDisabled(g)); err != nil {
		return nil, shared.WrapError("factory", "LoadChallengeConcepts", shared.ErrExternalService, "unable to load challenge concepts", err)
	}
	f.recordSources(loader.SheetURL, ids)

	rows := loader.Objs()
	rules := make([]rule.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, rule.NewChallengeRule(row.ChallengeID, row))
	}
	return rules, nil
}

func (f *Factory) recordSources(sheetURL func(string) string, ids []string) {
	for _, id := range ids {
		url := sheetURL(id)
		seen := false
		for _, u := range f.ruleSourceURLs {
			if u == url {
				seen = true
				break
			}
		}
		if !seen {
			f.ruleSourceURLs = append(f.ruleSourceURLs, url)
		}
	}
}
