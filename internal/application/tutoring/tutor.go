// Package tutoring contains the default Tutor: it evaluates the rules built for
// an event and hints at the first concept the learner got wrong.
package tutoring

import (
	"context"
	"fmt"

	"github.com/guide-lms/guide-router/internal/application/rules"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/rule"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/student"
	"github.com/guide-lms/guide-router/internal/domain/tutor"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// RuleBuilder creates the rules relevant to an event.
type RuleBuilder interface {
	CreateRulesForEvent(ctx context.Context, sess *session.Session, ev *event.Event) ([]rule.Rule, error)
}

// Tutor is the default tutor.Tutor.
type Tutor struct {
	student *student.Student
	session *session.Session
	rules   RuleBuilder
	log     *logger.Logger
}

// NewTutor creates a Tutor for one student and session.
func NewTutor(st *student.Student, sess *session.Session, builder RuleBuilder, log *logger.Logger) *Tutor {
	if log == nil {
		log = logger.Nop()
	}
	return &Tutor{
		student: st,
		session: sess,
		rules:   builder,
		log:     log.With(logger.Component("tutor"), logger.SessionID(sess.ID)),
	}
}

// NewFactory returns a tutor.Factory that gives every tutor its own rules
// factory, so attribute concepts are memoized per (session, event).
func NewFactory(cfg rules.Config, sources rules.Sources, log *logger.Logger) tutor.Factory {
	return tutor.FactoryFunc(func(st *student.Student, sess *session.Session) tutor.Tutor {
		return NewTutor(st, sess, rules.NewFactory(cfg, sources, log), log)
	})
}

// Process implements tutor.Tutor.
func (t *Tutor) Process(ctx context.Context, ev *event.Event) (*tutor.Action, error) {
	list, err := t.rules.CreateRulesForEvent(ctx, t.session, ev)
	if err != nil {
		return nil, err
	}

	for _, r := range list {
		activated, err := r.Evaluate(ev)
		if err != nil {
			return nil, fmt.Errorf("tutor: evaluate %s: %w", r.Name(), err)
		}
		if !activated {
			continue
		}

		correct, err := r.IsCorrect()
		if err != nil {
			return nil, err
		}
		t.log.Debug("rule activated", logger.RuleName(r.Name()), logger.Any("correct", correct))
		if correct == nil || *correct {
			continue
		}
		return t.hint(r)
	}
	return nil, nil
}

func (t *Tutor) hint(r rule.Rule) (*tutor.Action, error) {
	concepts, err := r.Concepts()
	if err != nil {
		return nil, err
	}
	source, err := r.SourceAsURL()
	if err != nil {
		return nil, err
	}
	vars, err := r.SubstitutionVariables()
	if err != nil {
		return nil, err
	}

	h := tutor.Hint{
		Reason:        tutor.Reason{Why: "incorrect", Priority: 1, Source: source},
		ChallengeType: string(r.Kind()),
		HintLevel:     1,
	}
	if len(concepts) > 0 {
		h.ConceptID = concepts[0]
	}
	if ar, ok := r.(interface{ Attribute() string }); ok {
		h.Attribute = ar.Attribute()
	}
	if r.Kind() == rule.KindChallenge {
		if id, ok := vars["selected"].(string); ok {
			h.ChallengeID = id
		}
	}

	action := tutor.NewHintAction(h)
	action.Context["substitutionVariables"] = vars
	action.StudentID = t.student.ID
	action.SessionID = t.session.ID
	return action, nil
}
