package tutor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/guide-lms/guide-router/internal/domain/event"
)

func TestNewHintAction(t *testing.T) {
	a := NewHintAction(Hint{
		Reason:      Reason{Why: "incorrect", Priority: 1, Source: "https://sheets.example/x"},
		ConceptID:   "LG1.A3",
		ChallengeID: "allele-targetMatch-1",
		Attribute:   "color",
		HintLevel:   1,
	})

	assert.Equal(t, ActionHint, a.Action)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "LG1.A3", a.Context["conceptId"])
	assert.Equal(t, "color", a.Context["attribute"])
	assert.Equal(t, 1, a.Context["hintLevel"])
}

func TestNewRemediateAction(t *testing.T) {
	a := NewRemediateAction(Remediation{ConceptID: "LG2", PracticeCriteria: "3-correct"})
	assert.Equal(t, ActionRemediate, a.Action)
	assert.Equal(t, "3-correct", a.Context["practiceCriteria"])
	assert.NotContains(t, a.Context, "hintDialog")
}

func TestActionToEvent(t *testing.T) {
	a := NewHintAction(Hint{ConceptID: "LG1"})
	a.Sequence = 42

	ev := a.ToEvent("student-1", "session-1")
	assert.True(t, ev.IsMatch(event.ActorITS, ActionHint, event.ObjectUser))
	assert.Equal(t, int64(42), ev.Sequence)
	assert.Equal(t, "student-1", ev.StudentID)
	assert.Equal(t, "session-1", ev.SessionID)
	assert.Equal(t, a.Time, ev.Time)

	ev.Context["conceptId"] = "changed"
	assert.Equal(t, "LG1", a.Context["conceptId"])
}
