package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatch(t *testing.T) {
	e := New(ActorUser, VerbSubmitted, ObjectOrganism, nil)

	tests := []struct {
		name   string
		actor  Actor
		verb   string
		object string
		want   bool
	}{
		{"all wildcards", AnyActor, Wildcard, Wildcard, true},
		{"exact", ActorUser, VerbSubmitted, ObjectOrganism, true},
		{"wildcard actor", AnyActor, VerbSubmitted, ObjectOrganism, true},
		{"wildcard object", ActorUser, VerbSubmitted, Wildcard, true},
		{"wrong actor", ActorSystem, VerbSubmitted, ObjectOrganism, false},
		{"wrong verb", ActorUser, VerbChanged, ObjectOrganism, false},
		{"substring is not a match", ActorUser, "SUBMIT", ObjectOrganism, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.IsMatch(tt.actor, tt.verb, tt.object))
		})
	}
}

func TestMarkPrepared(t *testing.T) {
	e := New(ActorUser, VerbSubmitted, ObjectOrganism, nil)
	assert.False(t, e.Prepared())
	assert.True(t, e.MarkPrepared())
	assert.False(t, e.MarkPrepared())
	assert.True(t, e.Prepared())
}

func TestUnmarshalJSON(t *testing.T) {
	raw := `{
		"username": "student-1",
		"session": "s-1",
		"actor": "user",
		"action": "SUBMITTED",
		"target": "ORGANISM",
		"context": {"challengeId": "c1"},
		"time": 1700000000000,
		"sequence": 42
	}`

	var e Event
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	assert.Equal(t, ActorUser, e.Actor)
	assert.Equal(t, "student-1", e.StudentID)
	assert.Equal(t, int64(42), e.Sequence)
	assert.Equal(t, "c1", e.Context.String("challengeId"))
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), e.Time)
	assert.NoError(t, e.Validate())

	raw = `{"actor":"SYSTEM","action":"STARTED","target":"SESSION","time":"2024-01-02T03:04:05Z"}`
	var started Event
	require.NoError(t, json.Unmarshal([]byte(raw), &started))
	assert.Equal(t, 2024, started.Time.Year())
	assert.NotNil(t, started.Context)
}

func TestValidate(t *testing.T) {
	assert.Error(t, (&Event{Actor: "ROBOT", Verb: "X", Object: "Y"}).Validate())
	assert.Error(t, (&Event{Actor: ActorUser}).Validate())
}

func TestContextLookupAndClone(t *testing.T) {
	ctx := Context{
		"selected": map[string]any{"color": "Gray", "alleles": []any{"a:W", "b:w"}},
		"empty":    nil,
	}

	v, ok := ctx.Lookup("selected.color")
	assert.True(t, ok)
	assert.Equal(t, "Gray", v)

	_, ok = ctx.Lookup("selected.missing")
	assert.False(t, ok)
	_, ok = ctx.Lookup("empty")
	assert.False(t, ok)
	_, ok = ctx.Lookup("selected.color.deeper")
	assert.False(t, ok)

	clone := ctx.Clone()
	clone["selected"].(map[string]any)["color"] = "Green"
	clone["selected"].(map[string]any)["alleles"].([]any)[0] = "a:w"

	v, _ = ctx.Lookup("selected.color")
	assert.Equal(t, "Gray", v)
	assert.Equal(t, "a:W", ctx["selected"].(map[string]any)["alleles"].([]any)[0])
}

func TestNormalizeIncoming(t *testing.T) {
	e := New(ActorUser, VerbSubmitted, ObjectOrganism, Context{
		"class_id": "class-7",
		"selected": map[string]any{"Color": "Gray", "Wings": "Wings"},
		"target":   map[string]any{"COLOR": "Green"},
	})

	NormalizeIncoming(e)

	assert.Equal(t, "class-7", e.Context.String("classId"))
	assert.NotContains(t, e.Context, "class_id")
	v, ok := e.Context.Lookup("selected.color")
	assert.True(t, ok)
	assert.Equal(t, "Gray", v)
	v, ok = e.Context.Lookup("target.color")
	assert.True(t, ok)
	assert.Equal(t, "Green", v)
}

func TestChain(t *testing.T) {
	var order []string
	n := Chain(
		func(*Event) { order = append(order, "a") },
		nil,
		func(*Event) { order = append(order, "b") },
	)
	n(New(ActorUser, VerbSubmitted, ObjectOrganism, nil))
	assert.Equal(t, []string{"a", "b"}, order)
}
