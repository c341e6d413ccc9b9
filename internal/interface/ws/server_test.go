package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guide-lms/guide-router/internal/application/sessions"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/memory"
)

// echoRouter records events and answers every USER event with a payload
// carrying its sequence.
type echoRouter struct {
	mu       sync.Mutex
	events   []*event.Event
	sessions map[string]bool
	fail     error
}

func (r *echoRouter) Process(ctx context.Context, sess *session.Session, ev *event.Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	if r.sessions == nil {
		r.sessions = make(map[string]bool)
	}
	r.sessions[sess.ID] = true
	r.mu.Unlock()

	if r.fail != nil {
		return r.fail
	}
	if ev.IsMatch(event.ActorSystem, event.VerbStarted, event.ObjectSession) {
		sess.Start(ev.StudentID, ev.Time)
		return nil
	}
	return sess.Channel.Emit(ctx, "event", map[string]any{"action": "HINT", "sequence": ev.Sequence})
}

func (r *echoRouter) sessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *echoRouter) seen() []*event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*event.Event(nil), r.events...)
}

type fakeDeactivator struct {
	mu    sync.Mutex
	ended []string
}

func (d *fakeDeactivator) Deactivate(_ context.Context, sess *session.Session) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	sess.Deactivate(time.Now())
	d.ended = append(d.ended, sess.ID)
	return nil
}

func (d *fakeDeactivator) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ended)
}

type counter struct {
	mu sync.Mutex
	n  int
}

func (c *counter) Inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func dial(t *testing.T, ctx context.Context, srv *httptest.Server) *websocket.Conn {
	return dialPath(t, ctx, srv, "")
}

func dialPath(t *testing.T, ctx context.Context, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func readSequence(t *testing.T, ctx context.Context, conn *websocket.Conn) float64 {
	t.Helper()
	var f struct {
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	seq, _ := f.Payload["sequence"].(float64)
	return seq
}

func sendEvent(t *testing.T, ctx context.Context, conn *websocket.Conn, payload string) {
	t.Helper()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"channel":"event","payload":`+payload+`}`)))
}

func TestServer_RoutesEventsInOrder(t *testing.T) {
	router := &echoRouter{}
	conns := &counter{}
	s := NewServer(DefaultConfig(), Dependencies{Router: router, Connections: conns})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)

	sendEvent(t, ctx, conn, `{"username":"u1","actor":"system","action":"STARTED","target":"SESSION","context":{"groupId":"g"},"time":1714557600000,"sequence":0}`)
	for seq := 1; seq <= 3; seq++ {
		sendEvent(t, ctx, conn, `{"username":"u1","actor":"USER","action":"SUBMITTED","target":"ORGANISM","sequence":`+strconv.Itoa(seq)+`}`)
	}

	for seq := 1; seq <= 3; seq++ {
		var f struct {
			Channel string         `json:"channel"`
			Payload map[string]any `json:"payload"`
		}
		require.NoError(t, wsjson.Read(ctx, conn, &f))
		assert.Equal(t, "event", f.Channel)
		assert.Equal(t, float64(seq), f.Payload["sequence"])
	}

	events := router.seen()
	require.Len(t, events, 4)
	assert.Equal(t, event.ActorSystem, events[0].Actor)
	for i, ev := range events {
		assert.Equal(t, int64(i), ev.Sequence)
		assert.NotEmpty(t, ev.ID)
		assert.NotEmpty(t, ev.SessionID)
	}
	assert.Equal(t, 1, router.sessionCount())
	assert.Equal(t, 1, conns.value())
}

func TestServer_InvalidFrameSendsError(t *testing.T) {
	router := &echoRouter{}
	s := NewServer(DefaultConfig(), Dependencies{Router: router})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)

	sendEvent(t, ctx, conn, `{"actor":"ROBOT","action":"X","target":"Y","sequence":7}`)

	var f struct {
		Channel string       `json:"channel"`
		Payload ErrorPayload `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.Equal(t, ErrorChannel, f.Channel)
	assert.Equal(t, "protocol", f.Payload.Kind)
	assert.Equal(t, int64(7), f.Payload.Sequence)
	assert.Empty(t, router.seen())
}

func TestServer_RouterErrorSendsKind(t *testing.T) {
	router := &echoRouter{fail: shared.NewDomainError("router", "Process", shared.ErrProtocol, "student.groupId is missing or undefined")}
	s := NewServer(DefaultConfig(), Dependencies{Router: router})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)

	sendEvent(t, ctx, conn, `{"username":"u1","actor":"SYSTEM","action":"STARTED","target":"SESSION","sequence":1}`)

	var f struct {
		Channel string       `json:"channel"`
		Payload ErrorPayload `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.Equal(t, "protocol", f.Payload.Kind)
	assert.Contains(t, f.Payload.Message, "groupId")
}

func TestServer_IgnoresOtherChannels(t *testing.T) {
	router := &echoRouter{}
	s := NewServer(DefaultConfig(), Dependencies{Router: router})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"channel": "chat", "payload": "hello"}))
	sendEvent(t, ctx, conn, `{"username":"u1","actor":"USER","action":"SELECTED","target":"ALLELE","sequence":5}`)

	var f struct {
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	assert.Equal(t, float64(5), f.Payload["sequence"])
	assert.Len(t, router.seen(), 1)
}

func TestServer_DeactivateOnClose(t *testing.T) {
	router := &echoRouter{}
	deact := &fakeDeactivator{}
	cfg := DefaultConfig()
	cfg.DeactivateOnClose = true
	s := NewServer(cfg, Dependencies{Router: router, Deactivator: deact})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)

	sendEvent(t, ctx, conn, `{"username":"u1","actor":"SYSTEM","action":"STARTED","target":"SESSION","context":{"groupId":"g"},"sequence":0}`)
	require.Eventually(t, func() bool { return len(router.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return deact.count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_Shutdown(t *testing.T) {
	s := NewServer(DefaultConfig(), Dependencies{Router: &echoRouter{}})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, srv)
	require.Eventually(t, func() bool { return s.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	go func() {
		// Drain so the close handshake can complete.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	require.NoError(t, s.Shutdown(ctx))
	assert.Equal(t, 0, s.Connections())
}

func TestServer_ResumeAttachedSessionConflicts(t *testing.T) {
	router := &echoRouter{}
	live := sessions.NewRegistry()
	s := NewServer(DefaultConfig(), Dependencies{
		Router:   router,
		Sessions: memory.NewSessionRepository(),
		Live:     live,
	})
	srv := httptest.NewServer(s)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?session=s1"

	first := dialPath(t, ctx, srv, "/?session=s1")
	sendEvent(t, ctx, first, `{"username":"u1","actor":"SYSTEM","action":"STARTED","target":"SESSION","context":{"groupId":"g"},"sequence":0}`)
	require.Eventually(t, func() bool { return live.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// The first socket still receives its own actions.
	sendEvent(t, ctx, first, `{"username":"u1","actor":"USER","action":"SUBMITTED","target":"ORGANISM","sequence":1}`)
	assert.Equal(t, float64(1), readSequence(t, ctx, first))

	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return live.Len() == 0 }, 2*time.Second, 10*time.Millisecond)

	second := dialPath(t, ctx, srv, "/?session=s1")
	sendEvent(t, ctx, second, `{"username":"u1","actor":"USER","action":"SUBMITTED","target":"ORGANISM","sequence":2}`)
	assert.Equal(t, float64(2), readSequence(t, ctx, second))
}
