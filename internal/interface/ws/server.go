// Package ws is the learner transport. Each WebSocket connection owns one
// tutoring session and a session is served by at most one connection. Its
// event frames are handed to the router one at a time, in arrival order, and
// tutor actions are written back on the same socket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/guide-lms/guide-router/internal/application/sessions"
	"github.com/guide-lms/guide-router/internal/domain/event"
	"github.com/guide-lms/guide-router/internal/domain/session"
	"github.com/guide-lms/guide-router/internal/domain/shared"
	"github.com/guide-lms/guide-router/pkg/logger"
)

// ErrorChannel carries routing failures back to the client.
const ErrorChannel = "error"

// Frame is one message on the socket in either direction.
type Frame struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

type outFrame struct {
	Channel string `json:"channel"`
	Payload any    `json:"payload"`
}

// ErrorPayload is sent on ErrorChannel when an event fails.
type ErrorPayload struct {
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Sequence int64  `json:"sequence,omitempty"`
}

// Processor routes one event of a session.
type Processor interface {
	Process(ctx context.Context, sess *session.Session, ev *event.Event) error
}

// Counter is incremented per accepted connection. prometheus.Counter
// satisfies it.
type Counter interface {
	Inc()
}

// Config configures the WebSocket server.
type Config struct {
	// Channel is the inbound and outbound event channel name.
	Channel string

	// AllowedOrigins are host patterns accepted besides same-origin requests.
	AllowedOrigins []string

	// ReadLimit caps one inbound frame in bytes.
	ReadLimit int64

	WriteTimeout time.Duration

	// DeactivateOnClose ends a still-active session when its socket closes.
	DeactivateOnClose bool
}

// DefaultConfig returns default WebSocket settings.
func DefaultConfig() Config {
	return Config{
		Channel:      "event",
		ReadLimit:    1 << 20,
		WriteTimeout: 10 * time.Second,
	}
}

// Dependencies are the collaborators of a Server.
type Dependencies struct {
	Router      Processor
	Sessions    session.Repository
	Deactivator sessions.Deactivator
	// Live tracks attached sessions. It is shared with the sessions.Service
	// so bulk deactivation goes through the connection's lease.
	Live        *sessions.Registry
	Connections Counter
	Logger      *logger.Logger
}

// Server accepts learner connections.
type Server struct {
	cfg  Config
	deps Dependencies
	log  *logger.Logger

	mu       sync.Mutex
	conns    map[*websocket.Conn]struct{}
	closing  bool
	handlers sync.WaitGroup
}

// NewServer creates a Server.
func NewServer(cfg Config, deps Dependencies) *Server {
	def := DefaultConfig()
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = def.ReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Live == nil {
		deps.Live = sessions.NewRegistry()
	}
	return &Server{
		cfg:   cfg,
		deps:  deps,
		log:   deps.Logger.With(logger.Component("ws")),
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// A "session" query parameter resumes a stored session; resuming one that
// another connection is serving is refused with 409.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sess, err := s.openSession(r.Context(), r.URL.Query().Get("session"))
	if err != nil {
		s.log.Warn("cannot open session", logger.Err(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lease, err := s.deps.Live.Attach(sess)
	if err != nil {
		s.log.Warn("session already attached", logger.SessionID(sess.ID))
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	defer lease.Release()

	// Server-wide read and write timeouts must not apply to a long-lived socket.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		s.log.Error("websocket accept failed", logger.Err(err))
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	if !s.track(conn) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.untrack(conn)

	if s.deps.Connections != nil {
		s.deps.Connections.Inc()
	}

	// Detached so that a closing socket can still persist its session.
	ctx := context.WithoutCancel(r.Context())
	lease.Do(func(sess *session.Session) {
		sess.Channel = &channel{conn: conn, timeout: s.cfg.WriteTimeout}
	})
	s.serve(ctx, conn, lease, sess.ID)
}

// Shutdown closes every open socket and waits for their sessions to be
// closed, or for ctx to end.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	for conn := range s.conns {
		go conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.handlers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections returns the number of open sockets.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) track(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.handlers.Add(1)
	return true
}

func (s *Server) untrack(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
	s.handlers.Done()
}

func (s *Server) openSession(ctx context.Context, id string) (*session.Session, error) {
	if id != "" && s.deps.Sessions != nil {
		sess, err := s.deps.Sessions.GetByID(ctx, id)
		if err == nil {
			return sess, nil
		}
		if !errors.Is(err, session.ErrSessionNotFound) {
			return nil, err
		}
	}
	if id == "" {
		id = uuid.NewString()
	}
	return session.New(id)
}

func (s *Server) serve(ctx context.Context, conn *websocket.Conn, lease *sessions.Lease, id string) {
	log := s.log.With(logger.SessionID(id))
	log.Info("client connected")

	defer func() {
		lease.Do(func(sess *session.Session) { s.closeSession(ctx, log, sess) })
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				log.Info("client disconnected")
			default:
				log.Warn("connection closed", logger.Err(err))
			}
			return
		}
		lease.Do(func(sess *session.Session) { s.handleFrame(ctx, log, sess, f) })
	}
}

func (s *Server) handleFrame(ctx context.Context, log *logger.Logger, sess *session.Session, f Frame) {
	if f.Channel != s.cfg.Channel {
		log.Debug("ignoring frame", logger.String("channel", f.Channel))
		return
	}

	ev := &event.Event{}
	if err := json.Unmarshal(f.Payload, ev); err != nil {
		s.sendError(ctx, log, sess, shared.WrapError("ws", "decode", shared.ErrProtocol, "invalid event frame", err), 0)
		return
	}
	if err := ev.Validate(); err != nil {
		s.sendError(ctx, log, sess, shared.WrapError("ws", "decode", shared.ErrProtocol, "invalid event frame", err), ev.Sequence)
		return
	}
	if ev.ID == "" {
		ev.ID = event.NewID()
	}
	if ev.SessionID == "" {
		ev.SessionID = sess.ID
	}

	if err := s.deps.Router.Process(ctx, sess, ev); err != nil {
		s.sendError(ctx, log, sess, err, ev.Sequence)
	}
}

func (s *Server) sendError(ctx context.Context, log *logger.Logger, sess *session.Session, err error, seq int64) {
	payload := ErrorPayload{Kind: shared.ErrorKind(err), Message: err.Error(), Sequence: seq}
	if werr := sess.Channel.Emit(ctx, ErrorChannel, payload); werr != nil {
		log.Debug("error frame not delivered", logger.Err(werr))
	}
}

func (s *Server) closeSession(ctx context.Context, log *logger.Logger, sess *session.Session) {
	sess.Channel = nil
	if !s.cfg.DeactivateOnClose || !sess.Active || s.deps.Deactivator == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := s.deps.Deactivator.Deactivate(ctx, sess); err != nil {
		log.Error("failed to deactivate session on disconnect", logger.Err(err))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTBOUND CHANNEL
// ══════════════════════════════════════════════════════════════════════════════

// channel implements session.Channel over one socket.
type channel struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	timeout time.Duration
}

func (c *channel) Emit(ctx context.Context, name string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return wsjson.Write(ctx, c.conn, outFrame{Channel: name, Payload: payload})
}
