package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCompositeHealthChecker(t *testing.T) {
	c := NewCompositeHealthChecker("1.0.0")

	status := c.Check(context.Background())
	assert.True(t, status.Healthy)
	assert.Equal(t, "No health checks registered", status.Message)

	c.AddCheck("postgres", NewPingCheck(pinger{}))
	c.AddCheck("redis", NewPingCheck(pinger{err: errors.New("dial tcp: refused")}))

	status = c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.False(t, status.Ready)
	assert.Equal(t, "Some checks failed: redis", status.Message)
	assert.True(t, status.Checks["postgres"].Healthy)
	assert.Equal(t, "dial tcp: refused", status.Checks["redis"].Message)
	assert.Equal(t, "1.0.0", status.Version)
}

func TestCompositeHealthChecker_Timeout(t *testing.T) {
	c := NewCompositeHealthChecker("")
	c.SetTimeout(10 * time.Millisecond)
	c.AddCheck("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	status := c.Check(context.Background())
	assert.False(t, status.Healthy)
	assert.Contains(t, status.Checks["slow"].Message, "deadline")
}

func TestAdminTokenAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("token-1"), bcrypt.MinCost)
	require.NoError(t, err)

	auth := NewAdminTokenAuth(string(hash))
	assert.True(t, auth.Enabled())
	assert.True(t, auth.IsValid("token-1"))
	assert.False(t, auth.IsValid("token-2"))
	assert.False(t, auth.IsValid(""))

	disabled := NewAdminTokenAuth("")
	assert.False(t, disabled.Enabled())
	assert.False(t, disabled.IsValid("token-1"))
}

func TestChainHandler_Order(t *testing.T) {
	var order []string
	mw := func(name string) MiddlewareFunc {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := ChainHandler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mw("a"), mw("b"))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "handler"}, order)
}

func TestRequestSizeLimitMiddleware(t *testing.T) {
	h := RequestSizeLimitMiddleware(4)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
	req.ContentLength = 10
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
