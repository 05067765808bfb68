package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wager-engine/internal/config"
	"wager-engine/internal/escrow"
	"wager-engine/internal/escrow/escrowtest"
)

func newTestServer(t *testing.T, token string, checks map[string]HealthFunc) (*escrowtest.Fake, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fake := escrowtest.New()
	cfg := &config.Config{
		Server: config.ServerConfig{ID: "test-worker", HTTPAddr: ":0"},
		Escrow: config.EscrowConfig{HoldingAccount: "hold", Token: token},
	}
	s, err := New(&Dependencies{Config: cfg, Transfers: fake, Checks: checks})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return fake, srv
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(&Dependencies{})
	assert.Error(t, err)
	_, err = New(&Dependencies{Config: &config.Config{}})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	healthy := true
	_, srv := newTestServer(t, "", map[string]HealthFunc{
		"postgres": func(context.Context) error { return nil },
		"redis": func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		},
	})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	healthy = false
	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestMetricsExposed(t *testing.T) {
	_, srv := newTestServer(t, "", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTransferRoutesRequireToken(t *testing.T) {
	fake, srv := newTestServer(t, "s3cret", nil)
	fake.Give("u1", "a1")
	ctx := context.Background()
	entries := []escrow.Entry{{UserID: "u1", AssetIDs: []string{"a1"}}}

	_, err := escrow.NewClient(srv.URL, 0).Create(ctx, entries)
	assert.Error(t, err)

	_, err = escrow.NewClient(srv.URL, 0).WithToken("wrong").Create(ctx, entries)
	assert.Error(t, err)

	id, err := escrow.NewClient(srv.URL, 0).WithToken("s3cret").Create(ctx, entries)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Health stays public.
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveryMiddleware(), LoggingMiddleware())
	router.GET("/boom", func(*gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "internal"))
}
