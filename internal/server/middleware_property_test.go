package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"pgregory.net/rapid"

	"wager-engine/internal/escrow"
)

// TestTokenCheckProperty checks that a request passes iff the token is
// unset or the presented header equals it.
func TestTokenCheckProperty(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rapid.Check(t, func(t *rapid.T) {
		token := rapid.StringMatching(`[a-zA-Z0-9]{0,12}`).Draw(t, "token")
		presented := rapid.OneOf(
			rapid.Just(token),
			rapid.StringMatching(`[a-zA-Z0-9]{0,12}`),
		).Draw(t, "presented")

		router := gin.New()
		router.Use(TokenMiddleware(token))
		router.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set(escrow.TokenHeader, presented)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		want := token == "" || presented == token
		if got := w.Code == http.StatusNoContent; got != want {
			t.Fatalf("token=%q presented=%q: passed=%v, want %v", token, presented, got, want)
		}
		if Allowed(token, presented) != want {
			t.Fatalf("Allowed(%q, %q) disagrees with middleware", token, presented)
		}
	})
}
