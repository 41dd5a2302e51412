package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestCORS(t *testing.T) {
	tests := []struct {
		name        string
		origins     []string
		method      string
		origin      string
		wantStatus  int
		wantAllowed string
	}{
		{name: "no origin header", origins: []string{"https://admin.example.com"}, method: http.MethodGet, wantStatus: http.StatusOK},
		{name: "listed origin", origins: []string{"https://admin.example.com"}, method: http.MethodGet, origin: "https://admin.example.com", wantStatus: http.StatusOK, wantAllowed: "https://admin.example.com"},
		{name: "unlisted origin", origins: []string{"https://admin.example.com"}, method: http.MethodGet, origin: "https://evil.example.com", wantStatus: http.StatusOK},
		{name: "wildcard echoes origin", origins: []string{"*"}, method: http.MethodGet, origin: "https://any.example.com", wantStatus: http.StatusOK, wantAllowed: "https://any.example.com"},
		{name: "preflight", origins: []string{"https://admin.example.com"}, method: http.MethodOptions, origin: "https://admin.example.com", wantStatus: http.StatusNoContent, wantAllowed: "https://admin.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(CORS(DefaultCORSConfig(tt.origins)))
			router.GET("/api/v1/events/:id/closeout", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/api/v1/events/evt-1/closeout", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllowed, w.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantAllowed != "" {
				assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
				assert.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			}
		})
	}
}
