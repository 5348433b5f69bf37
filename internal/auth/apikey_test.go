package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newEngine(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	r := newEngine("secret")

	cases := []struct {
		name   string
		target string
		header map[string]string
		want   int
	}{
		{name: "missing", target: "/x", want: http.StatusUnauthorized},
		{name: "wrong", target: "/x", header: map[string]string{"X-API-Key": "nope"}, want: http.StatusForbidden},
		{name: "header", target: "/x", header: map[string]string{"X-API-Key": "secret"}, want: http.StatusOK},
		{name: "bearer", target: "/x", header: map[string]string{"Authorization": "Bearer secret"}, want: http.StatusOK},
		{name: "query", target: "/x?api_key=secret", want: http.StatusOK},
		{name: "basic auth is not a key", target: "/x", header: map[string]string{"Authorization": "Basic c2VjcmV0"}, want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			for k, v := range tc.header {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAPIKeyDisabled(t *testing.T) {
	w := httptest.NewRecorder()
	newEngine("").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
