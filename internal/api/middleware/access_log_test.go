package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func newEngine(logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), AccessLog(logger, "/healthz"))
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/api/devices/:serial", func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })
	return r
}

func TestRequestID(t *testing.T) {
	r := newEngine(zap.NewNop())

	t.Run("生成新ID", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
	})

	t.Run("透传已有ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))
	})
}

func TestAccessLog(t *testing.T) {
	tests := []struct {
		name      string
		path      string
		wantLevel string
		wantPath  string
		wantLogs  int
	}{
		{name: "跳过探针", path: "/healthz", wantLogs: 0},
		{name: "4xx记为warn并使用路由模板", path: "/api/devices/SER-1", wantLevel: "warn", wantPath: "/api/devices/:serial", wantLogs: 1},
		{name: "5xx记为error", path: "/boom", wantLevel: "error", wantPath: "/boom", wantLogs: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			r := newEngine(zap.New(core))

			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.path, nil))

			entries := logs.All()
			assert.Len(t, entries, tt.wantLogs)
			if tt.wantLogs == 0 {
				return
			}
			assert.Equal(t, tt.wantLevel, entries[0].Level.String())
			assert.Equal(t, tt.wantPath, entries[0].ContextMap()["path"])
		})
	}
}
