package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stwalsh4118/appraisal/internal/config"
	"github.com/stwalsh4118/appraisal/internal/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestRequestID(t *testing.T) {
	t.Run("generates new request ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

		headerID := w.Header().Get(RequestIDHeader)
		require.NotEmpty(t, headerID)
		assert.Equal(t, headerID, w.Body.String())
	})

	t.Run("uses existing request ID from header", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set(RequestIDHeader, "existing-request-id-123")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, "existing-request-id-123", w.Body.String())
	})

	t.Run("replaces malformed upstream ID", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.GET("/test", func(c *gin.Context) {
			c.String(http.StatusOK, GetRequestID(c))
		})

		for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1)} {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			req.Header.Set(RequestIDHeader, bad)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.NotEqual(t, bad, w.Body.String())
			assert.Len(t, w.Body.String(), 36, "expected a generated UUID")
		}
	})

	t.Run("GetRequestID returns empty string if not set", func(t *testing.T) {
		assert.Empty(t, GetRequestID(&gin.Context{}))
	})
}

func TestCORS(t *testing.T) {
	cfg := config.CORSConfig{Origins: []string{"http://localhost:3000", "http://localhost:3001"}}

	newRouter := func() *gin.Engine {
		router := gin.New()
		router.Use(CORS(cfg))
		router.GET("/test", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
		router.OPTIONS("/test", func(c *gin.Context) { c.String(http.StatusOK, "OK") })
		return router
	}

	t.Run("allows request from allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("does not set CORS headers for disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	})

	t.Run("handles OPTIONS preflight for allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/test", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})

	t.Run("rejects OPTIONS preflight for disallowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/test", nil)
		req.Header.Set("Origin", "http://evil.com")
		w := httptest.NewRecorder()
		newRouter().ServeHTTP(w, req)

		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogger(t *testing.T) {
	t.Run("logs completed request with route scope", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(RequestID())
		router.Use(Logger(logger.NewWithWriter("production", &buf)))
		router.GET("/runs/:runID", func(c *gin.Context) {
			require.NotNil(t, GetLogger(c))
			c.String(http.StatusOK, "OK")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/runs/abc?verbose=1", nil))

		require.Equal(t, http.StatusOK, w.Code)
		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "Request completed", lines[0]["message"])
		assert.Equal(t, "abc", lines[0]["run_id"])
		assert.Equal(t, "/runs/:runID", lines[0]["route"])
		assert.Equal(t, "verbose=1", lines[0]["query"])
		assert.NotEmpty(t, lines[0]["request_id"])
	})

	t.Run("client errors log at warn", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(Logger(logger.NewWithWriter("production", &buf)))
		router.GET("/test", func(c *gin.Context) { c.Status(http.StatusConflict) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

		lines := decodeLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "warn", lines[0]["level"])
	})

	t.Run("skipped paths are not logged", func(t *testing.T) {
		var buf bytes.Buffer
		router := gin.New()
		router.Use(Logger(logger.NewWithWriter("production", &buf), "/metrics"))
		router.GET("/metrics", func(c *gin.Context) {
			assert.NotNil(t, GetLogger(c))
			c.String(http.StatusOK, "ok")
		})

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics", nil))

		assert.Empty(t, buf.String())
	})

	t.Run("GetLogger returns nil if not set", func(t *testing.T) {
		assert.Nil(t, GetLogger(&gin.Context{}))
	})
}

func TestRecovery(t *testing.T) {
	t.Run("recovers from panic and returns 500", func(t *testing.T) {
		router := gin.New()
		router.Use(RequestID())
		router.Use(Recovery(logger.Nop()))
		router.GET("/panic", func(c *gin.Context) {
			panic("test panic")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
		assert.Contains(t, w.Body.String(), "request_id")
	})

	t.Run("leaves a started response alone", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(logger.Nop()))
		router.GET("/stream", func(c *gin.Context) {
			c.String(http.StatusOK, "event: state\n")
			c.Writer.Flush()
			panic("stream broke")
		})

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotContains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
	})

	t.Run("does not interfere with normal requests", func(t *testing.T) {
		router := gin.New()
		router.Use(Recovery(logger.Nop()))
		router.GET("/normal", func(c *gin.Context) { c.String(http.StatusOK, "OK") })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/normal", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "OK", w.Body.String())
	})
}

func TestMiddlewareStack(t *testing.T) {
	log := logger.Nop()

	router := gin.New()
	router.Use(RequestID())
	router.Use(Logger(log))
	router.Use(Recovery(log))
	router.Use(CORS(config.CORSConfig{Origins: []string{"http://localhost:3000"}}))
	router.GET("/test", func(c *gin.Context) {
		assert.NotEmpty(t, GetRequestID(c))
		assert.NotNil(t, GetLogger(c))
		c.String(http.StatusOK, "OK")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}
