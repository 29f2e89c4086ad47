package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/a-essam23/go-relay/pkg/config"
	"github.com/a-essam23/go-relay/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	h := Chain(ok, mark("outer"), mark("inner"))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRequestMetadata(t *testing.T) {
	var meta *RequestMetadata
	h := Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		meta, _ = ReqMetadataFrom(r.Context())
	}), RequestMetadataMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, meta)
	assert.Equal(t, "10.1.2.3", meta.IP)
	assert.NotEmpty(t, meta.RequestID)
}

func TestConnectionLimiter(t *testing.T) {
	tests := []struct {
		name       string
		cfg        config.ConnectionLimitConfig
		count      int
		wantStatus int
		wantCycled bool
	}{
		{"disabled", config.ConnectionLimitConfig{MaxPerIP: 0, Mode: "reject"}, 99, http.StatusOK, false},
		{"under limit", config.ConnectionLimitConfig{MaxPerIP: 2, Mode: "reject"}, 1, http.StatusOK, false},
		{"reject at limit", config.ConnectionLimitConfig{MaxPerIP: 2, Mode: "reject"}, 2, http.StatusTooManyRequests, false},
		{"cycle at limit", config.ConnectionLimitConfig{MaxPerIP: 2, Mode: "cycle"}, 2, http.StatusOK, true},
		{"bad mode", config.ConnectionLimitConfig{MaxPerIP: 1, Mode: "drop"}, 1, http.StatusInternalServerError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycled := false
			limiter := NewConnectionLimiter(logging.Discard(),
				func(ip string) int { return tt.count },
				func(ip string) { cycled = true },
				tt.cfg,
			)
			h := Chain(ok, RequestMetadataMiddleware(), limiter)

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantCycled, cycled)
		})
	}
}

func TestConnectionLimiterNeedsMetadata(t *testing.T) {
	limiter := NewConnectionLimiter(logging.Discard(),
		func(ip string) int { return 0 },
		func(ip string) {},
		config.ConnectionLimitConfig{MaxPerIP: 1, Mode: "reject"},
	)
	rec := httptest.NewRecorder()
	Chain(ok, limiter).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCORS(t *testing.T) {
	h := Chain(ok, NewCORS([]string{"localhost:5173"}))

	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodGet, "/api/users", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflight(t *testing.T) {
	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})
	h := Chain(next, NewCORS([]string{"localhost:5173"}))

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/upload", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allowed origin", func(t *testing.T) {
		called = false
		rec := preflight("http://localhost:5173")
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
		assert.False(t, called, "preflight is answered by the middleware")
	})

	t.Run("disallowed origin", func(t *testing.T) {
		called = false
		rec := preflight("http://evil.example")
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Methods"))
		assert.False(t, called)
	})

	t.Run("plain options request", func(t *testing.T) {
		called = false
		req := httptest.NewRequest(http.MethodOptions, "/api/users", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.True(t, called, "an OPTIONS request that is not a preflight reaches the handler")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestCORSWildcard(t *testing.T) {
	h := Chain(ok, NewCORS([]string{"*"}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anywhere.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://anywhere.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSHostPatterns(t *testing.T) {
	patterns := []string{"localhost:5173", "*.example.com"}
	tests := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:5173", true},
		{"https://LOCALHOST:5173", true},
		{"http://localhost:3000", false},
		{"https://chat.example.com", true},
		{"https://example.com", false},
		{"null", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, originAllowed(patterns, tt.origin), tt.origin)
	}
}
