package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/apperr"
	"github.com/aman-churiwal/fx-gateway/internal/models"
	"github.com/aman-churiwal/fx-gateway/internal/ratelimit"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAbortWithError_TooSoonSetsRetryAfter(t *testing.T) {
	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		err := apperr.New(apperr.CodeTooSoon, "Wait 3 more minute(s) before the next request")
		err.RetryAfter = 150 * time.Second
		AbortWithError(c, err)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "150", w.Header().Get("Retry-After"))
	body := decode(t, w)
	assert.Equal(t, "TOO_SOON", body["code"])
	assert.Contains(t, body["error"], "3 more minute")
}

func TestAbortWithError_DetailsAndUnknownErrors(t *testing.T) {
	r := gin.New()
	r.GET("/upstream", func(c *gin.Context) {
		err := apperr.New(apperr.CodeUpstreamFetchFailed, "failed to fetch rate")
		err.Details = "symbol not found"
		AbortWithError(c, err)
	})
	r.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, errors.New("boom"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/upstream", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "symbol not found", decode(t, w)["details"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "boom")
}

type stubAuth struct {
	tenant  *models.Tenant
	touched chan uuid.UUID
}

func (s *stubAuth) Authenticate(_ context.Context, key string) (*models.Tenant, error) {
	if key != "fx_good" {
		return nil, apperr.New(apperr.CodeAuthInvalid, "Invalid API key")
	}
	return s.tenant, nil
}

func (s *stubAuth) TouchLastUsed(id uuid.UUID, _ time.Time) {
	s.touched <- id
}

func TestTenantAuth(t *testing.T) {
	tenant := &models.Tenant{ID: uuid.New(), Name: "acme", IsActive: true}
	auth := &stubAuth{tenant: tenant, touched: make(chan uuid.UUID, 1)}

	r := gin.New()
	r.GET("/convert", TenantAuth(auth), func(c *gin.Context) {
		got, ok := TenantFrom(c)
		require.True(t, ok)
		c.String(http.StatusOK, got.Name)
	})

	cases := []struct {
		name   string
		key    string
		status int
		code   string
	}{
		{"missing", "", http.StatusUnauthorized, "AUTH_MISSING"},
		{"invalid", "fx_bad", http.StatusForbidden, "AUTH_INVALID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/convert", nil)
			if tc.key != "" {
				req.Header.Set(APIKeyHeader, tc.key)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decode(t, w)["code"])
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/convert", nil)
	req.Header.Set(APIKeyHeader, "fx_good")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "acme", w.Body.String())
	assert.Equal(t, tenant.ID, <-auth.touched)
}

type stubValidator struct{}

func (stubValidator) ValidateToken(token string) (jwt.MapClaims, error) {
	if token != "good" {
		return nil, errors.New("bad token")
	}
	return jwt.MapClaims{"sub": "ops", "role": "admin"}, nil
}

func TestRequireAdmin(t *testing.T) {
	r := gin.New()
	r.GET("/admin", RequireAdmin(stubValidator{}), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	cases := map[string]int{
		"":            http.StatusUnauthorized,
		"Token good":  http.StatusUnauthorized,
		"Bearer nope": http.StatusForbidden,
		"Bearer good": http.StatusNoContent,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, want, w.Code, "header %q", header)
	}
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (m *memCounter) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	m.counts[key]++
	return m.counts[key], nil
}

func (m *memCounter) Expire(context.Context, string, time.Duration) error { return nil }

func TestPublicRateLimit(t *testing.T) {
	limiter := ratelimit.NewFixedWindow(&memCounter{counts: map[string]int64{}}, 2, time.Minute)

	r := gin.New()
	r.GET("/rates", PublicRateLimit(limiter, discard()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = httptest.NewRecorder()
		r.ServeHTTP(last, httptest.NewRequest(http.MethodGet, "/rates", nil))
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.NotEmpty(t, last.Header().Get("Retry-After"))
	assert.Equal(t, "0", last.Header().Get("X-RateLimit-Remaining"))
}

func TestPublicRateLimit_FailsOpen(t *testing.T) {
	limiter := ratelimit.NewFixedWindow(&memCounter{counts: map[string]int64{}, err: errors.New("down")}, 1, time.Minute)

	r := gin.New()
	r.GET("/rates", PublicRateLimit(limiter, discard()), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/rates", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/x", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(RequestIDKey))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(discard()))
	r.GET("/panic", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

type captureWriter struct {
	mu   sync.Mutex
	rows []models.RequestLog
}

func (c *captureWriter) CreateBatch(_ context.Context, logs []models.RequestLog) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows = append(c.rows, logs...)
	return nil
}

func (c *captureWriter) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rows)
}

func TestRequestLogSink_FlushesOnShutdown(t *testing.T) {
	writer := &captureWriter{}
	sink := NewRequestLogSink(writer, RequestLogSinkConfig{BatchSize: 50, FlushInterval: time.Hour}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sink.Run(ctx)
		close(done)
	}()

	r := gin.New()
	r.Use(RequestID(), sink.Middleware())
	r.GET("/convert", func(c *gin.Context) {
		AbortWithError(c, apperr.New(apperr.CodeTooSoon, "wait"))
	})

	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/convert", nil))
	}

	cancel()
	<-done

	require.Equal(t, 3, writer.len())
	assert.Equal(t, "TOO_SOON", writer.rows[0].ErrorCode)
	assert.Equal(t, http.StatusTooManyRequests, writer.rows[0].StatusCode)
	assert.NotEmpty(t, writer.rows[0].RequestID)
}

func TestRequestLogSink_FlushesFullBatch(t *testing.T) {
	writer := &captureWriter{}
	sink := NewRequestLogSink(writer, RequestLogSinkConfig{BatchSize: 2, FlushInterval: time.Hour}, discard())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sink.Run(ctx)

	sink.enqueue(models.RequestLog{Path: "/a"})
	sink.enqueue(models.RequestLog{Path: "/b"})

	assert.Eventually(t, func() bool { return writer.len() == 2 }, time.Second, 10*time.Millisecond)
}
