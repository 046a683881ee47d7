package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourorg/go-blob-kit/pkg/logging"
)

type fakeTelemetry struct {
	mu     sync.Mutex
	slow   []string
	errors []int
	txns   []string
}

func (f *fakeTelemetry) RecordTransaction(ctx context.Context, name string, durationMs int64, statusCode int, traceID, requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txns = append(f.txns, name)
}

func (f *fakeTelemetry) RecordSlowRequest(ctx context.Context, path string, durationMs int64, traceID, requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slow = append(f.slow, path)
}

func (f *fakeTelemetry) RecordError(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors = append(f.errors, statusCode)
}

type fakeSlack struct {
	alerts int
}

func (f *fakeSlack) SendSlowRequestAlert(ctx context.Context, path string, durationMs int64, traceID, requestID string) error {
	f.alerts++
	return nil
}

func (f *fakeSlack) SendErrorAlert(ctx context.Context, path, errorMsg string, statusCode int, traceID, requestID string) error {
	f.alerts++
	return nil
}

func TestSlowRequestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.WarnLevel)
	tel := &fakeTelemetry{}
	slack := &fakeSlack{}

	router := gin.New()
	router.Use(SlowRequestMiddleware(10*time.Millisecond, tel, slack, logging.NewZapLogger(zap.New(core))))
	router.GET("/slow", func(c *gin.Context) {
		time.Sleep(20 * time.Millisecond)
		c.Status(http.StatusOK)
	})
	router.GET("/fast", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/broken", func(c *gin.Context) { c.Status(http.StatusServiceUnavailable) })

	for _, path := range []string{"/slow", "/fast", "/broken"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	}

	assert.Equal(t, []string{"GET /slow", "GET /fast", "GET /broken"}, tel.txns)
	require.Equal(t, []string{"/slow"}, tel.slow)
	assert.Equal(t, []int{http.StatusServiceUnavailable}, tel.errors)
	assert.Equal(t, 2, slack.alerts)
	assert.Equal(t, 1, logs.FilterMessage("Slow request detected").Len())
}

func TestContextLoggerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(RequestIDMiddleware(), ContextLoggerMiddleware(logging.NewZapLogger(zap.New(core)), "blob-gateway"))
	router.GET("/v1/:user/:container", func(c *gin.Context) {
		logging.FromContext(c.Request.Context()).Info("listing")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest("GET", "/v1/alice/photos", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "blob-gateway", fields["service"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "alice", fields["user"])
	assert.Equal(t, "photos", fields["container"])
}
