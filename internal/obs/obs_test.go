package obs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestRegisterOpsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var healthErr error
	r := gin.New()
	r.Use(HTTPMetrics())
	RegisterOpsRoutes(r, func(context.Context) error { return healthErr })

	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	assert.Equal(t, http.StatusOK, get("/healthz").Code)
	healthErr = errors.New("db down")
	assert.Equal(t, http.StatusServiceUnavailable, get("/healthz").Code)

	w := get("/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{code="200",method="GET",route="/healthz"}`)
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	WithTrace(context.Background(), log).Info("plain")
	otel.SetTracerProvider(sdktrace.NewTracerProvider())
	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	WithTrace(ctx, log).Info("traced")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.NotContains(t, entries[0].ContextMap(), "trace_id")
	assert.Equal(t, span.SpanContext().TraceID().String(), entries[1].ContextMap()["trace_id"])
	assert.Nil(t, WithTrace(ctx, nil))
}

func TestNewLogger_BadLevelFallsBackToInfo(t *testing.T) {
	l, err := NewLogger(LogConfig{Level: "loud", App: "noticeboard"})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.InfoLevel))
	assert.False(t, l.Core().Enabled(zap.DebugLevel))
}

func TestServiceFields_SkipsEmpty(t *testing.T) {
	fields := serviceFields(LogConfig{App: "noticeboard", Service: "api", Ver: "1.2.0"})
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Equal(t, []string{"app", "service", "version"}, keys)
}

func TestAccessLog_CarriesTraceIDs(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	otel.SetTracerProvider(sdktrace.NewTracerProvider())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		ctx, span := otel.Tracer("test").Start(c.Request.Context(), "req")
		defer span.End()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(AccessLog(zap.New(core)))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "/ping", fields["route"])
	assert.Equal(t, int64(http.StatusNoContent), fields["status"])
	assert.NotEmpty(t, fields["trace_id"])
	assert.Equal(t, true, fields["trace_sampled"])
}
