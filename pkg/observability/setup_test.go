package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSetupLoggerLevel(t *testing.T) {
	require.True(t, SetupLogger("tracking", "debug").Core().Enabled(zapcore.DebugLevel))
	require.False(t, SetupLogger("tracking", "warn").Core().Enabled(zapcore.InfoLevel))
	require.True(t, SetupLogger("tracking", "nonsense").Core().Enabled(zapcore.InfoLevel))
}

func TestMetricsRouter(t *testing.T) {
	rec := httptest.NewRecorder()
	MetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	MetricsRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := chi.NewRouter()
	r.Use(RequestLogger(zap.New(core)))
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, int64(http.StatusTeapot), entries[0].ContextMap()["status"])
}
