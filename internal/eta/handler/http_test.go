package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	etasvc "github.com/example/ezmove/internal/eta/service"
)

func TestEstimateEndpoint(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	h := New(etasvc.New(0, func() time.Time { return now })).Router()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/calculate-eta?fromLat=0&fromLng=0&toLat=0.1&toLng=0", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body estimateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.True(t, body.Success)
	require.InDelta(t, 11.12, body.DistanceKM, 0.001)
	require.Equal(t, 17, body.DurationMinutes)
	require.Equal(t, "2024-03-01T12:17:00Z", body.ETA)
}

func TestEstimateEndpointMissingCoordinates(t *testing.T) {
	h := New(etasvc.New(0, nil)).Router()
	for _, target := range []string{
		"/calculate-eta",
		"/calculate-eta?fromLat=1&fromLng=1&toLat=2",
		"/calculate-eta?fromLat=x&fromLng=1&toLat=2&toLng=2",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}
