package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDistanceKM(t *testing.T) {
	berlin := GeoPoint{Lat: 52.5200, Lng: 13.4050}
	paris := GeoPoint{Lat: 48.8566, Lng: 2.3522}
	require.InDelta(t, 877.5, DistanceKM(berlin, paris), 2.0)
	require.Zero(t, DistanceKM(berlin, berlin))
}

func TestEstimateRounding(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := New(0, func() time.Time { return now })

	// about 11.12 km: one hundredth of a degree of latitude is 1.112 km.
	est := svc.Estimate(GeoPoint{Lat: 0, Lng: 0}, GeoPoint{Lat: 0.1, Lng: 0})
	require.InDelta(t, 11.12, est.DistanceKM, 0.001)
	require.Equal(t, 17, est.DurationMinutes)
	require.Equal(t, now.Add(17*time.Minute), est.ETA)

	same := svc.Estimate(GeoPoint{Lat: 1, Lng: 1}, GeoPoint{Lat: 1, Lng: 1})
	require.Zero(t, same.DistanceKM)
	require.Zero(t, same.DurationMinutes)
	require.Equal(t, now, same.ETA)
}
