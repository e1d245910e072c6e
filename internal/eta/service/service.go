package service

import (
	"math"
	"time"
)

// DefaultSpeedKmh is the average urban delivery speed used for duration estimates.
const DefaultSpeedKmh = 40.0

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Estimate is a straight-line distance and travel time between two points.
type Estimate struct {
	DistanceKM      float64   `json:"distanceKm"`
	DurationMinutes int       `json:"durationMinutes"`
	ETA             time.Time `json:"eta"`
}

// Service calculates ETAs using haversine distance and a fixed average speed.
type Service struct {
	speedKmh float64
	now      func() time.Time
}

// New creates an ETA service. A non-positive speed falls back to DefaultSpeedKmh.
func New(speedKmh float64, now func() time.Time) *Service {
	if speedKmh <= 0 {
		speedKmh = DefaultSpeedKmh
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{speedKmh: speedKmh, now: now}
}

// Estimate returns the distance rounded to two decimals and the duration rounded up to whole minutes.
func (s *Service) Estimate(from, to GeoPoint) Estimate {
	km := DistanceKM(from, to)
	minutes := int(math.Ceil(km / s.speedKmh * 60))
	return Estimate{
		DistanceKM:      math.Round(km*100) / 100,
		DurationMinutes: minutes,
		ETA:             s.now().Add(time.Duration(minutes) * time.Minute),
	}
}

// DistanceKM is the great-circle distance in kilometres.
func DistanceKM(a, b GeoPoint) float64 {
	const earthRadiusKm = 6371.0
	lat1 := toRadians(a.Lat)
	lat2 := toRadians(b.Lat)
	dlat := toRadians(b.Lat - a.Lat)
	dlon := toRadians(b.Lng - a.Lng)

	sinDlat := math.Sin(dlat / 2)
	sinDlon := math.Sin(dlon / 2)
	aa := sinDlat*sinDlat + math.Cos(lat1)*math.Cos(lat2)*sinDlon*sinDlon
	c := 2 * math.Atan2(math.Sqrt(aa), math.Sqrt(1-aa))
	return earthRadiusKm * c
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
