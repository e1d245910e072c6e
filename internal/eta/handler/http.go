package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	etasvc "github.com/example/ezmove/internal/eta/service"
)

// HTTP exposes the point-to-point ETA endpoint.
type HTTP struct {
	svc *etasvc.Service
}

// New creates the handler.
func New(svc *etasvc.Service) *HTTP {
	return &HTTP{svc: svc}
}

// Router builds the chi router.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/calculate-eta", h.estimate)
	return r
}

type estimateResponse struct {
	Success         bool    `json:"success"`
	DistanceKM      float64 `json:"distanceKm"`
	DurationMinutes int     `json:"durationMinutes"`
	ETA             string  `json:"eta"`
}

func (h *HTTP) estimate(w http.ResponseWriter, r *http.Request) {
	fromLat, ok1 := parseQueryFloat(r, "fromLat")
	fromLng, ok2 := parseQueryFloat(r, "fromLng")
	toLat, ok3 := parseQueryFloat(r, "toLat")
	toLng, ok4 := parseQueryFloat(r, "toLng")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Missing coordinates"})
		return
	}
	est := h.svc.Estimate(etasvc.GeoPoint{Lat: fromLat, Lng: fromLng}, etasvc.GeoPoint{Lat: toLat, Lng: toLng})
	writeJSON(w, http.StatusOK, estimateResponse{
		Success:         true,
		DistanceKM:      est.DistanceKM,
		DurationMinutes: est.DurationMinutes,
		ETA:             est.ETA.UTC().Format(time.RFC3339),
	})
}

func parseQueryFloat(r *http.Request, key string) (float64, bool) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
