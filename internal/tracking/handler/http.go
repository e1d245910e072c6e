package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ezmove/internal/auth"
	jobdomain "github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/tracking/domain"
)

// Tracker is the read side of the tracking service used by HTTP.
type Tracker interface {
	History(ctx context.Context, jobID uuid.UUID) ([]domain.TrackingPoint, error)
	CurrentLocation(ctx context.Context, driverID uuid.UUID) (domain.DriverLocation, bool, error)
}

// HTTP exposes tracking history and driver location reads.
type HTTP struct {
	tracker Tracker
	jobs    jobdomain.Repository
	authn   *auth.Authenticator
	eta     http.Handler
	logger  *zap.Logger
}

// NewHTTP constructs a handler. eta, when set, is mounted at the router root for /calculate-eta.
func NewHTTP(tracker Tracker, jobs jobdomain.Repository, authn *auth.Authenticator, eta http.Handler, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{tracker: tracker, jobs: jobs, authn: authn, eta: eta, logger: logger.Named("tracking.http")}
}

// Router builds the chi router. Every route requires an access token.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Middleware(h.authn))
	r.Get("/job/{id}/history", h.history)
	r.Get("/driver/{id}/location", h.driverLocation)
	if h.eta != nil {
		r.Mount("/", h.eta)
	}
	return r
}

type historyPoint struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  *float64 `json:"accuracy,omitempty"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Status    string   `json:"status"`
	Timestamp string   `json:"timestamp"`
}

func (h *HTTP) history(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, domain.MsgJobNotFound)
		return
	}
	job, err := h.jobs.GetJobByID(r.Context(), jobID)
	if errors.Is(err, jobdomain.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, domain.MsgJobNotFound)
		return
	}
	if err != nil {
		h.internalError(w, "load job", err)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.IsAdmin() && !job.IsParticipant(identity.UserID) {
		writeError(w, http.StatusForbidden, domain.MsgNotAuthorized)
		return
	}

	points, err := h.tracker.History(r.Context(), jobID)
	if err != nil {
		h.internalError(w, "load tracking history", err)
		return
	}
	out := make([]historyPoint, 0, len(points))
	for _, p := range points {
		out = append(out, historyPoint{
			Latitude:  p.Latitude,
			Longitude: p.Longitude,
			Accuracy:  p.Accuracy,
			Heading:   p.Heading,
			Speed:     p.Speed,
			Status:    p.Status,
			Timestamp: p.CreatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":         true,
		"jobId":           jobID.String(),
		"trackingHistory": out,
	})
}

func (h *HTTP) driverLocation(w http.ResponseWriter, r *http.Request) {
	driverID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, domain.MsgLocationNotExists)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.IsAdmin() {
		linked, err := h.jobs.HasJobLinking(r.Context(), driverID, identity.UserID)
		if err != nil {
			h.internalError(w, "check job link", err)
			return
		}
		if !linked {
			writeError(w, http.StatusForbidden, domain.MsgNotAuthorized)
			return
		}
	}

	loc, ok, err := h.tracker.CurrentLocation(r.Context(), driverID)
	if err != nil {
		h.internalError(w, "load driver location", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, domain.MsgLocationNotExists)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"driverId": driverID.String(),
		"location": map[string]any{
			"latitude":  loc.Latitude,
			"longitude": loc.Longitude,
			"accuracy":  loc.Accuracy,
			"heading":   loc.Heading,
			"speed":     loc.Speed,
			"timestamp": loc.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (h *HTTP) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
