package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ezmove/internal/auth"
	"github.com/example/ezmove/internal/job/domain"
	"github.com/example/ezmove/internal/job/repository"
	"github.com/example/ezmove/internal/job/service"
)

// HTTP exposes the job lifecycle endpoints.
type HTTP struct {
	svc    *service.Service
	authn  *auth.Authenticator
	logger *zap.Logger
}

// NewHTTP constructs a handler.
func NewHTTP(svc *service.Service, authn *auth.Authenticator, logger *zap.Logger) *HTTP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTP{svc: svc, authn: authn, logger: logger.Named("job.http")}
}

// Router builds the chi router. Every route requires an access token.
func (h *HTTP) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(auth.Middleware(h.authn))
	r.With(auth.Middleware(h.authn, auth.RoleClient)).Post("/", h.createJob)
	r.Get("/{id}", h.getJob)
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.authn, auth.RoleDriver))
		r.Post("/{id}/accept", h.driverAction(h.svc.AcceptJob))
		r.Post("/{id}/start", h.driverAction(h.svc.StartJob))
		r.Post("/{id}/complete", h.driverAction(h.svc.CompleteJob))
	})
	r.Post("/{id}/cancel", h.cancelJob)
	return r
}

type createJobRequest struct {
	Pickup      domain.Point `json:"pickup"`
	Delivery    domain.Point `json:"delivery"`
	VehicleType string       `json:"vehicleType"`
}

func (h *HTTP) createJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	var payload createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	job, err := h.svc.CreateJob(r.Context(), r.Header.Get("Idempotency-Key"), service.CreateJobRequest{
		ClientID:    identity.UserID,
		Pickup:      payload.Pickup,
		Delivery:    payload.Delivery,
		VehicleType: payload.VehicleType,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "job": job})
}

func (h *HTTP) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	job, err := h.svc.GetJob(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	if !identity.IsAdmin() && !job.IsParticipant(identity.UserID) {
		writeError(w, http.StatusForbidden, "Not authorized")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (h *HTTP) driverAction(action func(ctx context.Context, jobID, driverID uuid.UUID) (domain.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id")
			return
		}
		identity, _ := auth.IdentityFromContext(r.Context())
		job, err := action(r.Context(), id, identity.UserID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
	}
}

func (h *HTTP) cancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var payload struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	identity, _ := auth.IdentityFromContext(r.Context())
	job, err := h.svc.CancelJob(r.Context(), id, identity, payload.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "job": job})
}

func (h *HTTP) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "Job not found")
	case errors.Is(err, domain.ErrDriverMismatch), errors.Is(err, domain.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "Not authorized")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, repository.ErrVersionConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("job request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"success": false, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
