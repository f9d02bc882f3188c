// Package server exposes the admin and connection surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"marketIndexer/internal/broadcast"
	"marketIndexer/internal/ingest"
	"marketIndexer/internal/model"
	"marketIndexer/internal/orchestrator"
)

// Backend is the orchestrator as seen by the HTTP surface.
type Backend interface {
	Status(ctx context.Context) orchestrator.Status
	FailedEvents() []model.FailedEvent
	Replay(id string) error
}

type Handlers struct {
	backend Backend
	auth    *broadcast.Authenticator
	logger  *zap.Logger
}

// NewRouter mounts the status, health, metrics, failed-event and WebSocket
// routes.
func NewRouter(backend Backend, auth *broadcast.Authenticator, ws http.Handler, metricsHandler http.Handler, logger *zap.Logger) *mux.Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handlers{backend: backend, auth: auth, logger: logger.Named("http")}

	router := mux.NewRouter()
	router.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.HandleHealth).Methods(http.MethodGet)
	router.HandleFunc("/failed", h.HandleFailed).Methods(http.MethodGet)
	router.HandleFunc("/failed/{id}/replay", h.HandleReplay).Methods(http.MethodPost)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	if ws != nil {
		router.Handle("/ws", ws).Methods(http.MethodGet)
	}
	return router
}

func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.backend.Status(r.Context()))
}

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := h.backend.Status(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"healthy":   status.Healthy,
		"unhealthy": status.Unhealthy,
	})
}

func (h *Handlers) HandleFailed(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.requireAdmin(w, r); !ok {
		return
	}
	failed := h.backend.FailedEvents()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(failed),
		"events": failed,
	})
}

func (h *Handlers) HandleReplay(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.requireAdmin(w, r)
	if !ok {
		return
	}

	id := mux.Vars(r)["id"]
	err := h.backend.Replay(id)
	switch {
	case err == nil:
		h.logger.Info("failed event replayed", zap.String("id", id), zap.String("by", identity.ID))
		respondJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": string(model.StatusPending)})
	case errors.Is(err, ingest.ErrFailedNotFound):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ingest.ErrClosed):
		respondError(w, err.Error(), http.StatusServiceUnavailable)
	default:
		respondError(w, err.Error(), http.StatusConflict)
	}
}

// requireAdmin writes 401 for a missing or invalid token and 403 for a
// non-admin one.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) (broadcast.Identity, bool) {
	identity, err := h.auth.Require(broadcast.BearerToken(r), broadcast.RoleAdmin)
	switch {
	case errors.Is(err, broadcast.ErrForbidden):
		respondError(w, err.Error(), http.StatusForbidden)
		return broadcast.Identity{}, false
	case err != nil:
		respondError(w, err.Error(), http.StatusUnauthorized)
		return broadcast.Identity{}, false
	}
	return identity, true
}

func respondJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, code int) {
	respondJSON(w, code, map[string]interface{}{"error": message})
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
