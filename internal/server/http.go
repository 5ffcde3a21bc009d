package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Combine-Capital/cqre/internal/manager"
	"github.com/Combine-Capital/cqre/internal/refresh"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
)

// ApiError is the body of every JSON error response
type ApiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeCycleInProgress     = "CYCLE_IN_PROGRESS"
	ErrCodePersistenceDisabled = "PERSISTENCE_DISABLED"
	ErrCodeInternalError       = "INTERNAL_ERROR"
)

// Refresher is the part of the refresh orchestrator the HTTP API exposes.
type Refresher interface {
	Save(ctx context.Context) (int, error)
	LastReport() *refresh.CycleReport
	State() refresh.State
}

// ReadinessFunc reports whether the service can serve traffic.
type ReadinessFunc func(ctx context.Context) error

// API is the HTTP query surface over the registry.
type API struct {
	assetManager *manager.AssetManager
	refresher    Refresher
	ready        ReadinessFunc
	router       *mux.Router
}

// NewAPI creates the HTTP API. refresher and ready may be nil.
func NewAPI(assetManager *manager.AssetManager, refresher Refresher, ready ReadinessFunc) *API {
	a := &API{
		assetManager: assetManager,
		refresher:    refresher,
		ready:        ready,
		router:       mux.NewRouter(),
	}
	a.routes()
	return a
}

func (a *API) routes() {
	v1 := a.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/assets", a.handleListAssets()).Methods(http.MethodGet)
	v1.HandleFunc("/assets/{id}", a.handleGetAsset()).Methods(http.MethodGet)
	v1.HandleFunc("/search", a.handleSearch()).Methods(http.MethodGet)
	v1.HandleFunc("/contracts/{address}/assets", a.handleByContract()).Methods(http.MethodGet)
	v1.HandleFunc("/exchanges/{id}/assets", a.handleByExchange()).Methods(http.MethodGet)
	v1.HandleFunc("/holders/{address}/assets", a.handleByHolder()).Methods(http.MethodGet)
	v1.HandleFunc("/conflicts", a.handleConflicts()).Methods(http.MethodGet)

	a.router.HandleFunc("/admin/save", a.handleSave()).Methods(http.MethodPost)

	a.router.HandleFunc("/health", a.handleHealth()).Methods(http.MethodGet)
	a.router.HandleFunc("/health/live", a.handleLive()).Methods(http.MethodGet)
	a.router.HandleFunc("/health/ready", a.handleReady()).Methods(http.MethodGet)
}

// Handler returns the router wrapped with CORS handling.
func (a *API) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
	})
	return c.Handler(a.router)
}

// writeJsonError writes a standardized JSON error
func writeJsonError(w http.ResponseWriter, statusCode int, errCode string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]ApiError{"error": {Code: errCode, Message: message}})
}

func writeJson(w http.ResponseWriter, statusCode int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (a *API) handleGetAsset() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		asset, ok := a.assetManager.GetAsset(r.Context(), id)
		if !ok {
			writeJsonError(w, http.StatusNotFound, ErrCodeNotFound, "asset "+id+" not found")
			return
		}
		writeJson(w, http.StatusOK, asset)
	}
}

func (a *API) handleListAssets() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		offset, err := queryInt(r, "offset")
		if err != nil || offset < 0 {
			writeJsonError(w, http.StatusBadRequest, ErrCodeInvalidInput, "offset must be a non-negative integer")
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil || limit < 0 {
			writeJsonError(w, http.StatusBadRequest, ErrCodeInvalidInput, "limit must be a non-negative integer")
			return
		}
		limit = manager.ClampLimit(limit)

		assets := a.assetManager.ListAssets(r.Context(), offset, limit)
		writeJson(w, http.StatusOK, map[string]interface{}{
			"assets": assets,
			"offset": offset,
			"limit":  limit,
			"total":  a.assetManager.Stats().AssetCount,
		})
	}
}

func (a *API) handleSearch() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		if q == "" {
			writeJsonError(w, http.StatusBadRequest, ErrCodeInvalidInput, "query parameter q is required")
			return
		}
		writeJson(w, http.StatusOK, map[string]interface{}{
			"query":  q,
			"assets": a.assetManager.SearchAssets(r.Context(), q),
		})
	}
}

func (a *API) handleByContract() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		writeJson(w, http.StatusOK, map[string]interface{}{
			"address": address,
			"assets":  a.assetManager.GetAssetsByContractAddress(r.Context(), address),
		})
	}
}

func (a *API) handleByExchange() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exchangeID := mux.Vars(r)["id"]
		writeJson(w, http.StatusOK, map[string]interface{}{
			"exchange_id": exchangeID,
			"assets":      a.assetManager.GetAssetsByExchange(r.Context(), exchangeID),
		})
	}
}

func (a *API) handleByHolder() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		address := mux.Vars(r)["address"]
		writeJson(w, http.StatusOK, map[string]interface{}{
			"address": address,
			"assets":  a.assetManager.GetAssetsByHolder(r.Context(), address),
		})
	}
}

func (a *API) handleConflicts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]interface{}{
			"conflicts": a.assetManager.Conflicts(r.Context()),
		})
	}
}

func (a *API) handleSave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.refresher == nil {
			writeJsonError(w, http.StatusServiceUnavailable, ErrCodePersistenceDisabled, "snapshot persistence is not configured")
			return
		}
		saved, err := a.refresher.Save(r.Context())
		switch {
		case errors.Is(err, refresh.ErrPersistenceDisabled):
			writeJsonError(w, http.StatusServiceUnavailable, ErrCodePersistenceDisabled, err.Error())
			return
		case err != nil:
			log.Error().Err(err).Msg("Manual snapshot save failed")
			writeJsonError(w, http.StatusInternalServerError, ErrCodeInternalError, "failed to save registry snapshot")
			return
		}
		log.Info().Int("assets", saved).Msg("Manual snapshot save complete")
		writeJson(w, http.StatusOK, map[string]interface{}{
			"status": "saved",
			"assets": saved,
		})
	}
}

// cycleView is the JSON form of the most recent cycle
type cycleView struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMs int64     `json:"duration_ms"`
	Assets     int       `json:"assets"`
	Degraded   bool      `json:"degraded"`
	Saved      bool      `json:"saved"`
}

func (a *API) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"status":    "ok",
			"stats":     a.assetManager.Stats(),
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		}
		if a.refresher != nil {
			response["state"] = a.refresher.State().String()
			if last := a.refresher.LastReport(); last != nil {
				response["last_cycle"] = cycleView{
					ID:         last.ID,
					StartedAt:  last.StartedAt,
					FinishedAt: last.FinishedAt,
					DurationMs: last.Duration().Milliseconds(),
					Assets:     last.Assets,
					Degraded:   last.Degraded(),
					Saved:      last.Saved,
				}
			}
		}
		writeJson(w, http.StatusOK, response)
	}
}

func (a *API) handleLive() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJson(w, http.StatusOK, map[string]string{"status": "alive"})
	}
}

func (a *API) handleReady() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := a.ready(ctx); err != nil {
				writeJsonError(w, http.StatusServiceUnavailable, "NOT_READY", err.Error())
				return
			}
		}
		writeJson(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
