// Package httpapi exposes the worker's job surface to the host platform.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"worker/internal/handler"
	"worker/internal/middleware"
)

// JobHandler processes one job synchronously.
type JobHandler interface {
	Handle(ctx context.Context, job handler.Job) handler.Result
}

// API holds the job surface's dependencies.
type API struct {
	jobs   JobHandler
	logger zerolog.Logger
}

// NewAPI constructs the API container.
func NewAPI(jobs JobHandler, logger zerolog.Logger) *API {
	return &API{jobs: jobs, logger: logger}
}

// NewRouter builds the chi router for the worker.
func NewRouter(api *API, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(logger),
	)

	r.Get("/healthz", api.health)
	r.Post("/run", api.run)

	return r
}

func (a *API) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

// run decodes a job envelope and handles it synchronously. Job failures
// are payload, not transport: the response is 200 with an error envelope,
// matching the serverless host contract.
func (a *API) run(w http.ResponseWriter, r *http.Request) {
	var job handler.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		a.json(w, http.StatusBadRequest, handler.Result{Status: "error", Error: "invalid request body"})
		return
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	result := a.jobs.Handle(r.Context(), job)
	a.json(w, http.StatusOK, result)
}
