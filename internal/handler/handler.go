// Package handler orchestrates one job end to end: validate the request,
// parameterize the workflow, drive it through the render engine, and
// publish the outputs.
package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
	"worker/internal/storage"
)

// Job is the envelope the host platform delivers.
type Job struct {
	ID    string         `json:"id"`
	Input map[string]any `json:"input"`
}

// Result is the user-facing outcome envelope. Failures are payload, not
// transport: every failure path yields a populated Error, and no failure
// crashes the worker.
type Result struct {
	Status       string   `json:"status"`
	OutputURLs   []string `json:"output_urls,omitempty"`
	WorkflowType string   `json:"workflow_type,omitempty"`
	JobID        string   `json:"job_id,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// GraphLoader parameterizes a workflow template for one request.
type GraphLoader interface {
	Load(ctx context.Context, workflowType string, params map[string]any) (comfy.Graph, error)
}

// Executor drives a graph through the render engine to completion.
type Executor interface {
	Run(ctx context.Context, graph comfy.Graph) ([]comfy.OutputArtifact, error)
}

// Handler sequences loader, executor, and store for one job at a time.
type Handler struct {
	loader   GraphLoader
	executor Executor
	store    storage.Store
	logger   zerolog.Logger
}

// New constructs a Handler.
func New(loader GraphLoader, executor Executor, store storage.Store, logger zerolog.Logger) *Handler {
	return &Handler{loader: loader, executor: executor, store: store, logger: logger}
}

var workflowTypes = map[string]bool{
	"image_gen": true,
	"face_swap": true,
}

// validate checks request shape before any side effect. An empty return
// means the input is acceptable.
func validate(input map[string]any) string {
	workflowType, _ := input["workflow_type"].(string)
	if workflowType == "" {
		return "Missing required field: workflow_type"
	}
	if !workflowTypes[workflowType] {
		return fmt.Sprintf("Invalid workflow_type %q. Must be one of: image_gen, face_swap", workflowType)
	}
	switch workflowType {
	case "image_gen":
		if s, _ := input["prompt"].(string); s == "" {
			return "image_gen requires 'prompt' field"
		}
	case "face_swap":
		if s, _ := input["source_image"].(string); s == "" {
			return "face_swap requires 'source_image' field"
		}
		if s, _ := input["target_image"].(string); s == "" {
			return "face_swap requires 'target_image' field"
		}
	}
	return ""
}

// Handle processes one job synchronously and returns its envelope.
func (h *Handler) Handle(ctx context.Context, job Job) Result {
	workflowType, _ := job.Input["workflow_type"].(string)
	logger := h.logger.With().Str("job_id", job.ID).Str("workflow_type", workflowType).Logger()
	logger.Info().Msg("handler: processing job")

	if msg := validate(job.Input); msg != "" {
		logger.Warn().Str("reason", msg).Msg("handler: rejected job input")
		return Result{Status: "error", Error: msg, JobID: job.ID}
	}

	graph, err := h.loader.Load(ctx, workflowType, job.Input)
	if err != nil {
		logger.Error().Err(err).Msg("handler: workflow parameterization failed")
		return Result{Status: "error", Error: err.Error(), JobID: job.ID}
	}

	artifacts, err := h.executor.Run(ctx, graph)
	if err != nil {
		if errors.Is(err, comfy.ErrExecutionTimeout) {
			logger.Error().Msg("handler: job timed out during execution")
			return Result{Status: "error", Error: "Workflow execution timed out", JobID: job.ID}
		}
		logger.Error().Err(err).Msg("handler: job failed")
		return Result{Status: "error", Error: err.Error(), JobID: job.ID}
	}

	if len(artifacts) == 0 {
		// Completed but produced nothing: a caller-visible failure, not a
		// system fault.
		logger.Warn().Msg("handler: workflow produced no output images")
		return Result{Status: "error", Error: "Workflow produced no output images", JobID: job.ID}
	}

	urls := make([]string, 0, len(artifacts))
	for i, artifact := range artifacts {
		key := fmt.Sprintf("outputs/%s/%s_%d.png", job.ID, workflowType, i)
		stored, err := h.store.Upload(ctx, key, artifact.Data, artifact.MIME)
		if err != nil {
			logger.Error().Err(err).Str("key", key).Msg("handler: artifact upload failed")
			return Result{Status: "error", Error: err.Error(), JobID: job.ID}
		}
		logger.Info().Int("index", i).Str("key", stored.Key).Msg("handler: uploaded result")
		urls = append(urls, stored.URL)
	}

	return Result{
		Status:       "success",
		OutputURLs:   urls,
		WorkflowType: workflowType,
		JobID:        job.ID,
	}
}
