package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
	"worker/internal/storage"
)

type stubLoader struct {
	graph comfy.Graph
	err   error
	calls int
}

func (s *stubLoader) Load(ctx context.Context, workflowType string, params map[string]any) (comfy.Graph, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.graph, nil
}

type stubExecutor struct {
	artifacts []comfy.OutputArtifact
	err       error
	calls     int
}

func (s *stubExecutor) Run(ctx context.Context, graph comfy.Graph) ([]comfy.OutputArtifact, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.artifacts, nil
}

type stubStore struct {
	failWrites bool
	uploaded   []string
}

func (s *stubStore) Upload(ctx context.Context, key string, data []byte, contentType string) (storage.StoredArtifact, error) {
	if s.failWrites {
		return storage.StoredArtifact{}, fmt.Errorf("%w: put %q", storage.ErrWriteFailed, key)
	}
	s.uploaded = append(s.uploaded, key)
	return storage.StoredArtifact{
		Key:       key,
		URL:       "https://store.example.com/" + key + "?sig=x",
		ExpiresAt: time.Now().Add(storage.PresignTTL),
	}, nil
}

func (s *stubStore) Exists(ctx context.Context, key string) (bool, error) { return false, nil }

func (s *stubStore) Download(ctx context.Context, key string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func newTestHandler(loader *stubLoader, executor *stubExecutor, store *stubStore) *Handler {
	return New(loader, executor, store, zerolog.New(io.Discard))
}

func TestHandleMissingWorkflowType(t *testing.T) {
	loader := &stubLoader{}
	executor := &stubExecutor{}
	h := newTestHandler(loader, executor, &stubStore{})

	result := h.Handle(context.Background(), Job{ID: "j1", Input: map[string]any{"prompt": "x"}})
	if result.Status != "error" {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if result.Error != "Missing required field: workflow_type" {
		t.Fatalf("error = %q", result.Error)
	}
	if loader.calls != 0 || executor.calls != 0 {
		t.Fatalf("engine must not be contacted for invalid input (loader=%d executor=%d)", loader.calls, executor.calls)
	}
}

func TestHandleInvalidWorkflowType(t *testing.T) {
	executor := &stubExecutor{}
	h := newTestHandler(&stubLoader{}, executor, &stubStore{})

	result := h.Handle(context.Background(), Job{ID: "j1", Input: map[string]any{"workflow_type": "video_gen"}})
	if result.Status != "error" || !strings.Contains(result.Error, "Invalid workflow_type") {
		t.Fatalf("result = %+v", result)
	}
	if executor.calls != 0 {
		t.Fatalf("submission attempted for invalid workflow type")
	}
}

func TestHandleMissingTypeSpecificFields(t *testing.T) {
	cases := []struct {
		name  string
		input map[string]any
		want  string
	}{
		{"image_gen without prompt", map[string]any{"workflow_type": "image_gen"}, "image_gen requires 'prompt' field"},
		{"face_swap without source", map[string]any{"workflow_type": "face_swap", "target_image": "https://x/b.png"}, "face_swap requires 'source_image' field"},
		{"face_swap without target", map[string]any{"workflow_type": "face_swap", "source_image": "https://x/a.jpg"}, "face_swap requires 'target_image' field"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			executor := &stubExecutor{}
			h := newTestHandler(&stubLoader{}, executor, &stubStore{})
			result := h.Handle(context.Background(), Job{ID: "j1", Input: tc.input})
			if result.Error != tc.want {
				t.Fatalf("error = %q, want %q", result.Error, tc.want)
			}
			if executor.calls != 0 {
				t.Fatalf("submission attempted for invalid input")
			}
		})
	}
}

func TestHandleSuccess(t *testing.T) {
	executor := &stubExecutor{artifacts: []comfy.OutputArtifact{
		{Data: []byte("a"), MIME: "image/png"},
		{Data: []byte("b"), MIME: "image/png"},
	}}
	store := &stubStore{}
	h := newTestHandler(&stubLoader{graph: comfy.Graph{}}, executor, store)

	result := h.Handle(context.Background(), Job{
		ID:    "job-42",
		Input: map[string]any{"workflow_type": "image_gen", "prompt": "a castle"},
	})
	if result.Status != "success" {
		t.Fatalf("result = %+v", result)
	}
	if result.WorkflowType != "image_gen" || result.JobID != "job-42" {
		t.Fatalf("echo fields = %q/%q", result.WorkflowType, result.JobID)
	}
	if len(result.OutputURLs) != 2 {
		t.Fatalf("urls = %v, want 2", result.OutputURLs)
	}
	wantKeys := []string{"outputs/job-42/image_gen_0.png", "outputs/job-42/image_gen_1.png"}
	for i, key := range wantKeys {
		if store.uploaded[i] != key {
			t.Fatalf("uploaded[%d] = %q, want %q", i, store.uploaded[i], key)
		}
	}
}

func TestHandleExecutionTimeout(t *testing.T) {
	executor := &stubExecutor{err: comfy.ErrExecutionTimeout}
	h := newTestHandler(&stubLoader{graph: comfy.Graph{}}, executor, &stubStore{})

	result := h.Handle(context.Background(), Job{
		ID:    "j1",
		Input: map[string]any{"workflow_type": "image_gen", "prompt": "x"},
	})
	if result.Error != "Workflow execution timed out" {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestHandleNodeError(t *testing.T) {
	executor := &stubExecutor{err: &comfy.NodeExecutionError{NodeID: "7", Message: "bad seed"}}
	h := newTestHandler(&stubLoader{graph: comfy.Graph{}}, executor, &stubStore{})

	result := h.Handle(context.Background(), Job{
		ID:    "j1",
		Input: map[string]any{"workflow_type": "image_gen", "prompt": "x"},
	})
	if result.Status != "error" || !strings.Contains(result.Error, "node 7") {
		t.Fatalf("result = %+v", result)
	}
}

func TestHandleEmptyOutputs(t *testing.T) {
	executor := &stubExecutor{artifacts: nil}
	h := newTestHandler(&stubLoader{graph: comfy.Graph{}}, executor, &stubStore{})

	result := h.Handle(context.Background(), Job{
		ID:    "j1",
		Input: map[string]any{"workflow_type": "image_gen", "prompt": "x"},
	})
	if result.Error != "Workflow produced no output images" {
		t.Fatalf("error = %q", result.Error)
	}
}

func TestHandleUploadFailureReturnsNoURLs(t *testing.T) {
	executor := &stubExecutor{artifacts: []comfy.OutputArtifact{{Data: []byte("a"), MIME: "image/png"}}}
	store := &stubStore{failWrites: true}
	h := newTestHandler(&stubLoader{graph: comfy.Graph{}}, executor, store)

	result := h.Handle(context.Background(), Job{
		ID:    "j1",
		Input: map[string]any{"workflow_type": "image_gen", "prompt": "x"},
	})
	if result.Status != "error" {
		t.Fatalf("status = %q, want error", result.Status)
	}
	if len(result.OutputURLs) != 0 {
		t.Fatalf("urls = %v, want none for failed write", result.OutputURLs)
	}
}
