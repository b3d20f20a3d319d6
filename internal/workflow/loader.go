// Package workflow loads ComfyUI workflow templates and injects runtime
// parameters (prompts, dimensions, seeds, reference images) into their
// well-known node slots.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
)

// ErrUnknownWorkflowType indicates a workflow type with no registered
// parameterizer.
var ErrUnknownWorkflowType = errors.New("workflow: unknown workflow type")

// ErrTemplateNotFound indicates a registered type whose template file is
// missing on disk.
var ErrTemplateNotFound = errors.New("workflow: template not found")

// MissingParameterError reports a required field absent from the request.
type MissingParameterError struct {
	Field string
}

func (e *MissingParameterError) Error() string {
	return fmt.Sprintf("workflow: missing required parameter %q", e.Field)
}

// parameterizer is one workflow type's injection strategy. Slots absent
// from the template are silently skipped: templates may omit optional
// stages, and the lenient merge is deliberate.
type parameterizer interface {
	templateFile() string
	requiredFields() []string
	apply(ctx context.Context, graph comfy.Graph, params map[string]any) error
}

// Options configures a Loader.
type Options struct {
	// Dir holds the workflow template JSON files.
	Dir string
	// StagingDir is where fetched reference images are written; it should
	// be the engine's input directory.
	StagingDir string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Loader resolves workflow types to templates and parameterizes them.
// New workflow types register a strategy here without touching shared
// dispatch.
type Loader struct {
	dir      string
	logger   zerolog.Logger
	registry map[string]parameterizer
}

// NewLoader constructs a loader with the built-in workflow types.
func NewLoader(opts Options) *Loader {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Loader{
		dir:    opts.Dir,
		logger: opts.Logger,
		registry: map[string]parameterizer{
			"image_gen": &imageGen{logger: opts.Logger},
			"face_swap": &faceSwap{
				stagingDir: opts.StagingDir,
				httpClient: httpClient,
				logger:     opts.Logger,
			},
		},
	}
}

// Types returns the registered workflow type tags.
func (l *Loader) Types() []string {
	types := make([]string, 0, len(l.registry))
	for tag := range l.registry {
		types = append(types, tag)
	}
	return types
}

// Load reads the template for workflowType and injects params into it,
// returning a graph ready for submission.
func (l *Loader) Load(ctx context.Context, workflowType string, params map[string]any) (comfy.Graph, error) {
	strategy, ok := l.registry[workflowType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkflowType, workflowType)
	}

	for _, field := range strategy.requiredFields() {
		if stringParam(params, field) == "" {
			return nil, &MissingParameterError{Field: field}
		}
	}

	path := filepath.Join(l.dir, strategy.templateFile())
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, path)
		}
		return nil, fmt.Errorf("workflow: read template: %w", err)
	}

	var graph comfy.Graph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return nil, fmt.Errorf("workflow: parse template %s: %w", path, err)
	}

	if err := strategy.apply(ctx, graph, params); err != nil {
		return nil, err
	}
	return graph, nil
}

// setInput overwrites one input field on a node, skipping absent nodes.
func setInput(graph comfy.Graph, nodeID, field string, value any) {
	node, ok := graph[nodeID]
	if !ok {
		return
	}
	if node.Inputs == nil {
		node.Inputs = map[string]any{}
	}
	node.Inputs[field] = value
	graph[nodeID] = node
}

func stringParam(params map[string]any, key string) string {
	if v, ok := params[key].(string); ok {
		return v
	}
	return ""
}

// intParam tolerates both JSON numbers and Go ints so callers can pass
// decoded request maps or hand-built ones.
func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return fallback
	}
}

func floatParam(params map[string]any, key string, fallback float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return fallback
	}
}

func boolParam(params map[string]any, key string, fallback bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return fallback
}
