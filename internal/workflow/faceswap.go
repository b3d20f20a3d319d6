package workflow

import (
	"context"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
)

// Template slots for the face swap workflow.
const (
	nodeSourceImage = "1"
	nodeTargetImage = "2"
	nodeReActor     = "10"
)

type faceSwap struct {
	stagingDir string
	httpClient *http.Client
	logger     zerolog.Logger
}

func (f *faceSwap) templateFile() string { return "face_swap.json" }

func (f *faceSwap) requiredFields() []string { return []string{"source_image", "target_image"} }

func (f *faceSwap) apply(ctx context.Context, graph comfy.Graph, params map[string]any) error {
	sourceURL := stringParam(params, "source_image")
	targetURL := stringParam(params, "target_image")
	faceIndex := intParam(params, "face_index", 0)
	restoreFace := boolParam(params, "restore_face", true)

	if err := os.MkdirAll(f.stagingDir, 0o755); err != nil {
		return fmt.Errorf("workflow: ensure staging dir: %w", err)
	}

	sourceName, err := f.stageImage(ctx, sourceURL, "source_face")
	if err != nil {
		return err
	}
	targetName, err := f.stageImage(ctx, targetURL, "target_image")
	if err != nil {
		return err
	}

	setInput(graph, nodeSourceImage, "image", sourceName)
	setInput(graph, nodeTargetImage, "image", targetName)
	setInput(graph, nodeReActor, "input_faces_index", strconv.Itoa(faceIndex))
	setInput(graph, nodeReActor, "console_log_level", 1)
	if !restoreFace {
		setInput(graph, nodeReActor, "face_restore_model", "none")
	}

	f.logger.Info().
		Int("face_index", faceIndex).
		Bool("restore_face", restoreFace).
		Msg("workflow: injected face_swap params")
	return nil
}

// stageImage fetches a reference image and writes it into the engine's
// input directory, returning the staged basename. The fetch has its own
// timeout independent of the overall execution deadline.
func (f *faceSwap) stageImage(ctx context.Context, imageURL, role string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("workflow: build fetch request for %s: %w", role, err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("workflow: fetch %s image: %w", role, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("workflow: fetch %s image: status %d", role, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("workflow: read %s image: %w", role, err)
	}

	ext := "png"
	if strings.Contains(resp.Header.Get("Content-Type"), "jpeg") {
		ext = "jpg"
	}

	hasher := fnv.New32a()
	hasher.Write([]byte(imageURL))
	name := fmt.Sprintf("%s_%08x.%s", role, hasher.Sum32(), ext)

	path := filepath.Join(f.stagingDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("workflow: stage %s image: %w", role, err)
	}

	f.logger.Info().
		Str("role", role).
		Str("file", name).
		Int("bytes", len(data)).
		Msg("workflow: staged reference image")
	return name, nil
}
