package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
)

func writeTemplate(t *testing.T, dir, name string, graph comfy.Graph) {
	t.Helper()
	raw, err := json.Marshal(graph)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
}

func imageGenTemplate() comfy.Graph {
	return comfy.Graph{
		"1": {ClassType: "CheckpointLoaderSimple", Inputs: map[string]any{"ckpt_name": "flux1-dev.safetensors"}},
		"3": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "", "clip": []any{"1", 1}}},
		"4": {ClassType: "CLIPTextEncode", Inputs: map[string]any{"text": "", "clip": []any{"1", 1}}},
		"5": {ClassType: "EmptyLatentImage", Inputs: map[string]any{"width": 512, "height": 512, "batch_size": 1}},
		"6": {ClassType: "KSampler", Inputs: map[string]any{"seed": 0, "steps": 20, "cfg": 8.0}},
		"9": {ClassType: "SaveImage", Inputs: map[string]any{"filename_prefix": "output"}},
	}
}

func newTestLoader(t *testing.T) (*Loader, string) {
	t.Helper()
	dir := t.TempDir()
	loader := NewLoader(Options{
		Dir:        dir,
		StagingDir: t.TempDir(),
		Logger:     zerolog.New(io.Discard),
	})
	return loader, dir
}

func TestLoadUnknownWorkflowType(t *testing.T) {
	loader, _ := newTestLoader(t)
	_, err := loader.Load(context.Background(), "video_gen", map[string]any{})
	if !errors.Is(err, ErrUnknownWorkflowType) {
		t.Fatalf("err = %v, want ErrUnknownWorkflowType", err)
	}
}

func TestLoadTemplateNotFound(t *testing.T) {
	loader, _ := newTestLoader(t)
	_, err := loader.Load(context.Background(), "image_gen", map[string]any{"prompt": "a house"})
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("err = %v, want ErrTemplateNotFound", err)
	}
}

func TestLoadMissingRequiredParameter(t *testing.T) {
	loader, dir := newTestLoader(t)
	writeTemplate(t, dir, "flux_image_gen.json", imageGenTemplate())

	_, err := loader.Load(context.Background(), "image_gen", map[string]any{})
	var missing *MissingParameterError
	if !errors.As(err, &missing) {
		t.Fatalf("err = %v, want MissingParameterError", err)
	}
	if missing.Field != "prompt" {
		t.Fatalf("field = %q, want prompt", missing.Field)
	}
}

func TestImageGenDefaults(t *testing.T) {
	loader, dir := newTestLoader(t)
	writeTemplate(t, dir, "flux_image_gen.json", imageGenTemplate())

	graph, err := loader.Load(context.Background(), "image_gen", map[string]any{
		"prompt": "modern kitchen with marble countertops",
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := graph["3"].Inputs["text"]; got != "modern kitchen with marble countertops" {
		t.Fatalf("positive prompt = %v", got)
	}
	if got := graph["4"].Inputs["text"]; got != defaultNegativePrompt {
		t.Fatalf("negative prompt = %v, want default", got)
	}
	if got := graph["5"].Inputs["width"]; got != 1280 {
		t.Fatalf("width = %v, want 1280", got)
	}
	if got := graph["5"].Inputs["height"]; got != 720 {
		t.Fatalf("height = %v, want 720", got)
	}
	if got := graph["5"].Inputs["batch_size"]; got != 1 {
		t.Fatalf("batch_size = %v, want 1", got)
	}
	if got := graph["6"].Inputs["steps"]; got != 25 {
		t.Fatalf("steps = %v, want 25", got)
	}
	if got := graph["6"].Inputs["cfg"]; got != 7.5 {
		t.Fatalf("cfg = %v, want 7.5", got)
	}
	seed, ok := graph["6"].Inputs["seed"].(int)
	if !ok {
		t.Fatalf("seed = %v (%T), want int", graph["6"].Inputs["seed"], graph["6"].Inputs["seed"])
	}
	if seed < 0 || int64(seed) > int64(^uint32(0)) {
		t.Fatalf("seed = %d, want value in [0, 2^32)", seed)
	}
}

func TestImageGenOverrides(t *testing.T) {
	loader, dir := newTestLoader(t)
	writeTemplate(t, dir, "flux_image_gen.json", imageGenTemplate())

	// float64 values mimic a decoded JSON request body.
	graph, err := loader.Load(context.Background(), "image_gen", map[string]any{
		"prompt":          "a lighthouse",
		"negative_prompt": "cartoon",
		"width":           float64(1024),
		"height":          float64(1024),
		"steps":           float64(20),
		"seed":            float64(12345),
		"cfg_scale":       float64(5.0),
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if got := graph["4"].Inputs["text"]; got != "cartoon" {
		t.Fatalf("negative prompt = %v", got)
	}
	if got := graph["5"].Inputs["width"]; got != 1024 {
		t.Fatalf("width = %v, want 1024", got)
	}
	if got := graph["6"].Inputs["seed"]; got != 12345 {
		t.Fatalf("seed = %v, want 12345", got)
	}
	if got := graph["6"].Inputs["steps"]; got != 20 {
		t.Fatalf("steps = %v, want 20", got)
	}
	if got := graph["6"].Inputs["cfg"]; got != 5.0 {
		t.Fatalf("cfg = %v, want 5.0", got)
	}
}

func TestImageGenLenientMerge(t *testing.T) {
	loader, dir := newTestLoader(t)
	template := imageGenTemplate()
	delete(template, "4")
	delete(template, "5")
	writeTemplate(t, dir, "flux_image_gen.json", template)

	graph, err := loader.Load(context.Background(), "image_gen", map[string]any{"prompt": "a barn"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := graph["4"]; ok {
		t.Fatalf("absent template node must stay absent")
	}
	if got := graph["3"].Inputs["text"]; got != "a barn" {
		t.Fatalf("positive prompt = %v", got)
	}
}

func TestTypesCoversRegistry(t *testing.T) {
	loader, _ := newTestLoader(t)
	types := loader.Types()
	if len(types) != 2 {
		t.Fatalf("types = %v, want image_gen and face_swap", types)
	}
	seen := map[string]bool{}
	for _, tag := range types {
		seen[tag] = true
	}
	if !seen["image_gen"] || !seen["face_swap"] {
		t.Fatalf("types = %v, want image_gen and face_swap", types)
	}
}
