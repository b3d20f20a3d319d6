package workflow

import (
	"context"
	"math/rand"

	"github.com/rs/zerolog"

	"worker/internal/comfy"
)

// Default generation parameters. Steps defaults to 25; callers wanting the
// quicker smoke-test profile pass steps explicitly.
const (
	defaultNegativePrompt = "blurry, low quality, watermark, text"
	defaultWidth          = 1280
	defaultHeight         = 720
	defaultSteps          = 25
	defaultCFGScale       = 7.5
)

// Template slots for the FLUX image generation workflow.
const (
	nodePositivePrompt = "3"
	nodeNegativePrompt = "4"
	nodeLatentSize     = "5"
	nodeSampler        = "6"
)

type imageGen struct {
	logger zerolog.Logger
}

func (g *imageGen) templateFile() string { return "flux_image_gen.json" }

func (g *imageGen) requiredFields() []string { return []string{"prompt"} }

func (g *imageGen) apply(ctx context.Context, graph comfy.Graph, params map[string]any) error {
	prompt := stringParam(params, "prompt")
	negative := stringParam(params, "negative_prompt")
	if negative == "" {
		negative = defaultNegativePrompt
	}
	width := intParam(params, "width", defaultWidth)
	height := intParam(params, "height", defaultHeight)
	steps := intParam(params, "steps", defaultSteps)
	cfgScale := floatParam(params, "cfg_scale", defaultCFGScale)

	var seed uint32
	if _, ok := params["seed"]; ok {
		seed = uint32(intParam(params, "seed", 0))
	} else {
		seed = rand.Uint32()
	}

	setInput(graph, nodePositivePrompt, "text", prompt)
	setInput(graph, nodeNegativePrompt, "text", negative)
	setInput(graph, nodeLatentSize, "width", width)
	setInput(graph, nodeLatentSize, "height", height)
	setInput(graph, nodeLatentSize, "batch_size", 1)
	setInput(graph, nodeSampler, "seed", int(seed))
	setInput(graph, nodeSampler, "steps", steps)
	setInput(graph, nodeSampler, "cfg", cfgScale)

	g.logger.Info().
		Int("width", width).
		Int("height", height).
		Int("steps", steps).
		Uint32("seed", seed).
		Msg("workflow: injected image_gen params")
	return nil
}
