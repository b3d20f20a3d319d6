package comfy

// Node is a single node descriptor inside a ComfyUI workflow graph.
type Node struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Graph is a fully parameterized workflow keyed by node identifier. It is
// built fresh per job and never mutated after submission.
type Graph map[string]Node

// ExecutionHandle correlates a submitted graph with its event stream.
// ClientID is generated once per client instance; PromptID is assigned by
// the engine at submission and keys all subsequent events and history
// lookups.
type ExecutionHandle struct {
	PromptID string
	ClientID string
}

// OutputArtifact is one output image produced by a completed workflow.
type OutputArtifact struct {
	Data []byte
	MIME string
}
