package comfy

import (
	"encoding/json"
	"fmt"
)

// Event is one structured message from the engine's WebSocket stream.
// Exactly one of the concrete types below is produced per frame; binary
// preview frames never reach the parser.
type Event interface {
	promptID() string
}

// Executing reports the node currently being evaluated. A nil Node for a
// known prompt id is the engine's canonical "graph finished" signal.
type Executing struct {
	PromptID string
	Node     *string
}

func (e *Executing) promptID() string { return e.PromptID }

// Progress reports sampler progress. It is informational only and never a
// completion signal, even at Value == Max: graphs may end with nodes that
// report no progress at all.
type Progress struct {
	PromptID string
	Value    int
	Max      int
}

func (e *Progress) promptID() string { return e.PromptID }

// ExecutionError reports a node-level failure for a prompt.
type ExecutionError struct {
	PromptID string
	NodeID   string
	Message  string
}

func (e *ExecutionError) promptID() string { return e.PromptID }

type wireEvent struct {
	Type string `json:"type"`
	Data struct {
		PromptID string  `json:"prompt_id"`
		Node     *string `json:"node"`
		Value    int     `json:"value"`
		Max      int     `json:"max"`
		NodeID   string  `json:"node_id"`
		Message  string  `json:"exception_message"`
	} `json:"data"`
}

// parseEvent decodes one text frame into its tagged event type. Frames the
// engine emits that this worker has no use for (status, executed, cached)
// come back as an error so the caller can log and skip them.
func parseEvent(raw []byte) (Event, error) {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("comfy: malformed event: %w", err)
	}
	switch wire.Type {
	case "executing":
		return &Executing{PromptID: wire.Data.PromptID, Node: wire.Data.Node}, nil
	case "progress":
		return &Progress{PromptID: wire.Data.PromptID, Value: wire.Data.Value, Max: wire.Data.Max}, nil
	case "execution_error":
		node := wire.Data.NodeID
		if node == "" {
			node = "unknown"
		}
		msg := wire.Data.Message
		if msg == "" {
			msg = "Unknown error"
		}
		return &ExecutionError{PromptID: wire.Data.PromptID, NodeID: node, Message: msg}, nil
	default:
		return nil, fmt.Errorf("comfy: unrecognized event type %q", wire.Type)
	}
}
