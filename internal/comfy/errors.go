package comfy

import (
	"errors"
	"fmt"
)

// ErrExecutionTimeout indicates that the hard execution deadline elapsed
// without a terminal event for the submitted prompt.
var ErrExecutionTimeout = errors.New("comfy: execution timed out")

// SubmissionError is returned when the engine rejects a queued graph.
type SubmissionError struct {
	Status int
	Body   string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("comfy: queue prompt rejected with status %d: %s", e.Status, e.Body)
}

// NodeExecutionError carries the failing node and message from an
// execution_error event. Node-level failures reflect bad parameters or
// broken model assets, so they are reported rather than retried.
type NodeExecutionError struct {
	NodeID  string
	Message string
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("comfy: execution error in node %s: %s", e.NodeID, e.Message)
}
