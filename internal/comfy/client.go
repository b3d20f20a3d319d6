package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	defaultExecutionTimeout = 5 * time.Minute
	defaultPollInterval     = 2 * time.Second
)

// Options configures the ComfyUI execution client.
type Options struct {
	BaseURL          string
	HTTPClient       *http.Client
	Dialer           *websocket.Dialer
	Logger           zerolog.Logger
	ExecutionTimeout time.Duration
	PollInterval     time.Duration
}

// Client drives workflow graphs through ComfyUI's HTTP + WebSocket API:
// readiness probing, prompt queueing, event-stream tracking, and output
// retrieval. The client id is generated once per instance and scopes the
// event stream for every job this client runs.
type Client struct {
	baseURL      string
	wsURL        string
	clientID     string
	httpClient   *http.Client
	dialer       *websocket.Dialer
	logger       zerolog.Logger
	execTimeout  time.Duration
	pollInterval time.Duration
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("comfy: base url is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("comfy: invalid base url %q", opts.BaseURL)
	}
	wsScheme := "ws"
	if parsed.Scheme == "https" {
		wsScheme = "wss"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	execTimeout := opts.ExecutionTimeout
	if execTimeout <= 0 {
		execTimeout = defaultExecutionTimeout
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Client{
		baseURL:      baseURL,
		wsURL:        fmt.Sprintf("%s://%s%s/ws", wsScheme, parsed.Host, parsed.Path),
		clientID:     uuid.NewString(),
		httpClient:   httpClient,
		dialer:       dialer,
		logger:       opts.Logger,
		execTimeout:  execTimeout,
		pollInterval: pollInterval,
	}, nil
}

// ClientID returns the process-lifetime stream identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// WaitUntilReady polls the engine's system stats endpoint until it answers
// or the timeout elapses. A false return is a startup gate the caller may
// treat as fatal; it is deliberately not an error.
func (c *Client) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if c.probe(ctx) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func (c *Client) probe(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/system_stats", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

type queueRequest struct {
	Prompt   Graph  `json:"prompt"`
	ClientID string `json:"client_id"`
}

type queueResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit queues a graph for execution and returns the handle correlating
// it with the event stream.
func (c *Client) Submit(ctx context.Context, graph Graph) (ExecutionHandle, error) {
	body, err := json.Marshal(queueRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return ExecutionHandle{}, fmt.Errorf("comfy: encode prompt: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return ExecutionHandle{}, fmt.Errorf("comfy: build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ExecutionHandle{}, fmt.Errorf("comfy: queue prompt: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return ExecutionHandle{}, fmt.Errorf("comfy: read queue response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return ExecutionHandle{}, &SubmissionError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var decoded queueResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return ExecutionHandle{}, fmt.Errorf("comfy: decode queue response: %w", err)
	}
	if decoded.PromptID == "" {
		return ExecutionHandle{}, errors.New("comfy: queue response missing prompt_id")
	}
	return ExecutionHandle{PromptID: decoded.PromptID, ClientID: c.clientID}, nil
}

// Run submits a graph and blocks until it completes, fails, or exceeds the
// execution deadline. The deadline is measured from stream open, and the
// stream is closed on every exit path. Partial progress never surfaces as
// partial output: failures return a typed error and no artifacts.
func (c *Client) Run(ctx context.Context, graph Graph) ([]OutputArtifact, error) {
	handle, err := c.Submit(ctx, graph)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("prompt_id", handle.PromptID).Msg("comfy: queued prompt")

	streamURL := c.wsURL + "?clientId=" + url.QueryEscape(c.clientID)
	conn, resp, err := c.dialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("comfy: connect event stream: %w", err)
	}
	defer conn.Close()

	if err := c.waitForCompletion(conn, handle.PromptID); err != nil {
		return nil, err
	}
	return c.fetchOutputs(ctx, handle.PromptID)
}

// waitForCompletion consumes the event stream until a terminal event for
// promptID arrives. Events carrying a foreign prompt id are dropped: the
// stream is shared across the client's lifetime, so demultiplexing by
// correlation key is mandatory even though jobs never overlap here.
func (c *Client) waitForCompletion(conn *websocket.Conn, promptID string) error {
	if err := conn.SetReadDeadline(time.Now().Add(c.execTimeout)); err != nil {
		return fmt.Errorf("comfy: set stream deadline: %w", err)
	}

	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return ErrExecutionTimeout
			}
			return fmt.Errorf("comfy: event stream: %w", err)
		}
		if msgType == websocket.BinaryMessage {
			// Preview frame, carries nothing this worker needs.
			continue
		}

		event, err := parseEvent(raw)
		if err != nil {
			c.logger.Debug().Err(err).Msg("comfy: skipping event")
			continue
		}
		if event.promptID() != promptID {
			continue
		}

		switch e := event.(type) {
		case *Executing:
			if e.Node == nil {
				c.logger.Info().Str("prompt_id", promptID).Msg("comfy: prompt execution complete")
				return nil
			}
		case *ExecutionError:
			return &NodeExecutionError{NodeID: e.NodeID, Message: e.Message}
		case *Progress:
			if e.Max > 0 {
				c.logger.Debug().Int("value", e.Value).Int("max", e.Max).Msg("comfy: progress")
			}
		}
	}
}

type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Outputs map[string]struct {
		Images []historyImage `json:"images"`
	} `json:"outputs"`
}

// fetchOutputs walks the history record for a completed prompt and
// retrieves every referenced image. Node ids are visited in sorted order
// so local behavior is deterministic, but the engine documents no stable
// ordering; consumers may rely on aggregate completeness only.
func (c *Client) fetchOutputs(ctx context.Context, promptID string) ([]OutputArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/history/"+url.PathEscape(promptID), nil)
	if err != nil {
		return nil, fmt.Errorf("comfy: build history request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: fetch history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("comfy: history status %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("comfy: decode history: %w", err)
	}

	outputs := history[promptID].Outputs
	nodeIDs := make([]string, 0, len(outputs))
	for nodeID := range outputs {
		nodeIDs = append(nodeIDs, nodeID)
	}
	sort.Slice(nodeIDs, func(i, j int) bool { return lessNodeID(nodeIDs[i], nodeIDs[j]) })

	var artifacts []OutputArtifact
	for _, nodeID := range nodeIDs {
		for _, img := range outputs[nodeID].Images {
			artifact, err := c.retrieveImage(ctx, img)
			if err != nil {
				return nil, err
			}
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

func (c *Client) retrieveImage(ctx context.Context, img historyImage) (OutputArtifact, error) {
	imgType := img.Type
	if imgType == "" {
		imgType = "output"
	}
	query := url.Values{
		"filename":  {img.Filename},
		"subfolder": {img.Subfolder},
		"type":      {imgType},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return OutputArtifact{}, fmt.Errorf("comfy: build view request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return OutputArtifact{}, fmt.Errorf("comfy: retrieve %s: %w", img.Filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return OutputArtifact{}, fmt.Errorf("comfy: retrieve %s: status %d", img.Filename, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return OutputArtifact{}, fmt.Errorf("comfy: read %s: %w", img.Filename, err)
	}
	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "image/png"
	}
	return OutputArtifact{Data: data, MIME: mimeType}, nil
}

// lessNodeID orders numeric node ids numerically and everything else
// lexically, matching how the engine names nodes in practice.
func lessNodeID(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}
