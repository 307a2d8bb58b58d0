package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/avi3tal/graphengine/pkg/types"
)

// RemoteHandler calls an external service over HTTP. The merged inputs are
// POSTed as a JSON object and the JSON object in the response becomes the
// node output. Network errors and 5xx or 429 responses are transient failures;
// other non-2xx responses are fatal.
type RemoteHandler struct {
	name     string
	endpoint string
	client   *http.Client
	metadata map[string]any
}

func NewRemoteHandler(name, endpoint string, client *http.Client, meta map[string]any) *RemoteHandler {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteHandler{name: name, endpoint: endpoint, client: client, metadata: meta}
}

func (rh *RemoteHandler) Name() string {
	return rh.name
}

type remoteRequest struct {
	RunID  string         `json:"run_id"`
	NodeID string         `json:"node_id"`
	Inputs map[string]any `json:"inputs"`
}

type remoteResponse struct {
	Outputs map[string]any `json:"outputs"`
	Ports   []int          `json:"ports,omitempty"`
}

func (rh *RemoteHandler) Execute(ctx context.Context, ec *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	req := remoteRequest{Inputs: in.All()}
	if ec != nil {
		req.RunID = ec.RunID
		req.NodeID = ec.NodeID
	}
	body, err := json.Marshal(req)
	if err != nil {
		return types.FatalFailure(fmt.Errorf("failed to encode request for %s: %w", rh.name, err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rh.endpoint, bytes.NewReader(body))
	if err != nil {
		return types.FatalFailure(fmt.Errorf("failed to build request for %s: %w", rh.name, err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := rh.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return types.FatalFailure(fmt.Errorf("remote handler %s: %w", rh.name, err))
		}
		return types.TransientFailure(fmt.Errorf("remote handler %s: %w", rh.name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("remote handler %s: status %d: %s", rh.name, resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return types.TransientFailure(err)
		}
		return types.FatalFailure(err)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return types.FatalFailure(fmt.Errorf("failed to decode response of %s: %w", rh.name, err))
	}
	if out.Outputs == nil {
		out.Outputs = make(map[string]any)
	}
	return types.SuccessOnPorts(out.Outputs, out.Ports...)
}

func (rh *RemoteHandler) Metadata() map[string]any {
	return rh.metadata
}
