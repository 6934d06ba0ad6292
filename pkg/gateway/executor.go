package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPExecutor forwards authorized tool invocations to the connection URL of
// the tool. The resolved credential is attached as a bearer token on the
// outbound call and exists only for the lifetime of the request.
type HTTPExecutor struct {
	client *http.Client
}

// NewHTTPExecutor creates an HTTPExecutor.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPExecutor{client: client}
}

// Execute posts the tool arguments to the connection URL.
func (e *HTTPExecutor) Execute(ctx context.Context, tool *Tool, arguments json.RawMessage, credential string) (json.RawMessage, error) {
	if tool.Connection == nil || tool.Connection.URL == "" {
		return nil, fmt.Errorf("tool %q has no connection URL", tool.Name)
	}

	if len(arguments) == 0 {
		arguments = json.RawMessage("{}")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.Connection.URL, bytes.NewReader(arguments))
	if err != nil {
		return nil, fmt.Errorf("failed to build downstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if credential != "" {
		req.Header.Set("Authorization", "Bearer "+credential)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downstream call failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read downstream response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("downstream returned status %d", resp.StatusCode)
	}
	return body, nil
}
