package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aof-dev/aof/pkg/models"
)

// HTTPTool issues an HTTP request and returns status, headers, and a bounded
// body.
type HTTPTool struct {
	Client *http.Client
}

func (t *HTTPTool) Name() string { return "http_request" }

func (t *HTTPTool) Description() string {
	return "Issue an HTTP request and return the status and response body."
}

func (t *HTTPTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"method": {"type": "string", "description": "HTTP method; defaults to GET."},
			"url": {"type": "string", "description": "Request URL."},
			"headers": {"type": "object", "description": "Request headers."},
			"body": {"type": "string", "description": "Request body."}
		},
		"required": ["url"]
	}`)
}

func (t *HTTPTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Method  string            `json:"method"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Body    string            `json:"body"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return models.ErrorResult(fmt.Sprintf("invalid parameters: %v", err), 0), nil
	}
	if input.URL == "" {
		return models.ErrorResult("url is required", 0), nil
	}
	method := strings.ToUpper(input.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if input.Body != "" {
		body = strings.NewReader(input.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, input.URL, body)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("build request: %v", err), 0), nil
	}
	for key, value := range input.Headers {
		req.Header.Set(key, value)
	}

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("request failed: %v", err), time.Since(start)), nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	elapsed := time.Since(start)
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("read response: %v", err), elapsed), nil
	}

	data, err := json.Marshal(map[string]any{
		"status":      resp.StatusCode,
		"headers":     flattenHeaders(resp.Header),
		"body":        string(raw),
		"content_type": resp.Header.Get("Content-Type"),
	})
	if err != nil {
		return models.ErrorResult(fmt.Sprintf("encode response: %v", err), elapsed), nil
	}
	return &models.ToolResult{
		Success:         resp.StatusCode < 400,
		Data:            data,
		ExecutionTimeMS: elapsed.Milliseconds(),
	}, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for key := range h {
		out[key] = h.Get(key)
	}
	return out
}
