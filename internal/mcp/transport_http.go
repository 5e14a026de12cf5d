package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aof-dev/aof/internal/resources"
)

// HTTPTransport speaks JSON-RPC over HTTP request/response, with an SSE
// listener on the /sse endpoint for server notifications.
type HTTPTransport struct {
	name   string
	config *resources.MCPServerConfig
	logger *slog.Logger
	client *http.Client

	events    chan *JSONRPCNotification
	connected atomic.Bool
	stopChan  chan struct{}
	cancelSSE context.CancelFunc
	wg        sync.WaitGroup
}

// NewHTTPTransport creates an HTTP transport for the named server.
func NewHTTPTransport(name string, cfg *resources.MCPServerConfig) *HTTPTransport {
	return &HTTPTransport{
		name:     name,
		config:   cfg,
		logger:   slog.Default().With("mcp_server", name, "transport", "http"),
		client:   &http.Client{Timeout: cfg.Timeout()},
		events:   make(chan *JSONRPCNotification, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect marks the transport ready and starts the SSE listener. The actual
// handshake is the client's initialize call.
func (t *HTTPTransport) Connect(ctx context.Context) error {
	if t.config.URL == "" {
		return fmt.Errorf("url is required for http transport")
	}
	t.connected.Store(true)
	t.logger.Info("http transport ready", "url", t.config.URL)

	sseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancelSSE = cancel
	t.wg.Add(1)
	go t.sseLoop(sseCtx)
	return nil
}

// Close stops the SSE listener.
func (t *HTTPTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)
	if t.cancelSSE != nil {
		t.cancelSSE()
	}
	t.wg.Wait()
	return nil
}

// Call posts the request and decodes the response body.
func (t *HTTPTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, ErrTransportClosed
	}

	req := JSONRPCRequest{JSONRPC: "2.0", ID: uuid.New().String(), Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = paramsJSON
	}

	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, string(raw))
	}

	var rpcResp JSONRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("mcp error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// Notify posts a notification and discards the response body.
func (t *HTTPTransport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return ErrTransportClosed
	}
	notif := JSONRPCNotification{JSONRPC: "2.0", Method: method}
	if params != nil {
		paramsJSON, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = paramsJSON
	}

	body, _ := json.Marshal(notif)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

// Events returns the notification channel.
func (t *HTTPTransport) Events() <-chan *JSONRPCNotification {
	return t.events
}

// Connected reports whether the transport is open.
func (t *HTTPTransport) Connected() bool {
	return t.connected.Load()
}

// sseLoop reconnects to the /sse endpoint until the transport closes.
func (t *HTTPTransport) sseLoop(ctx context.Context) {
	defer t.wg.Done()
	sseURL := strings.TrimSuffix(t.config.URL, "/") + "/sse"

	for {
		select {
		case <-t.stopChan:
			return
		case <-ctx.Done():
			return
		default:
		}
		t.connectSSE(ctx, sseURL)

		select {
		case <-t.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Second):
		}
	}
}

func (t *HTTPTransport) connectSSE(ctx context.Context, sseURL string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sseURL, nil)
	if err != nil {
		return
	}
	req.Header.Set("Accept", "text/event-stream")

	// A streaming read must not inherit the request timeout.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		t.logger.Debug("sse connect failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		var notif JSONRPCNotification
		if err := json.Unmarshal([]byte(payload), &notif); err != nil || notif.Method == "" {
			continue
		}
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn("event channel full, dropping notification", "method", notif.Method)
		}
	}
}
