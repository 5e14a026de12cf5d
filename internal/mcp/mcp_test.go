package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/tools"
)

// fakeTransport scripts responses per method.
type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	calls     []string
	notifies  []string
	respond   map[string]string
	failWith  error
	events    chan *JSONRPCNotification
}

func newFakeTransport(respond map[string]string) *fakeTransport {
	return &fakeTransport{
		respond: respond,
		events:  make(chan *JSONRPCNotification, 10),
	}
}

func (f *fakeTransport) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) Call(_ context.Context, method string, _ any) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	if f.failWith != nil {
		return nil, f.failWith
	}
	body, ok := f.respond[method]
	if !ok {
		return nil, fmt.Errorf("unexpected method %s", method)
	}
	return json.RawMessage(body), nil
}

func (f *fakeTransport) Notify(_ context.Context, method string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notifies = append(f.notifies, method)
	return nil
}

func (f *fakeTransport) Events() <-chan *JSONRPCNotification { return f.events }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func testClient(transport Transport) *Client {
	cfg := &resources.MCPServerConfig{Name: "kb"}
	c := NewClient("kb", cfg, nil)
	c.newTransport = func() Transport { return transport }
	return c
}

const initBody = `{"protocolVersion":"2024-11-05","serverInfo":{"name":"kb-server","version":"0.3.0"}}`

func TestClientHandshakeCachesTools(t *testing.T) {
	transport := newFakeTransport(map[string]string{
		"initialize": initBody,
		"tools/list": `{"tools":[{"name":"search","description":"Search the kb.","inputSchema":{"type":"object"}}]}`,
	})
	client := testClient(transport)

	if client.State() != StateDisconnected {
		t.Fatalf("fresh client state: %s", client.State())
	}
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if client.State() != StateReady {
		t.Fatalf("connected client state: %s", client.State())
	}
	if got := client.ServerInfo().Name; got != "kb-server" {
		t.Fatalf("server info: %q", got)
	}
	tools := client.Tools()
	if len(tools) != 1 || tools[0].Name != "search" {
		t.Fatalf("cached tools: %+v", tools)
	}

	// The initialized notification went out after the handshake.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.notifies) == 0 || transport.notifies[0] != "notifications/initialized" {
		t.Fatalf("notifications: %v", transport.notifies)
	}
}

func TestClientInitializeFailure(t *testing.T) {
	transport := newFakeTransport(nil)
	transport.failWith = fmt.Errorf("boom")
	client := testClient(transport)

	if err := client.Connect(context.Background()); err == nil {
		t.Fatal("handshake failure must surface")
	}
	if client.State() != StateDisconnected {
		t.Fatalf("failed client state: %s", client.State())
	}
}

func TestClientCallToolFlattensContent(t *testing.T) {
	transport := newFakeTransport(map[string]string{
		"initialize": initBody,
		"tools/list": `{"tools":[]}`,
		"tools/call": `{"content":[{"type":"text","text":"first"},{"type":"text","text":"second"},{"type":"json","json":{"hits":3}}]}`,
	})
	client := testClient(transport)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	text, structured, isError, err := client.CallTool(context.Background(), "search", nil)
	if err != nil {
		t.Fatal(err)
	}
	if isError {
		t.Fatal("unexpected isError")
	}
	if text != "first\nsecond" {
		t.Fatalf("text blocks must concatenate: %q", text)
	}
	if string(structured) != `{"hits":3}` {
		t.Fatalf("structured block: %s", structured)
	}
}

func TestClientShutdownIdempotent(t *testing.T) {
	transport := newFakeTransport(map[string]string{
		"initialize": initBody,
		"tools/list": `{"tools":[]}`,
	})
	client := testClient(transport)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if err := client.Shutdown(); err != nil {
		t.Fatal(err)
	}
	if client.State() != StateDisconnected {
		t.Fatalf("state after shutdown: %s", client.State())
	}
	if _, _, _, err := client.CallTool(context.Background(), "search", nil); err == nil {
		t.Fatal("call after shutdown must fail")
	}

	// The close notification went out exactly once.
	transport.mu.Lock()
	defer transport.mu.Unlock()
	closes := 0
	for _, method := range transport.notifies {
		if method == "shutdown" {
			closes++
		}
	}
	if closes != 1 {
		t.Fatalf("shutdown notifications: %v", transport.notifies)
	}
}

func TestStdioCorrelation(t *testing.T) {
	transport := NewStdioTransport("kb", &resources.MCPServerConfig{Name: "kb"})

	waiter := make(chan *JSONRPCResponse, 1)
	transport.pendingMu.Lock()
	transport.pending[7] = waiter
	transport.pendingMu.Unlock()

	// A response with a matching id resolves the waiter.
	transport.processLine(`{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`)
	select {
	case resp := <-waiter:
		if string(resp.Result) != `{"ok":true}` {
			t.Fatalf("result: %s", resp.Result)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not resolved")
	}

	// An id-less message is a notification.
	transport.processLine(`{"jsonrpc":"2.0","method":"notifications/progress","params":{}}`)
	select {
	case notif := <-transport.Events():
		if notif.Method != "notifications/progress" {
			t.Fatalf("method: %s", notif.Method)
		}
	case <-time.After(time.Second):
		t.Fatal("notification not dispatched")
	}
}

func TestStdioFailPendingOnClose(t *testing.T) {
	transport := NewStdioTransport("kb", &resources.MCPServerConfig{Name: "kb"})

	waiter := make(chan *JSONRPCResponse, 1)
	transport.pendingMu.Lock()
	transport.pending[1] = waiter
	transport.pendingMu.Unlock()

	transport.failPending()
	select {
	case resp := <-waiter:
		if resp != nil {
			t.Fatalf("failed waiter must see nil, got %+v", resp)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter not failed")
	}
}

func TestBridgeResolvesRemoteTools(t *testing.T) {
	transport := newFakeTransport(map[string]string{
		"initialize": initBody,
		"tools/list": `{"tools":[{"name":"search","inputSchema":{"type":"object"}}]}`,
		"tools/call": `{"content":[{"type":"text","text":"hit"}]}`,
	})
	client := testClient(transport)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	bridge := NewBridge(client)
	tool, ok := bridge.Get("search")
	if !ok {
		t.Fatal("bridge must resolve cached tool")
	}
	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success || result.Text() != "hit" {
		t.Fatalf("bridged result: %+v", result)
	}

	if _, ok := bridge.Get("ghost"); ok {
		t.Fatal("unknown tool must not resolve")
	}
	defs := bridge.List()
	if len(defs) != 1 || defs[0].Name != "search" {
		t.Fatalf("bridge list: %+v", defs)
	}
}

func TestBridgedToolCarriesServerBudget(t *testing.T) {
	client := NewClient("kb", &resources.MCPServerConfig{Name: "kb", TimeoutSecs: 15}, nil)
	client.tools = []*RemoteTool{{Name: "search"}}

	tool, ok := NewBridge(client).Get("search")
	if !ok {
		t.Fatal("bridge must resolve cached tool")
	}
	limited, ok := tool.(tools.TimeLimited)
	if !ok {
		t.Fatal("bridged tool must expose the server budget")
	}
	if got := limited.Timeout(); got != 15*time.Second {
		t.Fatalf("budget: %v", got)
	}
}
