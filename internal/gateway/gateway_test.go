package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/flow"
	"github.com/aof-dev/aof/internal/observability"
	"github.com/aof-dev/aof/internal/resources"
	"github.com/aof-dev/aof/internal/router"
	"github.com/aof-dev/aof/internal/safety"
	"github.com/aof-dev/aof/pkg/models"
)

func header(kind, name string) resources.Header {
	return resources.Header{
		APIVersion: resources.APIVersion,
		Kind:       kind,
		Metadata:   resources.Metadata{Name: name},
	}
}

// fixtureStore wires slack, http, and telegram triggers all bound to a
// trivial flow so routing succeeds on each platform.
func fixtureStore(t *testing.T) *resources.Store {
	t.Helper()
	store := resources.NewStore()

	if err := store.Flows.Register(&resources.Flow{
		Header: header(resources.KindAgentFlow, "chat-flow"),
		Spec:   resources.FlowSpec{Nodes: []resources.FlowNode{{ID: "done", Type: resources.NodeEnd}}},
	}); err != nil {
		t.Fatal(err)
	}
	for _, platform := range []models.Platform{models.PlatformSlack, models.PlatformHTTP, models.PlatformTelegram} {
		name := string(platform) + "-in"
		if err := store.Triggers.Register(&resources.Trigger{
			Header: header(resources.KindTrigger, name),
			Spec:   resources.TriggerSpec{Platform: platform},
		}); err != nil {
			t.Fatal(err)
		}
		if err := store.Bindings.Register(&resources.FlowBinding{
			Header: header(resources.KindBinding, name+"-binding"),
			Spec:   resources.BindingSpec{Trigger: name, Flow: "chat-flow"},
		}); err != nil {
			t.Fatal(err)
		}
	}
	return store
}

type dispatchRecorder struct {
	calls []*models.EventMessage
	err   error
}

func (d *dispatchRecorder) dispatch(_ context.Context, msg *models.EventMessage, _ *router.Resolved) (string, error) {
	d.calls = append(d.calls, msg)
	if d.err != nil {
		return "", d.err
	}
	return "task-1", nil
}

func newTestServer(t *testing.T, cfg Config) (*Server, *dispatchRecorder) {
	t.Helper()
	recorder := &dispatchRecorder{}
	if cfg.Router == nil {
		cfg.Router = router.New(fixtureStore(t), "", nil)
	}
	if cfg.Dispatch == nil {
		cfg.Dispatch = recorder.dispatch
	}
	server, err := NewServer(cfg)
	if err != nil {
		t.Fatal(err)
	}
	return server, recorder
}

func post(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var out map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	server, _ := newTestServer(t, Config{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("health: %d %q", w.Code, w.Body.String())
	}
}

func TestWebhookRoutesAndDeduplicates(t *testing.T) {
	server, recorder := newTestServer(t, Config{})
	handler := server.Handler()
	body := `{"message_id":"m1","channel":"ops","user":"alice","text":"status please"}`

	w := post(t, handler, "/webhook/slack", body)
	if w.Code != http.StatusOK {
		t.Fatalf("first delivery: %d %s", w.Code, w.Body.String())
	}
	got := decodeBody(t, w)
	if got["status"] != "accepted" || got["task_id"] != "task-1" {
		t.Fatalf("first delivery body: %v", got)
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("dispatch calls: %d", len(recorder.calls))
	}
	if recorder.calls[0].Platform != models.PlatformSlack {
		t.Fatalf("platform: %s", recorder.calls[0].Platform)
	}

	// Same message id again is suppressed.
	w = post(t, handler, "/webhook/slack", body)
	if got := decodeBody(t, w); got["status"] != "duplicate" {
		t.Fatalf("redelivery body: %v", got)
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("duplicate must not dispatch, calls: %d", len(recorder.calls))
	}
}

func TestWebhookUnmatchedAndBadBody(t *testing.T) {
	server, recorder := newTestServer(t, Config{})
	handler := server.Handler()

	w := post(t, handler, "/webhook/discord", `{"message_id":"m2","text":"hello"}`)
	if got := decodeBody(t, w); got["status"] != "unmatched" {
		t.Fatalf("unmatched body: %v", got)
	}
	if len(recorder.calls) != 0 {
		t.Fatal("unmatched must not dispatch")
	}

	if w := post(t, handler, "/webhook/slack", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("bad body: %d", w.Code)
	}
	if w := post(t, handler, "/webhook/slack", `{"message_id":"m3"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing text: %d", w.Code)
	}
}

func TestWebhookSafetyBlocks(t *testing.T) {
	server, recorder := newTestServer(t, Config{Safety: safety.NewEngine(nil)})
	handler := server.Handler()

	// Telegram is read-only by default, so a delete is blocked.
	w := post(t, handler, "/webhook/telegram", `{"message_id":"m4","text":"kubectl delete pod api"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("blocked delivery: %d", w.Code)
	}
	if got := decodeBody(t, w); got["status"] != "blocked" || got["message"] == "" {
		t.Fatalf("blocked body: %v", got)
	}
	if len(recorder.calls) != 0 {
		t.Fatal("blocked message must not dispatch")
	}

	// Reads pass through.
	w = post(t, handler, "/webhook/telegram", `{"message_id":"m5","text":"kubectl get pods"}`)
	if got := decodeBody(t, w); got["status"] != "accepted" {
		t.Fatalf("read body: %v", got)
	}
}

func TestWebhookQueueFull(t *testing.T) {
	recorder := &dispatchRecorder{err: &errs.Error{Kind: errs.KindQueueFull, Message: "at capacity"}}
	server, _ := newTestServer(t, Config{Dispatch: recorder.dispatch})

	w := post(t, server.Handler(), "/webhook/slack", `{"message_id":"m6","text":"hello"}`)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("queue full: %d", w.Code)
	}
}

func TestWebhookJWT(t *testing.T) {
	secret := "webhook-secret"
	server, recorder := newTestServer(t, Config{JWTSecret: secret})
	handler := server.Handler()
	body := `{"message_id":"m7","text":"hello"}`

	if w := post(t, handler, "/webhook/http", body); w.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: %d", w.Code)
	}
	if len(recorder.calls) != 0 {
		t.Fatal("unauthorized must not dispatch")
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "ci",
		"exp": time.Now().Add(time.Minute).Unix(),
	}).SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhook/http", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("signed delivery: %d %s", w.Code, w.Body.String())
	}
	if len(recorder.calls) != 1 {
		t.Fatalf("dispatch calls: %d", len(recorder.calls))
	}

	// Slack deliveries are not subject to the bearer check.
	if w := post(t, handler, "/webhook/slack", `{"message_id":"m8","text":"hi"}`); w.Code != http.StatusOK {
		t.Fatalf("slack delivery: %d", w.Code)
	}
}

func TestApprovalListAndResume(t *testing.T) {
	interrupts := flow.NewInterrupts()
	server, _ := newTestServer(t, Config{Interrupts: interrupts})
	handler := server.Handler()

	raised, resume := interrupts.Raise(flow.Interrupt{
		Type:   flow.InterruptConfirm,
		Prompt: "apply to prod?",
		Flow:   "deploy-flow",
	})

	req := httptest.NewRequest(http.MethodGet, "/approvals", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	var pending []flow.Interrupt
	if err := json.Unmarshal(w.Body.Bytes(), &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != raised.ID {
		t.Fatalf("pending: %+v", pending)
	}

	if w := post(t, handler, "/approvals/nope", `{"decision":"granted"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown interrupt: %d", w.Code)
	}
	if w := post(t, handler, "/approvals/"+raised.ID, `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("invalid payload: %d", w.Code)
	}

	w2 := post(t, handler, "/approvals/"+raised.ID, `{"decision":"granted"}`)
	if w2.Code != http.StatusOK {
		t.Fatalf("resume: %d %s", w2.Code, w2.Body.String())
	}
	select {
	case value := <-resume:
		decision, _ := value.(map[string]any)
		if decision["decision"] != "granted" {
			t.Fatalf("resume value: %v", value)
		}
	case <-time.After(time.Second):
		t.Fatal("resume value not delivered")
	}
}

func TestMetricsEndpointCountsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	server, _ := newTestServer(t, Config{Metrics: metrics, Gatherer: registry})
	handler := server.Handler()

	post(t, handler, "/webhook/slack", `{"message_id":"m9","text":"hello"}`)
	post(t, handler, "/webhook/discord", `{"message_id":"m10","text":"hello"}`)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	out := w.Body.String()
	if !strings.Contains(out, `aof_webhooks_received_total{outcome="routed",platform="slack"}`) {
		t.Fatalf("routed counter missing:\n%s", out)
	}
	if !strings.Contains(out, `aof_webhooks_received_total{outcome="unmatched",platform="discord"}`) {
		t.Fatalf("unmatched counter missing:\n%s", out)
	}
}

func TestDedupeCacheExpires(t *testing.T) {
	cache := newDedupeCache(time.Minute)
	base := time.Now()
	cache.now = func() time.Time { return base }

	if cache.Seen("slack:m1") {
		t.Fatal("first sighting must not be a duplicate")
	}
	if !cache.Seen("slack:m1") {
		t.Fatal("second sighting must be a duplicate")
	}
	if cache.Seen("") {
		t.Fatal("empty key is never deduplicated")
	}

	base = base.Add(2 * time.Minute)
	if cache.Seen("slack:m1") {
		t.Fatal("expired entry must not be a duplicate")
	}
}
