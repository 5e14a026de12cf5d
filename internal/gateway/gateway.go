// Package gateway is the inbound HTTP surface: health, Prometheus
// metrics, platform webhooks, and approval resumption. Webhook
// deliveries are parsed, deduplicated, routed, gated by the safety
// layer, and handed to the dispatcher.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aof-dev/aof/internal/audit"
	"github.com/aof-dev/aof/internal/errs"
	"github.com/aof-dev/aof/internal/flow"
	"github.com/aof-dev/aof/internal/observability"
	"github.com/aof-dev/aof/internal/router"
	"github.com/aof-dev/aof/internal/safety"
	"github.com/aof-dev/aof/pkg/models"
)

const maxWebhookBody = 1 << 20

// Webhook outcomes recorded on the metrics counter.
const (
	outcomeRouted    = "routed"
	outcomeUnmatched = "unmatched"
	outcomeRejected  = "rejected"
	outcomeDuplicate = "duplicate"
)

// Dispatch submits a routed message for execution and returns the task id.
type Dispatch func(ctx context.Context, msg *models.EventMessage, resolved *router.Resolved) (string, error)

// Config wires the server's collaborators.
type Config struct {
	Addr string

	Router     *router.Router
	Dispatch   Dispatch
	Interrupts *flow.Interrupts
	Safety     *safety.Engine
	Audit      *audit.Recorder
	Metrics    *observability.Metrics
	// Gatherer backs GET /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer

	// JWTSecret, when set, requires a valid HS256 bearer token on the
	// generic http platform webhook.
	JWTSecret string

	// DedupeTTL bounds redelivery suppression; zero uses the default.
	DedupeTTL time.Duration

	Logger *slog.Logger
}

// Server is the gateway HTTP server.
type Server struct {
	config  Config
	dedupe  *dedupeCache
	parsers map[models.Platform]Parser
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer builds the server. Router and Dispatch are required.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Router == nil {
		return nil, fmt.Errorf("gateway requires a router")
	}
	if cfg.Dispatch == nil {
		return nil, fmt.Errorf("gateway requires a dispatcher")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  cfg,
		dedupe:  newDedupeCache(cfg.DedupeTTL),
		parsers: make(map[models.Platform]Parser),
		logger:  logger.With("component", "gateway"),
	}, nil
}

// RegisterParser installs a platform-specific webhook parser. Called at
// process init, before Start.
func (s *Server) RegisterParser(platform models.Platform, parser Parser) {
	s.parsers[platform] = parser
}

// Handler builds the route table. Exposed separately from Start for tests.
func (s *Server) Handler() http.Handler {
	gatherer := s.config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /webhook/{platform}", s.handleWebhook)
	mux.HandleFunc("GET /approvals", s.handleApprovalList)
	mux.HandleFunc("POST /approvals/{id}", s.handleApprovalResume)
	return mux
}

// Start listens and serves until Stop. Returns once the listener is open.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, useful when Addr was ":0".
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	platform := models.Platform(r.PathValue("platform"))

	if s.config.JWTSecret != "" && platform == models.PlatformHTTP {
		if err := verifyBearer(r, []byte(s.config.JWTSecret)); err != nil {
			s.logger.Warn("webhook auth failed", "platform", platform, "error", err)
			s.countWebhook(platform, outcomeRejected)
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		s.countWebhook(platform, outcomeRejected)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "read body"})
		return
	}

	parser, ok := s.parsers[platform]
	if !ok {
		parser = genericParser{platform: platform}
	}
	msg, err := parser.Parse(r, body)
	if err != nil {
		s.logger.Warn("webhook parse failed", "platform", platform, "error", err)
		s.countWebhook(platform, outcomeRejected)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if s.dedupe.Seen(string(msg.Platform) + ":" + msg.MessageID) {
		s.logger.Debug("duplicate delivery dropped", "platform", platform, "message_id", msg.MessageID)
		s.countWebhook(platform, outcomeDuplicate)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
		return
	}

	resolved := s.config.Router.Best(msg)
	if resolved == nil {
		s.countWebhook(platform, outcomeUnmatched)
		writeJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
		return
	}

	if blocked, message := s.safetyBlocked(r.Context(), msg, resolved); blocked {
		s.countWebhook(platform, outcomeRejected)
		writeJSON(w, http.StatusOK, map[string]string{"status": "blocked", "message": message})
		return
	}

	taskID, err := s.config.Dispatch(r.Context(), msg, resolved)
	if err != nil {
		s.logger.Error("dispatch failed", "platform", platform, "target", resolved.Target.Name, "error", err)
		s.countWebhook(platform, outcomeRejected)
		status := http.StatusInternalServerError
		if errs.KindOf(err) == errs.KindQueueFull {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	s.audit(r.Context(), audit.Event{
		Type:     audit.EventTaskSubmitted,
		Actor:    msg.User,
		Platform: string(msg.Platform),
		Channel:  msg.Channel,
		Target:   resolved.Target.Kind + "/" + resolved.Target.Name,
		Context:  resolved.ContextName,
		TaskID:   taskID,
	})
	s.countWebhook(platform, outcomeRouted)
	s.logger.Info("webhook routed",
		"platform", platform,
		"target", resolved.Target.Name,
		"score", resolved.Score,
		"task", taskID,
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted", "task_id": taskID})
}

// safetyBlocked applies the platform policy to the message text. Only a
// block verdict stops routing here; approval requirements travel with
// the resolved context and are enforced at the approval gate.
func (s *Server) safetyBlocked(ctx context.Context, msg *models.EventMessage, resolved *router.Resolved) (bool, string) {
	if s.config.Safety == nil {
		return false, ""
	}
	verdict := s.config.Safety.Check(msg.Platform, msg.Text, resolved.Context)
	if verdict.Decision != safety.DecisionBlock {
		return false, ""
	}
	s.logger.Warn("safety policy blocked message",
		"platform", msg.Platform,
		"class", verdict.Classification.Class,
		"user", msg.User,
	)
	s.audit(ctx, audit.Event{
		Type:     audit.EventSafetyBlocked,
		Actor:    msg.User,
		Platform: string(msg.Platform),
		Channel:  msg.Channel,
		Target:   resolved.Target.Kind + "/" + resolved.Target.Name,
		Detail:   map[string]any{"class": string(verdict.Classification.Class)},
	})
	return true, verdict.BlockedMessage
}

func (s *Server) handleApprovalList(w http.ResponseWriter, _ *http.Request) {
	if s.config.Interrupts == nil {
		writeJSON(w, http.StatusOK, []flow.Interrupt{})
		return
	}
	pending := s.config.Interrupts.Pending()
	if pending == nil {
		pending = []flow.Interrupt{}
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleApprovalResume(w http.ResponseWriter, r *http.Request) {
	if s.config.Interrupts == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "approvals not enabled"})
		return
	}
	id := r.PathValue("id")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil || len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "approval body required"})
		return
	}

	if err := s.config.Interrupts.Resume(id, json.RawMessage(body)); err != nil {
		switch errs.KindOf(err) {
		case errs.KindNotFound:
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errs.KindValidation:
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	s.audit(r.Context(), audit.Event{Type: audit.EventApprovalGranted, Detail: map[string]any{"interrupt": id}})
	s.logger.Info("approval resumed", "interrupt", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *Server) countWebhook(platform models.Platform, outcome string) {
	if s.config.Metrics == nil {
		return
	}
	s.config.Metrics.WebhooksReceived.WithLabelValues(string(platform), outcome).Inc()
}

func (s *Server) audit(ctx context.Context, event audit.Event) {
	if s.config.Audit == nil {
		return
	}
	if err := s.config.Audit.Record(ctx, &event); err != nil {
		s.logger.Warn("audit record failed", "type", event.Type, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
