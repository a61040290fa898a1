// Package server exposes the engine's network surface: the /streams
// WebSocket endpoint speaking the telephony media-stream protocol, and the
// HTTP control endpoints operators use to steer live calls.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"

	"github.com/vocata-ai/vocata/internal/health"
	"github.com/vocata-ai/vocata/internal/observe"
	"github.com/vocata-ai/vocata/internal/session"
	"github.com/vocata-ai/vocata/internal/telephony"
	"github.com/vocata-ai/vocata/pkg/mediastream"
)

// SessionFactory creates a session for one accepted stream. callID may be
// empty when the upgrade URL carried none.
type SessionFactory func(callID string, w session.FrameWriter) *session.Session

// Deps wires the Server.
type Deps struct {
	Manager    *session.Manager
	NewSession SessionFactory
	Redirector telephony.Redirector
	Health     *health.Handler
	Metrics    *observe.Metrics
	Logger     *slog.Logger
}

// Server is the HTTP/WebSocket front end.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger}
}

// Handler builds the route table. The WebSocket upgrade is accepted only on
// /streams; every other path is a plain HTTP route or a 404.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}

	mux.HandleFunc("GET /streams", s.handleStreams)
	mux.HandleFunc("POST /transfer", s.handleTransfer)
	mux.HandleFunc("POST /speak", s.handleSpeak)
	mux.HandleFunc("POST /ai-response", s.handleAIResponse)

	return s.withMetrics(mux)
}

// withMetrics records request latency by method and path.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.deps.Metrics.HTTPRequestDuration.Record(r.Context(),
			time.Since(start).Seconds(),
			metric.WithAttributes(
				observe.Attr("method", r.Method),
				observe.Attr("path", r.URL.Path),
			),
		)
	})
}

// wsWriter adapts a websocket connection to session.FrameWriter.
type wsWriter struct {
	conn *websocket.Conn
}

func (w *wsWriter) WriteEvent(ctx context.Context, ev mediastream.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return err
	}
	return w.conn.Write(ctx, websocket.MessageText, data)
}

// handleStreams upgrades the connection and pumps wire events into a new
// session until the peer stops or the socket dies.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	callID := r.URL.Query().Get("call_id")

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	// Inbound frames can burst well past the default read limit.
	conn.SetReadLimit(1 << 20)

	sess := s.deps.NewSession(callID, &wsWriter{conn: conn})
	ctx := r.Context()
	go sess.Run(ctx)
	defer func() {
		sess.Close()
		<-sess.Done()
		if s.deps.Manager != nil {
			s.deps.Manager.Unbind(sess)
		}
	}()

	s.logger.Info("stream accepted", "call_id_hint", callID, "remote", r.RemoteAddr)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway ||
				errors.Is(err, context.Canceled) {
				s.logger.Info("stream closed", "call_id", sess.CallID())
			} else {
				s.logger.Warn("stream read failed", "call_id", sess.CallID(), "error", err)
			}
			return
		}

		ev, err := mediastream.Parse(data)
		if err != nil {
			s.logger.Warn("malformed wire event dropped", "error", err)
			continue
		}
		sess.HandleEvent(ev)
		if ev.Event == mediastream.EventStop {
			return
		}
	}
}

// transferRequest is the POST /transfer body.
type transferRequest struct {
	CallID  string `json:"call_id"`
	Message string `json:"message"`
	Target  string `json:"target"`
}

func (s *Server) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || req.Target == "" {
		http.Error(w, "call_id and target are required", http.StatusBadRequest)
		return
	}

	sess, ok := s.deps.Manager.Get(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	if req.Message != "" {
		sess.Speak(req.Message)
	}
	if err := s.deps.Redirector.Redirect(r.Context(), req.CallID, req.Target); err != nil {
		s.logger.Error("transfer redirect failed", "call_id", req.CallID, "error", err)
		http.Error(w, "redirect failed", http.StatusBadGateway)
		return
	}
	s.logger.Info("transfer triggered", "call_id", req.CallID, "target", req.Target)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// speakRequest is the POST /speak body.
type speakRequest struct {
	CallID string `json:"call_id"`
	Text   string `json:"text"`
}

func (s *Server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || req.Text == "" {
		http.Error(w, "call_id and text are required", http.StatusBadRequest)
		return
	}

	sess, ok := s.deps.Manager.Get(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	sess.Speak(req.Text)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// aiResponseRequest is the POST /ai-response body.
type aiResponseRequest struct {
	CallID  string `json:"call_id"`
	Enabled *bool  `json:"enabled"`
}

func (s *Server) handleAIResponse(w http.ResponseWriter, r *http.Request) {
	var req aiResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CallID == "" || req.Enabled == nil {
		http.Error(w, "call_id and enabled are required", http.StatusBadRequest)
		return
	}

	sess, ok := s.deps.Manager.Get(req.CallID)
	if !ok {
		http.Error(w, "unknown call", http.StatusNotFound)
		return
	}
	sess.SetAIEnabled(*req.Enabled)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
