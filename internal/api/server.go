// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package api exposes the query pipeline over HTTP.
// Implements: prd006-api (R1-R4); docs/ARCHITECTURE.md § HTTP API.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/agent"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// QueryProcessor is the slice of the agent the API needs.
type QueryProcessor interface {
	ProcessQuery(ctx context.Context, req agent.Request) (agent.Response, error)
}

// HistoryReader serves conversation history endpoints and the health
// check's store probe.
type HistoryReader interface {
	History(ctx context.Context, conversationID string) ([]types.Turn, error)
	Conversations(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

// ToolLister reports the tools the backend currently advertises.
type ToolLister interface {
	ListTools(ctx context.Context) ([]string, error)
	State() types.ConnectionState
}

// Server is the HTTP front end.
type Server struct {
	agent   QueryProcessor
	history HistoryReader
	tools   ToolLister
	log     *zap.Logger
	router  chi.Router
}

// NewServer builds the HTTP server and its routes.
func NewServer(a QueryProcessor, history HistoryReader, tools ToolLister, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{agent: a, history: history, tools: tools, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Get("/conversations", s.handleConversations)
		r.Get("/conversations/{id}", s.handleConversation)
		r.Get("/tools", s.handleTools)
	})

	s.router = r
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within cfg.ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, cfg types.ServerConfig) error {
	cfg = cfg.WithDefaults()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// chatRequest is the POST /api/v1/chat body.
type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

// chatResponse is the POST /api/v1/chat reply.
type chatResponse struct {
	Message        string       `json:"message"`
	ConversationID string       `json:"conversation_id"`
	QueryID        string       `json:"query_id"`
	Metadata       chatMetadata `json:"metadata"`
}

type chatMetadata struct {
	Intent           types.IntentType `json:"intent_type"`
	Confidence       float64          `json:"confidence"`
	ProcessingTimeMS int64            `json:"processing_time_ms"`
	Degraded         bool             `json:"degraded"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.agent.ProcessQuery(r.Context(), agent.Request{
		Text:           req.Message,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		s.log.Error("query processing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query processing failed")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Message:        resp.Message,
		ConversationID: resp.ConversationID,
		QueryID:        resp.QueryID,
		Metadata: chatMetadata{
			Intent:           resp.Metadata.IntentType,
			Confidence:       resp.Metadata.Confidence,
			ProcessingTimeMS: resp.Metadata.ProcessingTime.Milliseconds(),
			Degraded:         resp.Metadata.Degraded,
		},
	})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	ids, err := s.history.Conversations(r.Context())
	if err != nil {
		s.log.Error("listing conversations failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "listing conversations failed")
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": ids})
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	turns, err := s.history.History(r.Context(), id)
	if err != nil {
		s.log.Error("reading conversation failed",
			zap.String("conversation_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reading conversation failed")
		return
	}
	if len(turns) == 0 {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversation_id": id, "turns": turns})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.tools.ListTools(r.Context())
	if err != nil {
		s.log.Error("listing tools failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "tool backend unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": tools})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	state := s.tools.State()
	if state != types.StateReady {
		status = state.String()
	}
	if state == types.StateClosed {
		code = http.StatusServiceUnavailable
	}
	if err := s.history.Ping(r.Context()); err != nil {
		status = "store unreachable"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"status": status, "backend": state.String()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// requestLogger logs one line per request with status and latency.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(started)))
		})
	}
}
