package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/user/energychat/internal/dataset"
	"github.com/user/energychat/internal/gateway"
	"github.com/user/energychat/internal/runtime"
	"github.com/user/energychat/pkg/llm"
)

// TurnRunner produces one assistant turn as a stream of events.
type TurnRunner interface {
	Turn(ctx context.Context, history []llm.Message, out runtime.Emitter) error
}

// Predictor runs the baseline model for the predict endpoint.
type Predictor interface {
	PredictSample(building int, utility string, sample int) (*dataset.Prediction, error)
}

// Server is the HTTP front of the chat engine.
type Server struct {
	router  chi.Router
	turns   TurnRunner
	gate    *gateway.Gate
	store   Predictor
	origins []string
}

// NewServer wires the chat and predict handlers. store may be nil when no
// dataset is configured; the predict endpoint then answers 503.
func NewServer(turns TurnRunner, gate *gateway.Gate, store Predictor, origins []string) *Server {
	s := &Server{
		turns:   turns,
		gate:    gate,
		store:   store,
		origins: origins,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", conversationHeader},
		ExposedHeaders: []string{"X-Vercel-AI-UI-Message-Stream"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/api/chat", s.handleChat)
	r.Post("/api/predict", s.handlePredict)

	s.router = r
}

// ServeHTTP delegates to the router, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs one line per request through slog.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

// Response helpers

type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
