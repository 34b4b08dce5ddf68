// Package web exposes the small HTTP surface the mobile client calls:
// the latest road-crossing analysis, a user-triggered immediate check, and
// a health probe.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"

	"github.com/chandanpandeys/dekhosuno/traffic"
)

// RoadCrossing is the slice of the orchestrator the HTTP surface needs.
type RoadCrossing interface {
	LastAnalysis() (traffic.Analysis, bool)
	LastError() string
	Active() bool
	Analyzing() bool
	AnalyzeNow(ctx context.Context) (traffic.Analysis, error)
}

// Server serves the client API over HTTP.
type Server struct {
	roadcross RoadCrossing
	logger    golog.Logger

	mu         sync.Mutex
	httpServer *http.Server
}

// NewServer returns an unstarted server.
func NewServer(rc RoadCrossing, logger golog.Logger) *Server {
	return &Server{roadcross: rc, logger: logger}
}

// Handler builds the route tree. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/healthz"), s.handleHealth)
	mux.HandleFunc(pat.Get("/api/analysis"), s.handleLastAnalysis)
	mux.HandleFunc(pat.Post("/api/analyze"), s.handleAnalyzeNow)
	// the mobile dev client runs from a different origin
	return cors.AllowAll().Handler(mux)
}

// Start begins serving on addr and returns once the listener is bound.
func (s *Server) Start(addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("server already started")
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %q", addr)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	server := s.httpServer
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("http server stopped", "error", err)
		}
	}()
	s.logger.Infow("http server listening", "address", listener.Addr().String())
	return nil
}

// Stop shuts the server down gracefully. Safe to call when never started.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	server := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

type healthResponse struct {
	Status    string `json:"status"`
	Active    bool   `json:"active"`
	Analyzing bool   `json:"analyzing"`
}

type analysisResponse struct {
	Analysis  *traffic.Analysis `json:"analysis,omitempty"`
	LastError string            `json:"last_error,omitempty"`
	// Speak carries the text the client should hand to text-to-speech.
	Speak string `json:"speak,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Active:    s.roadcross.Active(),
		Analyzing: s.roadcross.Analyzing(),
	})
}

func (s *Server) handleLastAnalysis(w http.ResponseWriter, r *http.Request) {
	resp := analysisResponse{LastError: s.roadcross.LastError()}
	if analysis, ok := s.roadcross.LastAnalysis(); ok {
		resp.Analysis = &analysis
		s.writeJSON(w, http.StatusOK, resp)
		return
	}
	s.writeJSON(w, http.StatusNotFound, resp)
}

func (s *Server) handleAnalyzeNow(w http.ResponseWriter, r *http.Request) {
	analysis, err := s.roadcross.AnalyzeNow(r.Context())
	if err != nil {
		s.logger.Errorw("on-demand analysis failed", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, analysisResponse{
		Analysis: &analysis,
		Speak:    analysis.HindiInstruction,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Errorw("cannot write response", "error", err)
	}
}
