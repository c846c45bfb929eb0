package httpsrv

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"guardian-server/pkg/escalation"
	"guardian-server/pkg/metrics"
	"guardian-server/pkg/session"
)

// HealthSource exposes the counters reported by the health endpoint
type HealthSource interface {
	ActiveCount() int
}

// Server hosts the operational endpoints (health, metrics) and a thin JSON
// adapter over the escalation engine for the chat layer to call.
type Server struct {
	port         int
	logger       *logrus.Logger
	orchestrator *escalation.Orchestrator
	health       HealthSource
	server       *http.Server
}

// NewServer creates the HTTP server
func NewServer(port int, orchestrator *escalation.Orchestrator, health HealthSource, logger *logrus.Logger) *Server {
	s := &Server{
		port:         port,
		logger:       logger,
		orchestrator: orchestrator,
		health:       health,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/api/v1/messages", s.handleMessage)
	mux.HandleFunc("/api/v1/replies", s.handleReply)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s
}

// Start begins serving in the background
func (s *Server) Start() {
	go func() {
		s.logger.WithField("port", s.port).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"active_sessions": s.health.ActiveCount(),
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// messageRequest is the chat layer's inbound message envelope
type messageRequest struct {
	UserID        string            `json:"user_id"`
	Message       string            `json:"message"`
	Context       []string          `json:"context,omitempty"`
	Location      *session.Location `json:"location,omitempty"`
	UserName      string            `json:"user_name,omitempty"`
	CaregiverName string            `json:"caregiver_name,omitempty"`
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || req.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}

	result := s.orchestrator.DetectAndProcess(r.Context(), req.UserID, req.Message, req.Context,
		req.Location, &escalation.UserMeta{Name: req.UserName, CaregiverName: req.CaregiverName})
	writeJSON(w, http.StatusOK, result)
}

// replyRequest is the confirmation-reply envelope
type replyRequest struct {
	UserID        string `json:"user_id"`
	Reply         string `json:"reply"`
	UserName      string `json:"user_name,omitempty"`
	CaregiverName string `json:"caregiver_name,omitempty"`
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result := s.orchestrator.ProcessConfirmationReply(r.Context(), req.UserID, req.Reply,
		&escalation.UserMeta{Name: req.UserName, CaregiverName: req.CaregiverName})
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
