package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/store"
)

// Server exposes stored reports read-only over HTTP.
type Server struct {
	store    *store.Store
	registry *installation.Registry
	port     string
	loc      *time.Location
}

func NewServer(store *store.Store, registry *installation.Registry, port string, loc *time.Location) *Server {
	return &Server{
		store:    store,
		registry: registry,
		port:     port,
		loc:      loc,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/installations", s.handleAPIInstallations)
	mux.HandleFunc("GET /api/reports", s.handleAPIReports)
	mux.HandleFunc("GET /api/reports/{installation}/{period}", s.handleAPIReport)
	mux.HandleFunc("GET /api/reports/{installation}/{period}/episodes", s.handleAPIEpisodes)
	mux.HandleFunc("GET /api/runs", s.handleAPIRuns)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:    ":" + s.port,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

type HealthStatus struct {
	Status       string                   `json:"status"`
	Reports      int                      `json:"reports"`
	LastReport   time.Time                `json:"last_report,omitzero"`
	RecentErrors []string                 `json:"recent_errors,omitempty"`
	Runs         []store.RunHealthSummary `json:"runs,omitempty"`
}

// recentErrorWindow is how far back a failed run degrades health.
const recentErrorWindow = 24 * time.Hour

// runHealthDays is how many days of run counts the health report lists.
const runHealthDays = 7

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	reports, err := s.store.ListReports("")
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}

	health := HealthStatus{Status: "ok", Reports: len(reports)}
	for _, rep := range reports {
		if rep.GeneratedAt.After(health.LastReport) {
			health.LastReport = rep.GeneratedAt
		}
	}

	failed, err := s.store.GetRecentRunErrors(10)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
		return
	}
	cutoff := time.Now().Add(-recentErrorWindow)
	for _, run := range failed {
		if run.StartedAt.Before(cutoff) {
			continue
		}
		health.RecentErrors = append(health.RecentErrors, run.InstallationID+": "+run.ErrorMessage.String)
	}
	health.Runs, err = s.store.GetRunHealth(runHealthDays)
	if err != nil {
		log.Printf("health: run summary: %v", err)
	}

	if len(health.RecentErrors) > 0 {
		health.Status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.Printf("health: write response: %v", err)
	}
}
