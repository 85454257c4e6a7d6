package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/lox/biogasreport/internal/installation"
	"github.com/lox/biogasreport/internal/models"
	"github.com/lox/biogasreport/internal/report"
	"github.com/lox/biogasreport/internal/store"
)

type InstallationSummary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	SlipMethod   string   `json:"slip_method"`
	Availability []string `json:"availability"`
	Energy       []string `json:"energy"`
	Episodes     []string `json:"episodes"`
}

type ReportSummary struct {
	InstallationID   string    `json:"installation_id"`
	InstallationName string    `json:"installation_name"`
	Period           string    `json:"period"`
	PeriodKey        string    `json:"period_key"`
	ReportName       string    `json:"report_name"`
	RunID            string    `json:"run_id"`
	QualityFlags     []string  `json:"quality_flags,omitempty"`
	GeneratedAt      time.Time `json:"generated_at"`
}

type RunSummary struct {
	ID             string     `json:"id"`
	InstallationID string     `json:"installation_id"`
	Source         string     `json:"source"`
	SourceName     string     `json:"source_name,omitempty"`
	PeriodKey      string     `json:"period_key,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Success        bool       `json:"success"`
	Error          string     `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: write response: %v", err)
	}
}

func (s *Server) handleAPIInstallations(w http.ResponseWriter, r *http.Request) {
	out := lo.Map(s.registry.All(), func(rec installation.Recipe, _ int) InstallationSummary {
		method := string(rec.Slip.Method)
		if method == "" {
			method = string(installation.SlipNotApplicable)
		}
		return InstallationSummary{
			ID:           rec.ID,
			Name:         rec.Name,
			SlipMethod:   method,
			Availability: lo.Map(rec.Availability, func(a installation.AvailabilitySpec, _ int) string { return a.Name }),
			Energy:       lo.Map(rec.Energy, func(e installation.EnergySpec, _ int) string { return e.Name }),
			Episodes:     lo.Map(rec.Episodes, func(e installation.EpisodeSpec, _ int) string { return e.Name }),
		}
	})
	writeJSON(w, out)
}

func (s *Server) handleAPIReports(w http.ResponseWriter, r *http.Request) {
	reports, err := s.store.ListReports(r.URL.Query().Get("installation"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := lo.Map(reports, func(rep store.ReportSummary, _ int) ReportSummary {
		sum := ReportSummary{
			InstallationID:   rep.InstallationID,
			InstallationName: rep.InstallationName,
			Period:           rep.Period,
			PeriodKey:        rep.PeriodKey,
			RunID:            rep.RunID,
			GeneratedAt:      rep.GeneratedAt.In(s.loc),
		}
		sum.ReportName = (&models.Metrics{InstallationName: rep.InstallationName, PeriodKey: rep.PeriodKey}).ReportName()
		if rep.QualityFlags.Valid {
			if err := json.Unmarshal([]byte(rep.QualityFlags.String), &sum.QualityFlags); err != nil {
				log.Printf("api: quality flags %s/%s: %v", rep.InstallationID, rep.PeriodKey, err)
			}
		}
		return sum
	})
	writeJSON(w, out)
}

// handleAPIReport returns the metrics of one report. ?sections=a,b limits
// the response to those report sections.
func (s *Server) handleAPIReport(w http.ResponseWriter, r *http.Request) {
	m, ok := s.lookupReport(w, r)
	if !ok {
		return
	}

	var sections []report.Section
	if raw := r.URL.Query().Get("sections"); raw != "" {
		for _, name := range lo.Compact(strings.Split(raw, ",")) {
			sec, err := report.ParseSection(strings.TrimSpace(name))
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			sections = append(sections, sec)
		}
	}
	writeJSON(w, report.Select(m, sections...))
}

func (s *Server) handleAPIEpisodes(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.installationID(w, r)
	if !ok {
		return
	}
	eps, err := s.store.GetEpisodes(inst, r.PathValue("period"), r.URL.Query().Get("subsystem"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if eps == nil {
		eps = []models.Episode{}
	}
	writeJSON(w, eps)
}

func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := s.store.GetRecentRuns(r.URL.Query().Get("installation"), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := lo.Map(runs, func(run store.ReportRun, _ int) RunSummary {
		sum := RunSummary{
			ID:             run.ID,
			InstallationID: run.InstallationID,
			Source:         run.Source,
			SourceName:     run.SourceName.String,
			PeriodKey:      run.PeriodKey.String,
			StartedAt:      run.StartedAt.In(s.loc),
			Success:        run.Success,
			Error:          run.ErrorMessage.String,
		}
		if run.FinishedAt.Valid {
			t := run.FinishedAt.Time.In(s.loc)
			sum.FinishedAt = &t
		}
		return sum
	})
	writeJSON(w, out)
}

// installationID resolves the {installation} path segment, which may be an
// id or a display name, to a recipe id.
func (s *Server) installationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	rec, err := s.registry.Lookup(r.PathValue("installation"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return rec.ID, true
}

func (s *Server) lookupReport(w http.ResponseWriter, r *http.Request) (*models.Metrics, bool) {
	inst, ok := s.installationID(w, r)
	if !ok {
		return nil, false
	}
	period := r.PathValue("period")
	m, err := s.store.GetReport(inst, period)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	if m == nil {
		http.Error(w, "no report for "+inst+" "+period, http.StatusNotFound)
		return nil, false
	}
	return m, true
}
