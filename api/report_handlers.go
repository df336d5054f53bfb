package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/report"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ReportResponse is the result of generating a compliance report.
type ReportResponse struct {
	Report models.Report `json:"report"`
	Stored bool          `json:"stored"`
}

// handleContractReport refreshes a contract and renders a compliance report.
// With a backend configured the report is also stored there.
func (s *Server) handleContractReport(w http.ResponseWriter, r *http.Request) {
	format, ok := report.ParseFormat(r.URL.Query().Get("format"))
	if !ok {
		writeError(w, http.StatusBadRequest, "format must be html or text")
		return
	}
	id := chi.URLParam(r, "id")

	rep, err := s.monitor.RefreshContract(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	cfg := report.DefaultConfig()
	cfg.Format = format
	cfg.Title = r.URL.Query().Get("title")
	rec, err := report.ToModel(rep, cfg)
	if err != nil {
		s.writeErr(w, err)
		return
	}

	out := ReportResponse{Report: rec}
	if s.backend != nil {
		stored, err := s.backend.CreateReport(r.Context(), rec)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		out.Report, out.Stored = *stored, true
		s.log.Info("compliance report stored", zap.String("contract", id), zap.String("report", stored.ID))
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: out})
}

// handleListReports lists the reports the backend holds for a contract.
func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	if s.backend == nil {
		writeError(w, http.StatusServiceUnavailable, "reports need a backend")
		return
	}
	opts := backend.ListOptions{Filters: map[string]string{"contract_id": chi.URLParam(r, "id")}}
	if p := r.URL.Query().Get("page"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "page must be a positive integer")
			return
		}
		opts.Page = n
	}
	page, err := s.backend.ListReports(r.Context(), opts)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, page)
}
