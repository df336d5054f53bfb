package api

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/covenantwatch/covenantwatch/internal/assessment"
	"github.com/covenantwatch/covenantwatch/internal/covenant"
	"github.com/covenantwatch/covenantwatch/internal/storage"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// historyLimit caps the metric history returned and fed to assessments.
const historyLimit = 12

// EvaluateRequest is the body for POST /api/v1/covenants/evaluate. With a
// history the full health snapshot is returned; otherwise current_value is
// compared against the threshold (the covenant's own when omitted). A null
// current_value is missing data.
type EvaluateRequest struct {
	Covenant     models.Covenant      `json:"covenant"`
	CurrentValue *float64             `json:"current_value,omitempty"`
	Threshold    *float64             `json:"threshold_value,omitempty"`
	Operator     models.Operator      `json:"operator,omitempty"`
	History      []models.MetricPoint `json:"history,omitempty"`
}

// EvaluateResponse is the answer for a single value comparison.
type EvaluateResponse struct {
	covenant.Result
	DisplayBuffer float64 `json:"display_buffer"`
}

// AssessRequest is the body for POST /api/v1/covenants/{id}/assess.
type AssessRequest struct {
	BorrowerID string `json:"borrower_id,omitempty"`
	Context    string `json:"context,omitempty"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if len(req.History) > 0 {
		h, err := s.eval.Health(req.Covenant, req.History)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeOK(w, h)
		return
	}

	current := math.NaN()
	if req.CurrentValue != nil {
		current = *req.CurrentValue
	}
	threshold := req.Covenant.ThresholdValue
	if req.Threshold != nil {
		threshold = *req.Threshold
	}
	res, err := s.eval.Evaluate(req.Covenant, current, threshold, req.Operator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeOK(w, EvaluateResponse{Result: res, DisplayBuffer: covenant.DisplayBuffer(res.BufferPercentage)})
}

func (s *Server) handleRatios(w http.ResponseWriter, r *http.Request) {
	var fin models.FinancialData
	if !decodeBody(w, r, &fin) {
		return
	}
	writeOK(w, covenant.ComputeRatios(fin).Rounded())
}

func (s *Server) handleListCovenants(w http.ResponseWriter, r *http.Request) {
	covs, err := s.store.ListCovenants(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, covs)
}

func (s *Server) handleContractHealth(w http.ResponseWriter, r *http.Request) {
	hs, err := s.store.ListHealth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, hs)
}

func (s *Server) handleRefreshContract(w http.ResponseWriter, r *http.Request) {
	rep, err := s.monitor.RefreshContract(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, rep)
}

func (s *Server) handleRecordFinancials(w http.ResponseWriter, r *http.Request) {
	var fin models.FinancialData
	if !decodeBody(w, r, &fin) {
		return
	}
	if fin.PeriodEnd.IsZero() {
		writeError(w, http.StatusBadRequest, "period_end is required")
		return
	}
	id := chi.URLParam(r, "id")
	n, err := s.monitor.RecordFinancials(r.Context(), id, fin)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	rep, err := s.monitor.RefreshContract(r.Context(), id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, map[string]interface{}{
		"recorded": n,
		"ratios":   covenant.ComputeRatios(fin).Rounded(),
		"report":   rep,
	})
}

func (s *Server) handleCreateCovenant(w http.ResponseWriter, r *http.Request) {
	var in models.CovenantCreateInput
	if !decodeBody(w, r, &in) {
		return
	}
	if op, ok := models.ParseOperator(string(in.Operator)); ok {
		in.Operator = op
	}
	if f, ok := models.ParseFrequency(string(in.CheckFrequency)); ok {
		in.CheckFrequency = f
	}
	if err := models.Validate(in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	cov := in.ToCovenant()
	if s.backend != nil {
		created, err := s.backend.CreateCovenant(r.Context(), in)
		if err != nil {
			s.writeErr(w, err)
			return
		}
		cov.ID = created.ID
	}
	if cov.ID == "" {
		cov.ID = uuid.New().String()
	}
	cov.CreatedAt = time.Now()
	if err := s.store.UpsertCovenant(r.Context(), cov); err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: cov})
}

func (s *Server) handleGetCovenant(w http.ResponseWriter, r *http.Request) {
	cov, err := s.store.GetCovenant(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, cov)
}

func (s *Server) handleDeleteCovenant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.backend != nil {
		if err := s.backend.DeleteCovenant(r.Context(), id); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	if err := s.store.DeleteCovenant(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, map[string]string{"deleted": id})
}

func (s *Server) handleCovenantHealth(w http.ResponseWriter, r *http.Request) {
	h, err := s.store.LatestHealth(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, h)
}

func (s *Server) handleCovenantHistory(w http.ResponseWriter, r *http.Request) {
	limit := historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	id := chi.URLParam(r, "id")
	if _, err := s.store.GetCovenant(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	points, err := s.store.MetricHistory(r.Context(), id, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, points)
}

func (s *Server) handleRecordValue(w http.ResponseWriter, r *http.Request) {
	var p models.MetricPoint
	if !decodeBody(w, r, &p) {
		return
	}
	if math.IsNaN(p.Value) || math.IsInf(p.Value, 0) {
		writeError(w, http.StatusBadRequest, "value must be finite")
		return
	}
	res, err := s.monitor.RecordValue(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, res)
}

func (s *Server) handleAssessCovenant(w http.ResponseWriter, r *http.Request) {
	var req AssessRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	cov, err := s.store.GetCovenant(ctx, id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	history, err := s.store.MetricHistory(ctx, id, historyLimit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	health, err := s.store.LatestHealth(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		health, err = s.eval.Health(cov, history)
	}
	if err != nil {
		s.writeErr(w, err)
		return
	}

	in := assessment.RiskInput{Covenant: cov, Health: health, History: history}
	if req.BorrowerID != "" {
		events, err := s.store.ListEvents(ctx, req.BorrowerID, time.Now().AddDate(-1, 0, 0))
		if err != nil {
			s.writeErr(w, err)
			return
		}
		agg := s.agg.Aggregate(events)
		in.Events = &agg
	}

	ra, err := s.assessor.AssessCovenantRisk(ctx, in, req.Context)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, ra)
}
