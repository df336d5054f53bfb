package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/covenantwatch/covenantwatch/internal/assessment"
	"github.com/covenantwatch/covenantwatch/internal/news"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// AggregateRequest is the body for POST /api/v1/risk/aggregate.
type AggregateRequest struct {
	Events []models.AdverseEvent `json:"events"`
}

// ImpactRequest is the body for POST /api/v1/risk/impact. Covenants may be
// given inline or loaded from a locally known contract.
type ImpactRequest struct {
	Event        models.AdverseEvent `json:"event"`
	Covenants    []models.Covenant   `json:"covenants,omitempty"`
	ContractID   string              `json:"contract_id,omitempty"`
	BorrowerName string              `json:"borrower_name,omitempty"`
	Notes        string              `json:"notes,omitempty"`
}

// BorrowerRequest names the borrower in news and profile requests.
type BorrowerRequest struct {
	Name       string   `json:"name"`
	Aliases    []string `json:"aliases,omitempty"`
	ContractID string   `json:"contract_id,omitempty"`
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	var req AggregateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeOK(w, s.agg.Aggregate(req.Events))
}

func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	var req ImpactRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Event.Title) == "" {
		writeError(w, http.StatusBadRequest, "event.title is required")
		return
	}
	covs := req.Covenants
	if len(covs) == 0 && req.ContractID != "" {
		var err error
		if covs, err = s.store.ListCovenants(r.Context(), req.ContractID); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	impact, err := s.assessor.AssessEventImpact(r.Context(), req.Event, assessment.EventContext{
		BorrowerName: req.BorrowerName,
		Covenants:    covs,
		Notes:        req.Notes,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, impact)
}

func (s *Server) handleIngestNews(w http.ResponseWriter, r *http.Request) {
	var req BorrowerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	res, err := s.scanner.Ingest(r.Context(), s.store, news.Borrower{
		ID:      chi.URLParam(r, "id"),
		Name:    req.Name,
		Aliases: req.Aliases,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, res)
}

// handleAddEvent records a manually reported adverse event.
func (s *Server) handleAddEvent(w http.ResponseWriter, r *http.Request) {
	var e models.AdverseEvent
	if !decodeBody(w, r, &e) {
		return
	}
	if strings.TrimSpace(e.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if e.RiskScore < 1 || e.RiskScore > 10 {
		writeError(w, http.StatusBadRequest, "risk_score must be between 1 and 10")
		return
	}
	e.BorrowerID = chi.URLParam(r, "id")
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.EventType == "" {
		e.EventType = models.EventOther
	}
	now := time.Now()
	if e.EventDate.IsZero() {
		e.EventDate = now
	}
	e.CreatedAt = now

	added, err := s.store.AddEvent(r.Context(), e)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	if !added {
		writeError(w, http.StatusConflict, "event already recorded")
		return
	}
	writeJSON(w, http.StatusCreated, APIResponse{Success: true, Data: e})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be YYYY-MM-DD")
			return
		}
		since = t
	}
	events, err := s.store.ListEvents(r.Context(), chi.URLParam(r, "id"), since)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, events)
}

func (s *Server) handleBorrowerProfile(w http.ResponseWriter, r *http.Request) {
	var req BorrowerRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}
	var covs []models.Covenant
	if req.ContractID != "" {
		var err error
		if covs, err = s.store.ListCovenants(r.Context(), req.ContractID); err != nil {
			s.writeErr(w, err)
			return
		}
	}
	p, err := s.monitor.BorrowerProfile(r.Context(), chi.URLParam(r, "id"), req.Name, covs)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, p)
}
