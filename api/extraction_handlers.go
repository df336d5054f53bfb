package api

import (
	"bytes"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/covenantwatch/covenantwatch/internal/backend"
	"github.com/covenantwatch/covenantwatch/internal/document"
	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// ExtractionRequest is the JSON body for POST /api/v1/extractions.
type ExtractionRequest struct {
	ContractID string `json:"contract_id"`
	Text       string `json:"text"`
}

// handleSubmitExtraction accepts contract text as JSON, or an uploaded
// document as multipart form data (field "document"). A multipart upload
// without a contract_id creates the contract in the backend first.
func (s *Server) handleSubmitExtraction(w http.ResponseWriter, r *http.Request) {
	var req ExtractionRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		var ok bool
		if req, ok = s.readUpload(w, r); !ok {
			return
		}
	} else if !decodeBody(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.ContractID) == "" {
		writeError(w, http.StatusBadRequest, "contract_id is required")
		return
	}
	job, err := s.tracker.Submit(req.ContractID, req.Text)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, APIResponse{Success: true, Data: job})
}

func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (ExtractionRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, document.MaxSize+1<<20)
	if err := r.ParseMultipartForm(document.MaxSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return ExtractionRequest{}, false
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, http.StatusBadRequest, "document file is required")
		return ExtractionRequest{}, false
	}
	defer file.Close()

	var raw bytes.Buffer
	if _, err := raw.ReadFrom(file); err != nil {
		writeError(w, http.StatusBadRequest, "could not read document")
		return ExtractionRequest{}, false
	}
	text, err := document.Text(header.Filename, bytes.NewReader(raw.Bytes()))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, document.ErrUnsupported) {
			status = http.StatusUnsupportedMediaType
		} else if errors.Is(err, document.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, err.Error())
		return ExtractionRequest{}, false
	}

	req := ExtractionRequest{ContractID: r.FormValue("contract_id"), Text: text}
	if req.ContractID != "" || s.backend == nil {
		return req, true
	}

	in := models.ContractCreateInput{
		Name:          r.FormValue("name"),
		BorrowerName:  r.FormValue("borrower_name"),
		BorrowerID:    r.FormValue("borrower_id"),
		Currency:      r.FormValue("currency"),
		EffectiveDate: r.FormValue("effective_date"),
		MaturityDate:  r.FormValue("maturity_date"),
	}
	if v := r.FormValue("loan_amount"); v != "" {
		amount, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "loan_amount must be a number")
			return ExtractionRequest{}, false
		}
		in.LoanAmount = amount
	}
	ct, err := s.backend.CreateContract(r.Context(), in, &backend.Document{
		Name:    header.Filename,
		Content: bytes.NewReader(raw.Bytes()),
	})
	if err != nil {
		s.writeErr(w, err)
		return ExtractionRequest{}, false
	}
	s.log.Info("contract created", zap.String("contract", ct.ID), zap.String("document", header.Filename))
	req.ContractID = ct.ID
	return req, true
}

func (s *Server) handleListExtractions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, s.tracker.List())
}

func (s *Server) handleGetExtraction(w http.ResponseWriter, r *http.Request) {
	job, err := s.tracker.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeOK(w, job)
}
