package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strconv"

	"github.com/covenantwatch/covenantwatch/pkg/models"
)

// --- auth ---

// AuthResult is the response of a successful login.
type AuthResult struct {
	AuthToken string      `json:"authToken"`
	User      models.User `json:"user"`
}

// Login exchanges credentials for a bearer token. The caller owns storing it.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	if email == "" || password == "" {
		return nil, invalid(http.MethodPost, "/auth/login", errors.New("email and password are required"))
	}
	var out AuthResult
	in := map[string]string{"email": email, "password": password}
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/login", in, &out); err != nil {
		return nil, err
	}
	if out.AuthToken == "" {
		return nil, fmt.Errorf("backend: login response carried no token")
	}
	return &out, nil
}

// Me returns the user behind the current token.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.getJSON(ctx, "/auth/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers lists application users.
func (c *Client) ListUsers(ctx context.Context, opts ListOptions) (Page[models.User], error) {
	return list[models.User](ctx, c, "/users", opts)
}

// --- contracts ---

// Document is a contract file uploaded with a new contract.
type Document struct {
	Name    string
	Content io.Reader
}

// ListContracts lists contracts, optionally filtered by status or borrower.
func (c *Client) ListContracts(ctx context.Context, opts ListOptions) (Page[models.Contract], error) {
	return list[models.Contract](ctx, c, "/contracts", opts)
}

// GetContract fetches one contract.
func (c *Client) GetContract(ctx context.Context, id string) (*models.Contract, error) {
	var ct models.Contract
	if err := c.getJSON(ctx, "/contracts/"+url.PathEscape(id), nil, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// CreateContract creates a contract as multipart form data. doc may be nil.
func (c *Client) CreateContract(ctx context.Context, in models.ContractCreateInput, doc *Document) (*models.Contract, error) {
	const path = "/contracts"
	if err := validateInput(http.MethodPost, path, in); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"name":           in.Name,
		"borrower_name":  in.BorrowerName,
		"borrower_id":    in.BorrowerID,
		"currency":       in.Currency,
		"effective_date": in.EffectiveDate,
		"maturity_date":  in.MaturityDate,
		"status":         string(models.ContractProcessing),
	}
	if in.LoanAmount > 0 {
		fields["loan_amount"] = strconv.FormatFloat(in.LoanAmount, 'f', -1, 64)
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("backend: write form field %s: %w", k, err)
		}
	}
	if doc != nil && doc.Content != nil {
		fw, err := mw.CreateFormFile("document", filepath.Base(doc.Name))
		if err != nil {
			return nil, fmt.Errorf("backend: create form file: %w", err)
		}
		if _, err := io.Copy(fw, doc.Content); err != nil {
			return nil, fmt.Errorf("backend: copy document: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("backend: close form: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, path, nil, &buf, mw.FormDataContentType())
	if err != nil {
		return nil, err
	}
	var ct models.Contract
	if err := decode(data, &ct, path); err != nil {
		return nil, err
	}
	return &ct, nil
}

// UpdateContractStatus moves a contract through its lifecycle.
func (c *Client) UpdateContractStatus(ctx context.Context, id string, status models.ContractStatus) (*models.Contract, error) {
	var ct models.Contract
	in := map[string]any{"status": status}
	if err := c.sendJSON(ctx, http.MethodPatch, "/contracts/"+url.PathEscape(id), in, &ct); err != nil {
		return nil, err
	}
	return &ct, nil
}

// DeleteContract removes a contract.
func (c *Client) DeleteContract(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/contracts/"+url.PathEscape(id), nil, nil)
}

// --- covenants ---

// ListCovenants lists the covenants of a contract. An empty contractID lists all.
func (c *Client) ListCovenants(ctx context.Context, contractID string, opts ListOptions) (Page[models.Covenant], error) {
	if contractID != "" {
		opts.Filters = withFilter(opts.Filters, "contract_id", contractID)
	}
	return list[models.Covenant](ctx, c, "/covenants", opts)
}

// AllCovenants follows pagination until every covenant of the contract is read.
func (c *Client) AllCovenants(ctx context.Context, contractID string) ([]models.Covenant, error) {
	var out []models.Covenant
	opts := ListOptions{Page: 1}
	for {
		p, err := c.ListCovenants(ctx, contractID, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, p.Items...)
		if p.NextPage == nil || *p.NextPage <= opts.Page || len(p.Items) == 0 {
			return out, nil
		}
		opts.Page = *p.NextPage
	}
}

// GetCovenant fetches one covenant.
func (c *Client) GetCovenant(ctx context.Context, id string) (*models.Covenant, error) {
	var cov models.Covenant
	if err := c.getJSON(ctx, "/covenants/"+url.PathEscape(id), nil, &cov); err != nil {
		return nil, err
	}
	return &cov, nil
}

// CreateCovenant validates and creates a covenant.
func (c *Client) CreateCovenant(ctx context.Context, in models.CovenantCreateInput) (*models.Covenant, error) {
	if err := validateInput(http.MethodPost, "/covenants", in); err != nil {
		return nil, err
	}
	var cov models.Covenant
	if err := c.sendJSON(ctx, http.MethodPost, "/covenants", in, &cov); err != nil {
		return nil, err
	}
	return &cov, nil
}

// UpdateCovenant replaces the editable fields of a covenant.
func (c *Client) UpdateCovenant(ctx context.Context, id string, in models.CovenantCreateInput) (*models.Covenant, error) {
	path := "/covenants/" + url.PathEscape(id)
	if err := validateInput(http.MethodPatch, path, in); err != nil {
		return nil, err
	}
	var cov models.Covenant
	if err := c.sendJSON(ctx, http.MethodPatch, path, in, &cov); err != nil {
		return nil, err
	}
	return &cov, nil
}

// DeleteCovenant removes a covenant.
func (c *Client) DeleteCovenant(ctx context.Context, id string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/covenants/"+url.PathEscape(id), nil, nil)
}

// SaveHealth posts a freshly computed health snapshot.
func (c *Client) SaveHealth(ctx context.Context, h models.CovenantHealth) error {
	if h.CovenantID == "" {
		return invalid(http.MethodPost, "/covenant-health", errors.New("covenant_id is required"))
	}
	return c.sendJSON(ctx, http.MethodPost, "/covenant-health", h, nil)
}

// --- alerts ---

// ListAlerts lists alerts, filterable by contract_id, severity and status.
func (c *Client) ListAlerts(ctx context.Context, opts ListOptions) (Page[models.Alert], error) {
	return list[models.Alert](ctx, c, "/alerts", opts)
}

// CreateAlert raises an alert.
func (c *Client) CreateAlert(ctx context.Context, a models.Alert) (*models.Alert, error) {
	if a.Title == "" {
		return nil, invalid(http.MethodPost, "/alerts", errors.New("title is required"))
	}
	if a.Status == "" {
		a.Status = models.AlertOpen
	}
	var out models.Alert
	if err := c.sendJSON(ctx, http.MethodPost, "/alerts", a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateAlertStatus acknowledges or resolves an alert.
func (c *Client) UpdateAlertStatus(ctx context.Context, id string, status models.AlertStatus) (*models.Alert, error) {
	var out models.Alert
	in := map[string]any{"status": status}
	if err := c.sendJSON(ctx, http.MethodPatch, "/alerts/"+url.PathEscape(id), in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- reports ---

// ListReports lists generated reports.
func (c *Client) ListReports(ctx context.Context, opts ListOptions) (Page[models.Report], error) {
	return list[models.Report](ctx, c, "/reports", opts)
}

// CreateReport stores a generated report.
func (c *Client) CreateReport(ctx context.Context, r models.Report) (*models.Report, error) {
	if r.ContractID == "" || r.Kind == "" {
		return nil, invalid(http.MethodPost, "/reports", errors.New("contract_id and kind are required"))
	}
	var out models.Report
	if err := c.sendJSON(ctx, http.MethodPost, "/reports", r, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// --- audit logs ---

// ListAuditLogs lists audit entries, filterable by entity_type and entity_id.
func (c *Client) ListAuditLogs(ctx context.Context, opts ListOptions) (Page[models.AuditLog], error) {
	return list[models.AuditLog](ctx, c, "/audit-logs", opts)
}

// CreateAuditLog records an action.
func (c *Client) CreateAuditLog(ctx context.Context, entry models.AuditLog) error {
	if entry.Action == "" || entry.EntityType == "" {
		return invalid(http.MethodPost, "/audit-logs", errors.New("action and entity_type are required"))
	}
	return c.sendJSON(ctx, http.MethodPost, "/audit-logs", entry, nil)
}

func withFilter(filters map[string]string, k, v string) map[string]string {
	out := make(map[string]string, len(filters)+1)
	for fk, fv := range filters {
		out[fk] = fv
	}
	out[k] = v
	return out
}
