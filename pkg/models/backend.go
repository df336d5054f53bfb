package models

import (
	"encoding/json"
	"time"
)

// ContractStatus is the lifecycle state of a loan contract.
type ContractStatus string

const (
	ContractDraft      ContractStatus = "draft"
	ContractProcessing ContractStatus = "processing"
	ContractActive     ContractStatus = "active"
	ContractClosed     ContractStatus = "closed"
)

// Contract is a loan agreement whose covenants are monitored.
type Contract struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	BorrowerID    string         `json:"borrower_id,omitempty"`
	BorrowerName  string         `json:"borrower_name"`
	LoanAmount    float64        `json:"loan_amount,omitempty"`
	Currency      string         `json:"currency,omitempty"`
	Status        ContractStatus `json:"status"`
	DocumentURL   string         `json:"document_url,omitempty"`
	EffectiveDate *time.Time     `json:"effective_date,omitempty"`
	MaturityDate  *time.Time     `json:"maturity_date,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at,omitempty"`
}

// ContractCreateInput is the form payload for a new contract. The document is
// uploaded alongside it as multipart data.
type ContractCreateInput struct {
	Name          string  `json:"name" validate:"required,max=255"`
	BorrowerName  string  `json:"borrower_name" validate:"required,max=255"`
	BorrowerID    string  `json:"borrower_id,omitempty"`
	LoanAmount    float64 `json:"loan_amount,omitempty" validate:"gte=0"`
	Currency      string  `json:"currency,omitempty" validate:"omitempty,len=3"`
	EffectiveDate string  `json:"effective_date,omitempty"`
	MaturityDate  string  `json:"maturity_date,omitempty"`
}

// AlertStatus tracks whether someone has acted on an alert.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
)

// Alert is raised when a covenant moves to a worse status or an adverse event lands.
type Alert struct {
	ID         string       `json:"id"`
	ContractID string       `json:"contract_id,omitempty"`
	CovenantID string       `json:"covenant_id,omitempty"`
	Severity   RiskLevel    `json:"severity"`
	Title      string       `json:"title"`
	Message    string       `json:"message"`
	Status     AlertStatus  `json:"status"`
	FromStatus HealthStatus `json:"from_status,omitempty"`
	ToStatus   HealthStatus `json:"to_status,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Report is a generated compliance report for a contract.
type Report struct {
	ID         string          `json:"id"`
	ContractID string          `json:"contract_id"`
	Kind       string          `json:"kind"` // e.g., "compliance_certificate", "portfolio_summary"
	Title      string          `json:"title"`
	Content    json.RawMessage `json:"content,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AuditLog records who changed what.
type AuditLog struct {
	ID         string         `json:"id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Action     string         `json:"action"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at,omitempty"`
}

// User is a bank user of the monitoring application.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"` // "analyst", "credit_officer", "admin"
}
