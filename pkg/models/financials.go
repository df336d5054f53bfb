package models

import "time"

// FinancialData is one reporting period of a borrower's figures, in a single currency unit.
type FinancialData struct {
	Period             string    `json:"period"` // e.g., "Q2 2025"
	PeriodEnd          time.Time `json:"period_end"`
	Revenue            float64   `json:"revenue"`
	EBITDA             float64   `json:"ebitda"`
	EBIT               float64   `json:"ebit"`
	NetIncome          float64   `json:"net_income"`
	InterestExpense    float64   `json:"interest_expense"`
	TotalDebt          float64   `json:"total_debt"`
	TotalEquity        float64   `json:"total_equity"`
	TotalAssets        float64   `json:"total_assets"`
	CurrentAssets      float64   `json:"current_assets"`
	CurrentLiabilities float64   `json:"current_liabilities"`
	DebtService        float64   `json:"debt_service,omitempty"` // principal + interest due in period
}
