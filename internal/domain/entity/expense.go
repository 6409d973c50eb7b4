package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExpenseSnapshot is the view of an expense the engine evaluates rules against.
// Amount and Currency are copied onto the request at submission and never
// re-read from the expense afterwards.
type ExpenseSnapshot struct {
	ID            string          `json:"id"`
	OrgID         string          `json:"org_id"`
	SubmitterID   string          `json:"submitter_id"`
	SubmitterRole string          `json:"submitter_role"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CategoryID    string          `json:"category_id"`
	Vendor        string          `json:"vendor,omitempty"`
	PaymentMethod string          `json:"payment_method,omitempty"`
	Date          time.Time       `json:"date"`
}
