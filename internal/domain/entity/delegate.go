package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ApprovalDelegate lets DelegateID act for DelegatorID inside [StartDate, EndDate).
// Nil dates are open-ended; nil AmountLimit and empty CategoryIDs do not restrict.
type ApprovalDelegate struct {
	ID          string           `json:"id"`
	OrgID       string           `json:"org_id"`
	DelegatorID string           `json:"delegator_id"`
	DelegateID  string           `json:"delegate_id"`
	IsActive    bool             `json:"is_active"`
	StartDate   *time.Time       `json:"start_date,omitempty"`
	EndDate     *time.Time       `json:"end_date,omitempty"`
	AmountLimit *decimal.Decimal `json:"amount_limit,omitempty"`
	CategoryIDs []string         `json:"category_ids,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}

// OrgUser is a member of an organization's directory
type OrgUser struct {
	ID         string `json:"id"`
	OrgID      string `json:"org_id"`
	Name       string `json:"name,omitempty"`
	Role       string `json:"role"`
	ManagerID  string `json:"manager_id,omitempty"`
	LarkOpenID string `json:"lark_open_id,omitempty"`
}
