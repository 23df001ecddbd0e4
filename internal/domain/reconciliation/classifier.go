package reconciliation

import (
	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/shopspring/decimal"
)

const (
	ReasonNoVariance      = "No variance"
	ReasonPartialApproval = "Partial approval by HMO"
	ReasonUnderpaid       = "Approved but underpaid"
	ReasonOverpayment     = "Overpayment"
)

// Classification is the outcome of scoring one claim's amounts.
type Classification struct {
	Variance   decimal.Decimal    `json:"variance_amount"`
	Reason     string             `json:"variance_reason"`
	Action     billing.Action     `json:"action_taken"`
	Resolution billing.Resolution `json:"resolution_status"`
}

// ClassifyVariance scores billed against approved and paid. Variance is
// billed minus paid; callers pass zero for absent amounts.
func ClassifyVariance(billed, approved, paid decimal.Decimal) Classification {
	variance := billed.Sub(paid)
	switch variance.Sign() {
	case 0:
		return Classification{variance, ReasonNoVariance, billing.ActionAccepted, billing.ResolutionResolved}
	case -1:
		return Classification{variance, ReasonOverpayment, billing.ActionAdjusted, billing.ResolutionPending}
	}
	if approved.LessThan(billed) {
		return Classification{variance, ReasonPartialApproval, billing.ActionAccepted, billing.ResolutionResolved}
	}
	return Classification{variance, ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending}
}
