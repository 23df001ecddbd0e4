package reconciliation

import (
	"testing"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestClassifyVariance(t *testing.T) {
	tests := []struct {
		name                   string
		billed, approved, paid string
		variance               string
		reason                 string
		action                 billing.Action
		resolution             billing.Resolution
	}{
		{"fully paid", "1000.00", "1000.00", "1000.00", "0", ReasonNoVariance, billing.ActionAccepted, billing.ResolutionResolved},
		{"partial approval", "1000.00", "800.00", "800.00", "200.00", ReasonPartialApproval, billing.ActionAccepted, billing.ResolutionResolved},
		{"approved but underpaid", "1000.00", "1000.00", "900.00", "100.00", ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending},
		{"approved, 700 paid", "1000.00", "1000.00", "700.00", "300.00", ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending},
		{"approved above billed, underpaid", "1000.00", "1200.00", "900.00", "100.00", ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending},
		{"overpayment", "500.00", "500.00", "550.00", "-50.00", ReasonOverpayment, billing.ActionAdjusted, billing.ResolutionPending},
		{"nothing paid yet", "300.00", "300.00", "0", "300.00", ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending},
		{"nothing approved or paid", "300.00", "0", "0", "300.00", ReasonPartialApproval, billing.ActionAccepted, billing.ResolutionResolved},
		{"one cent short", "100.00", "100.00", "99.99", "0.01", ReasonUnderpaid, billing.ActionDisputed, billing.ResolutionPending},
		{"zero billed zero paid", "0", "0", "0", "0", ReasonNoVariance, billing.ActionAccepted, billing.ResolutionResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyVariance(d(tt.billed), d(tt.approved), d(tt.paid))
			if !got.Variance.Equal(d(tt.variance)) {
				t.Errorf("variance = %s, want %s", got.Variance, tt.variance)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
			if got.Action != tt.action {
				t.Errorf("action = %s, want %s", got.Action, tt.action)
			}
			if got.Resolution != tt.resolution {
				t.Errorf("resolution = %s, want %s", got.Resolution, tt.resolution)
			}
		})
	}
}

func TestClassifyVariance_ExactDecimal(t *testing.T) {
	// 0.1 + 0.2 is not 0.3 in binary floating point.
	paid := d("0.1").Add(d("0.2"))
	got := ClassifyVariance(d("0.3"), d("0.3"), paid)
	if got.Reason != ReasonNoVariance {
		t.Errorf("expected exact match to classify as no variance, got %q", got.Reason)
	}
}
