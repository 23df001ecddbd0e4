package reporting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
)

type BillingSummary struct {
	TotalBilled        decimal.Decimal `json:"total_billed"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	CollectionRate     decimal.Decimal `json:"collection_rate"`
}

type ClaimsSummary struct {
	TotalClaims             int             `json:"total_claims"`
	PendingClaims           int             `json:"pending_claims"`
	ApprovedClaims          int             `json:"approved_claims"`
	PartiallyApprovedClaims int             `json:"partially_approved_claims"`
	DeniedClaims            int             `json:"denied_claims"`
	ApprovalRate            decimal.Decimal `json:"approval_rate"`
	TotalClaimAmount        decimal.Decimal `json:"total_claim_amount"`
	ApprovedClaimAmount     decimal.Decimal `json:"approved_claim_amount"`
}

type FinancialSummary struct {
	DateRange      DateRange      `json:"date_range"`
	BillingSummary BillingSummary `json:"billing_summary"`
	ClaimsSummary  ClaimsSummary  `json:"claims_summary"`
}

// financialSummary uses the store's count and sum aggregates; no claim rows
// are loaded.
func (e *Engine) financialSummary(ctx context.Context, dr DateRange) (*FinancialSummary, error) {
	window := dr.filter()

	bt, err := e.store.SumBillingRecords(ctx, billing.BillingRecordFilter{Invoiced: window})
	if err != nil {
		return nil, err
	}

	all, err := e.store.SumClaims(ctx, billing.ClaimFilter{Submitted: window})
	if err != nil {
		return nil, err
	}
	approved, err := e.store.SumClaims(ctx, billing.ClaimFilter{
		Submitted: window,
		Statuses:  []billing.ClaimStatus{billing.ClaimApproved, billing.ClaimPartiallyApproved},
	})
	if err != nil {
		return nil, err
	}

	counts := make(map[billing.ClaimStatus]int, len(billing.ClaimStatuses))
	for _, st := range billing.ClaimStatuses {
		n, err := e.store.CountClaims(ctx, billing.ClaimFilter{
			Submitted: window,
			Statuses:  []billing.ClaimStatus{st},
		})
		if err != nil {
			return nil, err
		}
		counts[st] = n
	}

	return &FinancialSummary{
		DateRange: dr,
		BillingSummary: BillingSummary{
			TotalBilled:        bt.TotalAmount,
			TotalPaid:          bt.PaidAmount,
			OutstandingBalance: bt.Balance,
			CollectionRate:     billing.Percent(bt.PaidAmount, bt.TotalAmount),
		},
		ClaimsSummary: ClaimsSummary{
			TotalClaims:             all.Count,
			PendingClaims:           counts[billing.ClaimPending],
			ApprovedClaims:          counts[billing.ClaimApproved],
			PartiallyApprovedClaims: counts[billing.ClaimPartiallyApproved],
			DeniedClaims:            counts[billing.ClaimDenied],
			ApprovalRate:            billing.PercentOf(counts[billing.ClaimApproved], all.Count),
			TotalClaimAmount:        all.TotalAmount,
			ApprovedClaimAmount:     approved.ApprovedAmount,
		},
	}, nil
}
