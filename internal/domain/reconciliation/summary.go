package reconciliation

import (
	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/shopspring/decimal"
)

// Summary aggregates a set of reconciliations.
type Summary struct {
	TotalCount      int             `json:"total_count"`
	TotalBilled     decimal.Decimal `json:"total_billed"`
	TotalApproved   decimal.Decimal `json:"total_approved"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	TotalVariance   decimal.Decimal `json:"total_variance"`
	AverageVariance decimal.Decimal `json:"average_variance"`
	CollectionRate  decimal.Decimal `json:"collection_rate"`
}

// Report is the summary plus counts by resolution status and by action.
type Report struct {
	Summary  Summary        `json:"summary"`
	ByStatus map[string]int `json:"by_status"`
	ByAction map[string]int `json:"by_action"`
}

// Summarize computes the reconciliation report over recs.
func Summarize(recs []*billing.Reconciliation) Report {
	rep := Report{
		ByStatus: make(map[string]int),
		ByAction: make(map[string]int),
	}
	s := &rep.Summary
	for _, r := range recs {
		s.TotalCount++
		s.TotalBilled = s.TotalBilled.Add(r.BilledAmount)
		s.TotalApproved = s.TotalApproved.Add(r.ApprovedAmount)
		s.TotalPaid = s.TotalPaid.Add(r.PaidAmount)
		s.TotalVariance = s.TotalVariance.Add(r.VarianceAmount)
		rep.ByStatus[string(r.ResolutionStatus)]++
		rep.ByAction[string(r.ActionTaken)]++
	}
	s.AverageVariance = billing.Mean(s.TotalVariance, s.TotalCount)
	s.CollectionRate = billing.Percent(s.TotalPaid, s.TotalBilled)
	return rep
}
