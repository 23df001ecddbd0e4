package reporting

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
)

type HMOStats struct {
	HMOID                   uuid.UUID        `json:"hmo_id"`
	HMOName                 string           `json:"hmo_name"`
	TotalClaims             int              `json:"total_claims"`
	ApprovedClaims          int              `json:"approved_claims"`
	PartiallyApprovedClaims int              `json:"partially_approved_claims"`
	DeniedClaims            int              `json:"denied_claims"`
	PendingClaims           int              `json:"pending_claims"`
	ApprovalRate            decimal.Decimal  `json:"approval_rate"`
	TotalBilled             decimal.Decimal  `json:"total_billed"`
	TotalApproved           decimal.Decimal  `json:"total_approved"`
	TotalPaid               decimal.Decimal  `json:"total_paid"`
	PaymentRate             decimal.Decimal  `json:"payment_rate"`
	AvgProcessingTimeDays   *decimal.Decimal `json:"avg_processing_time_days"`
}

type HMOPerformance struct {
	DateRange      DateRange   `json:"date_range"`
	HMOPerformance []*HMOStats `json:"hmo_performance"`
}

type hmoAccumulator struct {
	stats          *HMOStats
	processingDays int
	paidClaims     int
}

func (a *hmoAccumulator) add(c *billing.Claim) {
	s := a.stats
	s.TotalClaims++
	s.TotalBilled = s.TotalBilled.Add(c.TotalAmount)
	switch c.Status {
	case billing.ClaimApproved:
		s.ApprovedClaims++
	case billing.ClaimPartiallyApproved:
		s.PartiallyApprovedClaims++
	case billing.ClaimDenied:
		s.DeniedClaims++
	case billing.ClaimPending:
		s.PendingClaims++
	}
	if c.IsApproved() && c.ApprovedAmount.Valid {
		s.TotalApproved = s.TotalApproved.Add(c.ApprovedAmount.Decimal)
	}
	if c.PaymentAmount.Valid {
		s.TotalPaid = s.TotalPaid.Add(c.PaymentAmount.Decimal)
	}
	if c.PaymentDate != nil && !c.PaymentDate.IsZero() {
		a.processingDays += c.PaymentDate.DaysSince(c.SubmissionDate)
		a.paidClaims++
	}
}

func (a *hmoAccumulator) finish() *HMOStats {
	s := a.stats
	s.ApprovalRate = billing.PercentOf(s.ApprovedClaims+s.PartiallyApprovedClaims, s.TotalClaims)
	s.PaymentRate = billing.Percent(s.TotalPaid, s.TotalBilled)
	if a.paidClaims > 0 {
		avg := billing.Mean(decimal.NewFromInt(int64(a.processingDays)), a.paidClaims)
		s.AvgProcessingTimeDays = &avg
	}
	return s
}

func (e *Engine) hmoPerformance(ctx context.Context, dr DateRange) (*HMOPerformance, error) {
	providers, err := e.store.FindHMOProviders(ctx, billing.HMOProviderFilter{})
	if err != nil {
		return nil, err
	}
	claims, err := e.store.FindClaims(ctx, billing.ClaimFilter{Submitted: dr.filter()})
	if err != nil {
		return nil, err
	}

	byHMO := make(map[uuid.UUID]*hmoAccumulator, len(providers))
	for _, p := range providers {
		byHMO[p.ID] = &hmoAccumulator{stats: &HMOStats{HMOID: p.ID, HMOName: p.Name}}
	}
	for _, c := range claims {
		if acc, ok := byHMO[c.HMOID]; ok {
			acc.add(c)
		}
	}

	out := &HMOPerformance{DateRange: dr, HMOPerformance: []*HMOStats{}}
	for _, p := range providers {
		acc := byHMO[p.ID]
		if acc.stats.TotalClaims == 0 {
			continue
		}
		out.HMOPerformance = append(out.HMOPerformance, acc.finish())
	}
	sort.SliceStable(out.HMOPerformance, func(i, j int) bool {
		return out.HMOPerformance[i].ApprovalRate.GreaterThan(out.HMOPerformance[j].ApprovalRate)
	})
	return out, nil
}
