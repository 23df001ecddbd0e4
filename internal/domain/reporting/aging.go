package reporting

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
)

// AgingBucket is an inclusive range of claim ages in days.
type AgingBucket struct {
	Name    string
	MinDays int
	MaxDays int
}

// AgingBuckets partition open claims by days since submission. Claims older
// than the last bound or dated in the future fall in no bucket.
var AgingBuckets = []AgingBucket{
	{"0-30", 0, 30},
	{"31-60", 31, 60},
	{"61-90", 61, 90},
	{"91-120", 91, 120},
	{"over_120", 121, 9999},
}

type BucketTotals struct {
	ClaimsCount  int             `json:"claims_count"`
	ClaimsAmount decimal.Decimal `json:"claims_amount"`
}

type ClaimAging struct {
	ReportDate         billing.Date             `json:"report_date"`
	TotalPendingClaims int                      `json:"total_pending_claims"`
	TotalPendingAmount decimal.Decimal          `json:"total_pending_amount"`
	AgingBuckets       map[string]*BucketTotals `json:"aging_buckets"`
}

func (e *Engine) claimAging(ctx context.Context, today billing.Date) (*ClaimAging, error) {
	claims, err := e.store.FindClaims(ctx, billing.ClaimFilter{
		Statuses: []billing.ClaimStatus{billing.ClaimPending, billing.ClaimPartiallyApproved},
	})
	if err != nil {
		return nil, err
	}

	out := &ClaimAging{
		ReportDate:   today,
		AgingBuckets: make(map[string]*BucketTotals, len(AgingBuckets)),
	}
	for _, b := range AgingBuckets {
		out.AgingBuckets[b.Name] = &BucketTotals{}
	}

	for _, c := range claims {
		out.TotalPendingClaims++
		out.TotalPendingAmount = out.TotalPendingAmount.Add(c.TotalAmount)

		age := today.DaysSince(c.SubmissionDate)
		for _, b := range AgingBuckets {
			if age >= b.MinDays && age <= b.MaxDays {
				t := out.AgingBuckets[b.Name]
				t.ClaimsCount++
				t.ClaimsAmount = t.ClaimsAmount.Add(c.TotalAmount)
				break
			}
		}
	}
	return out, nil
}
