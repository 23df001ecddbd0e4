package reporting

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
)

const unspecifiedReason = "Unspecified"

type DenialReason struct {
	Reason string          `json:"reason"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type HMODenials struct {
	HMO    string          `json:"hmo"`
	Count  int             `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

type DenialAnalysis struct {
	DateRange     DateRange       `json:"date_range"`
	TotalClaims   int             `json:"total_claims"`
	DeniedClaims  int             `json:"denied_claims"`
	DenialRate    decimal.Decimal `json:"denial_rate"`
	DenialReasons []DenialReason  `json:"denial_reasons"`
	DenialsByHMO  []HMODenials    `json:"denials_by_hmo"`
}

// tally counts and sums by label, keeping first-seen order.
type tally struct {
	order  []string
	counts map[string]int
	sums   map[string]decimal.Decimal
}

func newTally() *tally {
	return &tally{counts: map[string]int{}, sums: map[string]decimal.Decimal{}}
}

func (t *tally) add(label string, amount decimal.Decimal) {
	if _, ok := t.counts[label]; !ok {
		t.order = append(t.order, label)
	}
	t.counts[label]++
	t.sums[label] = t.sums[label].Add(amount)
}

// sorted returns labels by count descending, ties in first-seen order.
func (t *tally) sorted() []string {
	labels := append([]string(nil), t.order...)
	sort.SliceStable(labels, func(i, j int) bool {
		return t.counts[labels[i]] > t.counts[labels[j]]
	})
	return labels
}

func (e *Engine) denialAnalysis(ctx context.Context, dr DateRange) (*DenialAnalysis, error) {
	window := dr.filter()

	total, err := e.store.CountClaims(ctx, billing.ClaimFilter{Submitted: window})
	if err != nil {
		return nil, err
	}
	denied, err := e.store.FindClaims(ctx, billing.ClaimFilter{
		Submitted: window,
		Statuses:  []billing.ClaimStatus{billing.ClaimDenied},
	})
	if err != nil {
		return nil, err
	}

	names, err := e.providerNames(ctx, denied)
	if err != nil {
		return nil, err
	}

	reasons, payers := newTally(), newTally()
	for _, c := range denied {
		reason := unspecifiedReason
		if c.DenialReason != nil && *c.DenialReason != "" {
			reason = *c.DenialReason
		}
		reasons.add(reason, c.TotalAmount)

		payer, ok := names[c.HMOID]
		if !ok {
			payer = fmt.Sprintf("HMO ID %s", c.HMOID)
		}
		payers.add(payer, c.TotalAmount)
	}

	out := &DenialAnalysis{
		DateRange:     dr,
		TotalClaims:   total,
		DeniedClaims:  len(denied),
		DenialRate:    billing.PercentOf(len(denied), total),
		DenialReasons: []DenialReason{},
		DenialsByHMO:  []HMODenials{},
	}
	for _, r := range reasons.sorted() {
		out.DenialReasons = append(out.DenialReasons, DenialReason{Reason: r, Count: reasons.counts[r], Amount: reasons.sums[r]})
	}
	for _, p := range payers.sorted() {
		out.DenialsByHMO = append(out.DenialsByHMO, HMODenials{HMO: p, Count: payers.counts[p], Amount: payers.sums[p]})
	}
	return out, nil
}

// providerNames resolves the HMO names referenced by claims. Missing
// providers are simply absent from the map.
func (e *Engine) providerNames(ctx context.Context, claims []*billing.Claim) (map[uuid.UUID]string, error) {
	names := map[uuid.UUID]string{}
	ids := uniqueIDs(len(claims), func(i int) uuid.UUID { return claims[i].HMOID })
	if len(ids) == 0 {
		return names, nil
	}
	providers, err := e.store.FindHMOProviders(ctx, billing.HMOProviderFilter{IDs: ids})
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		names[p.ID] = p.Name
	}
	return names, nil
}

func uniqueIDs(n int, at func(i int) uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, n)
	var ids []uuid.UUID
	for i := 0; i < n; i++ {
		id := at(i)
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}
