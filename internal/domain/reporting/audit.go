package reporting

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/claimrecon/claimrecon/internal/domain/reconciliation"
)

// AuditEntry is one reconciliation with its claim, payer and invoice
// labels. A label is null when the linked record no longer exists.
type AuditEntry struct {
	ReconciliationID   uuid.UUID          `json:"reconciliation_id"`
	ReconciliationDate billing.Date       `json:"reconciliation_date"`
	ClaimID            uuid.UUID          `json:"claim_id"`
	ClaimNumber        *string            `json:"claim_number"`
	HMOName            *string            `json:"hmo_name"`
	InvoiceNumber      *string            `json:"invoice_number"`
	BilledAmount       decimal.Decimal    `json:"billed_amount"`
	ApprovedAmount     decimal.Decimal    `json:"approved_amount"`
	PaidAmount         decimal.Decimal    `json:"paid_amount"`
	VarianceAmount     decimal.Decimal    `json:"variance_amount"`
	VarianceReason     string             `json:"variance_reason"`
	ActionTaken        billing.Action     `json:"action_taken"`
	ResolutionStatus   billing.Resolution `json:"resolution_status"`
}

// AuditSummary holds the reconciliation totals under the audit report's
// own count key.
type AuditSummary struct {
	TotalReconciliations int             `json:"total_reconciliations"`
	TotalBilled          decimal.Decimal `json:"total_billed"`
	TotalApproved        decimal.Decimal `json:"total_approved"`
	TotalPaid            decimal.Decimal `json:"total_paid"`
	TotalVariance        decimal.Decimal `json:"total_variance"`
	AverageVariance      decimal.Decimal `json:"average_variance"`
	CollectionRate       decimal.Decimal `json:"collection_rate"`
}

func auditSummary(s reconciliation.Summary) AuditSummary {
	return AuditSummary{
		TotalReconciliations: s.TotalCount,
		TotalBilled:          s.TotalBilled,
		TotalApproved:        s.TotalApproved,
		TotalPaid:            s.TotalPaid,
		TotalVariance:        s.TotalVariance,
		AverageVariance:      s.AverageVariance,
		CollectionRate:       s.CollectionRate,
	}
}

type ReconciliationAudit struct {
	DateRange    DateRange      `json:"date_range"`
	Summary      AuditSummary   `json:"summary"`
	ByStatus     map[string]int `json:"by_status"`
	ByAction     map[string]int `json:"by_action"`
	AuditEntries []AuditEntry   `json:"audit_entries"`
}

func (e *Engine) reconciliationAudit(ctx context.Context, dr DateRange) (*ReconciliationAudit, error) {
	recs, _, err := e.store.FindReconciliations(ctx, billing.ReconciliationFilter{Reconciled: dr.filter()})
	if err != nil {
		return nil, err
	}

	claims := map[uuid.UUID]*billing.Claim{}
	if ids := uniqueIDs(len(recs), func(i int) uuid.UUID { return recs[i].ClaimID }); len(ids) > 0 {
		found, err := e.store.FindClaims(ctx, billing.ClaimFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, c := range found {
			claims[c.ID] = c
		}
	}

	linked := make([]*billing.Claim, 0, len(claims))
	for _, c := range claims {
		linked = append(linked, c)
	}
	names, err := e.providerNames(ctx, linked)
	if err != nil {
		return nil, err
	}

	invoices := map[uuid.UUID]string{}
	if ids := uniqueIDs(len(linked), func(i int) uuid.UUID { return linked[i].BillingRecordID }); len(ids) > 0 {
		records, err := e.store.FindBillingRecords(ctx, billing.BillingRecordFilter{IDs: ids})
		if err != nil {
			return nil, err
		}
		for _, b := range records {
			invoices[b.ID] = b.InvoiceNumber
		}
	}

	rep := reconciliation.Summarize(recs)
	out := &ReconciliationAudit{
		DateRange:    dr,
		Summary:      auditSummary(rep.Summary),
		ByStatus:     rep.ByStatus,
		ByAction:     rep.ByAction,
		AuditEntries: make([]AuditEntry, 0, len(recs)),
	}
	for _, r := range recs {
		entry := AuditEntry{
			ReconciliationID:   r.ID,
			ReconciliationDate: r.ReconciliationDate,
			ClaimID:            r.ClaimID,
			BilledAmount:       r.BilledAmount,
			ApprovedAmount:     r.ApprovedAmount,
			PaidAmount:         r.PaidAmount,
			VarianceAmount:     r.VarianceAmount,
			VarianceReason:     r.VarianceReason,
			ActionTaken:        r.ActionTaken,
			ResolutionStatus:   r.ResolutionStatus,
		}
		if c, ok := claims[r.ClaimID]; ok {
			entry.ClaimNumber = strPtr(c.ClaimNumber)
			if name, ok := names[c.HMOID]; ok {
				entry.HMOName = strPtr(name)
			}
			if inv, ok := invoices[c.BillingRecordID]; ok {
				entry.InvoiceNumber = strPtr(inv)
			}
		}
		out.AuditEntries = append(out.AuditEntries, entry)
	}
	return out, nil
}

func strPtr(s string) *string { return &s }
