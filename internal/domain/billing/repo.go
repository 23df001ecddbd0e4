package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DateRange is an inclusive calendar range. A zero bound is open.
type DateRange struct {
	From Date
	To   Date
}

// Contains reports whether d is inside the range. A zero d never matches a
// bounded range.
func (r DateRange) Contains(d Date) bool {
	if r.From.IsZero() && r.To.IsZero() {
		return true
	}
	if d.IsZero() {
		return false
	}
	if !r.From.IsZero() && d.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && d.After(r.To) {
		return false
	}
	return true
}

type ClaimFilter struct {
	IDs       []uuid.UUID
	Statuses  []ClaimStatus
	HMOID     *uuid.UUID
	Submitted DateRange
	// Unreconciled keeps only claims no reconciliation references yet.
	Unreconciled bool
}

// ClaimTotals is the sum aggregate over a claim filter. Null amounts are
// skipped.
type ClaimTotals struct {
	Count          int
	TotalAmount    decimal.Decimal
	ApprovedAmount decimal.Decimal
	PaymentAmount  decimal.Decimal
}

type ReconciliationFilter struct {
	IDs        []uuid.UUID
	ClaimID    *uuid.UUID
	Resolution *Resolution
	Reconciled DateRange
	Limit      int
	Offset     int
}

type BillingRecordFilter struct {
	IDs      []uuid.UUID
	Invoiced DateRange
	Status   *BillingStatus
}

type BillingTotals struct {
	Count       int
	TotalAmount decimal.Decimal
	PaidAmount  decimal.Decimal
	Balance     decimal.Decimal
}

type HMOProviderFilter struct {
	IDs        []uuid.UUID
	ActiveOnly bool
}

type BillingItemFilter struct {
	BillingRecordID *uuid.UUID
}

// InsertResult reports which reconciliations of a batch were stored and which
// claims already had one.
type InsertResult struct {
	Inserted       []*Reconciliation
	ConflictClaims []uuid.UUID
}

// Store is the record store the engine reads and writes through. Every
// method that fails for reasons other than bad input or a missing record
// wraps ErrStoreUnavailable.
type Store interface {
	FindClaims(ctx context.Context, f ClaimFilter) ([]*Claim, error)
	CountClaims(ctx context.Context, f ClaimFilter) (int, error)
	SumClaims(ctx context.Context, f ClaimFilter) (ClaimTotals, error)

	FindReconciliations(ctx context.Context, f ReconciliationFilter) ([]*Reconciliation, int, error)
	GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error)
	// InsertReconciliations stores the batch atomically. A reconciliation
	// whose claim already has one is left out and reported in
	// ConflictClaims; any other failure stores nothing.
	InsertReconciliations(ctx context.Context, batch []*Reconciliation) (*InsertResult, error)
	UpdateReconciliation(ctx context.Context, r *Reconciliation) error

	FindBillingRecords(ctx context.Context, f BillingRecordFilter) ([]*BillingRecord, error)
	SumBillingRecords(ctx context.Context, f BillingRecordFilter) (BillingTotals, error)
	FindBillingItems(ctx context.Context, f BillingItemFilter) ([]*BillingItem, error)

	// FindHMOProviders returns providers in creation order.
	FindHMOProviders(ctx context.Context, f HMOProviderFilter) ([]*HMOProvider, error)

	GetUser(ctx context.Context, id uuid.UUID) (*User, error)

	// Snapshot runs fn against a consistent read-only view. Store calls made
	// with the ctx passed to fn observe that view.
	Snapshot(ctx context.Context, fn func(ctx context.Context) error) error
}
