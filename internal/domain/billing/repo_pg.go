package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/claimrecon/claimrecon/internal/platform/db"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type storePG struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewStorePG returns a Postgres-backed Store. A positive timeout bounds
// every call.
func NewStorePG(pool *pgxpool.Pool, timeout time.Duration) Store {
	return &storePG{pool: pool, timeout: timeout}
}

func (s *storePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return s.pool
}

func (s *storePG) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// beginTx starts a transaction on the tenant connection, nesting as a
// savepoint when one is already open. Without a tenant connection it falls
// back to the pool.
func (s *storePG) beginTx(ctx context.Context, opts pgx.TxOptions) (context.Context, pgx.Tx, error) {
	if db.TxFromContext(ctx) != nil || db.ConnFromContext(ctx) != nil {
		return db.WithTxOptions(ctx, opts)
	}
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, err
	}
	return db.ContextWithTx(ctx, tx), tx, nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

const claimCols = `id, billing_record_id, hmo_id, claim_number, submission_date, service_date,
	total_amount, approved_amount, status, denial_reason, payment_date, payment_amount,
	created_at, updated_at`

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.BillingRecordID, &c.HMOID, &c.ClaimNumber, &c.SubmissionDate, &c.ServiceDate,
		&c.TotalAmount, &c.ApprovedAmount, &c.Status, &c.DenialReason, &c.PaymentDate, &c.PaymentAmount,
		&c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func claimQuery(f ClaimFilter) *filterQuery {
	q := newFilterQuery("claims")
	q.anyOf("id", "uuid[]", uuidStrings(f.IDs))
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		q.anyOf("status", "text[]", statuses)
	}
	if f.HMOID != nil {
		q.eq("hmo_id", *f.HMOID)
	}
	q.dateRange("submission_date", f.Submitted)
	if f.Unreconciled {
		q.raw("NOT EXISTS (SELECT 1 FROM claim_reconciliations cr WHERE cr.claim_id = claims.id)")
	}
	return q
}

func (s *storePG) FindClaims(ctx context.Context, f ClaimFilter) ([]*Claim, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := claimQuery(f)
	q.orderBy = "created_at, id"
	rows, err := s.conn(ctx).Query(ctx, q.selectSQL(claimCols), q.args...)
	if err != nil {
		return nil, storeErr("find claims", err)
	}
	defer rows.Close()
	var items []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, storeErr("scan claim", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find claims", err)
	}
	return items, nil
}

func (s *storePG) CountClaims(ctx context.Context, f ClaimFilter) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := claimQuery(f)
	var n int
	if err := s.conn(ctx).QueryRow(ctx, q.countSQL(), q.args...).Scan(&n); err != nil {
		return 0, storeErr("count claims", err)
	}
	return n, nil
}

func (s *storePG) SumClaims(ctx context.Context, f ClaimFilter) (ClaimTotals, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := claimQuery(f)
	sql := q.aggregateSQL("COUNT(*)",
		"COALESCE(SUM(total_amount), 0)",
		"COALESCE(SUM(approved_amount), 0)",
		"COALESCE(SUM(payment_amount), 0)")
	var t ClaimTotals
	err := s.conn(ctx).QueryRow(ctx, sql, q.args...).Scan(&t.Count, &t.TotalAmount, &t.ApprovedAmount, &t.PaymentAmount)
	if err != nil {
		return ClaimTotals{}, storeErr("sum claims", err)
	}
	return t, nil
}

const reconciliationCols = `id, claim_id, reconciliation_date, billed_amount, approved_amount, paid_amount,
	variance_amount, variance_reason, action_taken, resolution_status, notes, created_by,
	created_at, updated_at`

func scanReconciliation(row pgx.Row) (*Reconciliation, error) {
	var r Reconciliation
	err := row.Scan(&r.ID, &r.ClaimID, &r.ReconciliationDate, &r.BilledAmount, &r.ApprovedAmount, &r.PaidAmount,
		&r.VarianceAmount, &r.VarianceReason, &r.ActionTaken, &r.ResolutionStatus, &r.Notes, &r.CreatedBy,
		&r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (s *storePG) FindReconciliations(ctx context.Context, f ReconciliationFilter) ([]*Reconciliation, int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := newFilterQuery("claim_reconciliations")
	q.anyOf("id", "uuid[]", uuidStrings(f.IDs))
	if f.ClaimID != nil {
		q.eq("claim_id", *f.ClaimID)
	}
	if f.Resolution != nil {
		q.eq("resolution_status", string(*f.Resolution))
	}
	q.dateRange("reconciliation_date", f.Reconciled)

	var total int
	if err := s.conn(ctx).QueryRow(ctx, q.countSQL(), q.args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count reconciliations", err)
	}

	q.orderBy = "created_at, id"
	sql, args := q.pageSQL(reconciliationCols, f.Limit, f.Offset)
	rows, err := s.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, storeErr("find reconciliations", err)
	}
	defer rows.Close()
	var items []*Reconciliation
	for rows.Next() {
		r, err := scanReconciliation(rows)
		if err != nil {
			return nil, 0, storeErr("scan reconciliation", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("find reconciliations", err)
	}
	return items, total, nil
}

func (s *storePG) GetReconciliation(ctx context.Context, id uuid.UUID) (*Reconciliation, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	r, err := scanReconciliation(s.conn(ctx).QueryRow(ctx,
		`SELECT `+reconciliationCols+` FROM claim_reconciliations WHERE id = $1`, id))
	if err != nil {
		return nil, storeErr("get reconciliation", err)
	}
	return r, nil
}

func (s *storePG) InsertReconciliations(ctx context.Context, batch []*Reconciliation) (*InsertResult, error) {
	res := &InsertResult{}
	if len(batch) == 0 {
		return res, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	txCtx, tx, err := s.beginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, storeErr("begin insert", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	b := &pgx.Batch{}
	for _, r := range batch {
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		b.Queue(`
			INSERT INTO claim_reconciliations (id, claim_id, reconciliation_date, billed_amount,
				approved_amount, paid_amount, variance_amount, variance_reason, action_taken,
				resolution_status, notes, created_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
			ON CONFLICT (claim_id) DO NOTHING
			RETURNING created_at, updated_at`,
			r.ID, r.ClaimID, r.ReconciliationDate, r.BilledAmount,
			r.ApprovedAmount, r.PaidAmount, r.VarianceAmount, r.VarianceReason, string(r.ActionTaken),
			string(r.ResolutionStatus), r.Notes, r.CreatedBy)
	}

	br := tx.SendBatch(txCtx, b)
	for _, r := range batch {
		err := br.QueryRow().Scan(&r.CreatedAt, &r.UpdatedAt)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			res.ConflictClaims = append(res.ConflictClaims, r.ClaimID)
		case err != nil:
			br.Close()
			return nil, storeErr("insert reconciliation", err)
		default:
			res.Inserted = append(res.Inserted, r)
		}
	}
	if err := br.Close(); err != nil {
		return nil, storeErr("insert reconciliations", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, storeErr("commit reconciliations", err)
	}
	return res, nil
}

// UpdateReconciliation writes the mutable columns only. Amount snapshots and
// the claim link are never rewritten.
func (s *storePG) UpdateReconciliation(ctx context.Context, r *Reconciliation) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.conn(ctx).QueryRow(ctx, `
		UPDATE claim_reconciliations SET variance_reason = $2, action_taken = $3,
			resolution_status = $4, notes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, r.VarianceReason, string(r.ActionTaken), string(r.ResolutionStatus), r.Notes,
	).Scan(&r.UpdatedAt)
	if err != nil {
		return storeErr("update reconciliation", err)
	}
	return nil
}

const billingRecordCols = `id, invoice_number, invoice_date, due_date, total_amount, paid_amount,
	balance, status, created_at, updated_at`

func billingRecordQuery(f BillingRecordFilter) *filterQuery {
	q := newFilterQuery("billing_records")
	q.anyOf("id", "uuid[]", uuidStrings(f.IDs))
	q.dateRange("invoice_date", f.Invoiced)
	if f.Status != nil {
		q.eq("status", string(*f.Status))
	}
	return q
}

func (s *storePG) FindBillingRecords(ctx context.Context, f BillingRecordFilter) ([]*BillingRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := billingRecordQuery(f)
	q.orderBy = "created_at, id"
	rows, err := s.conn(ctx).Query(ctx, q.selectSQL(billingRecordCols), q.args...)
	if err != nil {
		return nil, storeErr("find billing records", err)
	}
	defer rows.Close()
	var items []*BillingRecord
	for rows.Next() {
		var b BillingRecord
		if err := rows.Scan(&b.ID, &b.InvoiceNumber, &b.InvoiceDate, &b.DueDate, &b.TotalAmount, &b.PaidAmount,
			&b.Balance, &b.Status, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, storeErr("scan billing record", err)
		}
		items = append(items, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find billing records", err)
	}
	return items, nil
}

func (s *storePG) SumBillingRecords(ctx context.Context, f BillingRecordFilter) (BillingTotals, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := billingRecordQuery(f)
	sql := q.aggregateSQL("COUNT(*)",
		"COALESCE(SUM(total_amount), 0)",
		"COALESCE(SUM(paid_amount), 0)",
		"COALESCE(SUM(balance), 0)")
	var t BillingTotals
	if err := s.conn(ctx).QueryRow(ctx, sql, q.args...).Scan(&t.Count, &t.TotalAmount, &t.PaidAmount, &t.Balance); err != nil {
		return BillingTotals{}, storeErr("sum billing records", err)
	}
	return t, nil
}

func (s *storePG) FindBillingItems(ctx context.Context, f BillingItemFilter) ([]*BillingItem, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := newFilterQuery("billing_items")
	if f.BillingRecordID != nil {
		q.eq("billing_record_id", *f.BillingRecordID)
	}
	q.orderBy = "id"
	rows, err := s.conn(ctx).Query(ctx, q.selectSQL(
		"id, billing_record_id, service_code, service_description, quantity, unit_price, total_price"), q.args...)
	if err != nil {
		return nil, storeErr("find billing items", err)
	}
	defer rows.Close()
	var items []*BillingItem
	for rows.Next() {
		var it BillingItem
		if err := rows.Scan(&it.ID, &it.BillingRecordID, &it.ServiceCode, &it.ServiceDescription,
			&it.Quantity, &it.UnitPrice, &it.TotalPrice); err != nil {
			return nil, storeErr("scan billing item", err)
		}
		items = append(items, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find billing items", err)
	}
	return items, nil
}

func (s *storePG) FindHMOProviders(ctx context.Context, f HMOProviderFilter) ([]*HMOProvider, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	q := newFilterQuery("hmo_providers")
	q.anyOf("id", "uuid[]", uuidStrings(f.IDs))
	if f.ActiveOnly {
		q.raw("is_active")
	}
	q.orderBy = "created_at, id"
	rows, err := s.conn(ctx).Query(ctx, q.selectSQL("id, name, is_active, created_at"), q.args...)
	if err != nil {
		return nil, storeErr("find hmo providers", err)
	}
	defer rows.Close()
	var items []*HMOProvider
	for rows.Next() {
		var p HMOProvider
		if err := rows.Scan(&p.ID, &p.Name, &p.IsActive, &p.CreatedAt); err != nil {
			return nil, storeErr("scan hmo provider", err)
		}
		items = append(items, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("find hmo providers", err)
	}
	return items, nil
}

func (s *storePG) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var u User
	err := s.conn(ctx).QueryRow(ctx, `SELECT id, username FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Username)
	if err != nil {
		return nil, storeErr("get user", err)
	}
	return &u, nil
}

// Snapshot runs fn inside a REPEATABLE READ READ ONLY transaction. When ctx
// already carries a transaction fn runs in it directly.
func (s *storePG) Snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if db.TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	txCtx, tx, err := s.beginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return storeErr("begin snapshot", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := fn(txCtx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("end snapshot", err)
	}
	return nil
}
