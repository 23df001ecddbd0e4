// Package billingtest provides an in-memory billing.Store for tests.
package billingtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/google/uuid"
)

type dataset struct {
	claims    []*billing.Claim
	recs      []*billing.Reconciliation
	records   []*billing.BillingRecord
	items     []*billing.BillingItem
	providers []*billing.HMOProvider
	users     []*billing.User
}

func (d *dataset) clone() *dataset {
	cp := &dataset{
		claims:    make([]*billing.Claim, len(d.claims)),
		recs:      make([]*billing.Reconciliation, len(d.recs)),
		records:   make([]*billing.BillingRecord, len(d.records)),
		items:     make([]*billing.BillingItem, len(d.items)),
		providers: make([]*billing.HMOProvider, len(d.providers)),
		users:     make([]*billing.User, len(d.users)),
	}
	for i, c := range d.claims {
		v := *c
		cp.claims[i] = &v
	}
	for i, r := range d.recs {
		cp.recs[i] = r.Clone()
	}
	for i, b := range d.records {
		v := *b
		cp.records[i] = &v
	}
	for i, it := range d.items {
		v := *it
		cp.items[i] = &v
	}
	for i, p := range d.providers {
		v := *p
		cp.providers[i] = &v
	}
	for i, u := range d.users {
		v := *u
		cp.users[i] = &v
	}
	return cp
}

type snapshotKey struct{}

// Store keeps records in insertion order. It is safe for concurrent use.
// Snapshot freezes a copy of the data; store calls made with the snapshot
// context read that copy.
type Store struct {
	mu       sync.Mutex
	data     *dataset
	failures map[string]error
	calls    []string
	clock    time.Time
}

var _ billing.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		data:     &dataset{},
		failures: make(map[string]error),
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// Fail makes every later call to the named method return err wrapped in
// billing.ErrStoreUnavailable. A nil err clears the failure.
func (s *Store) Fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, method)
		return
	}
	s.failures[method] = err
}

// Calls returns the names of the store methods invoked so far, in order.
func (s *Store) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// tick returns a strictly increasing timestamp so creation order survives
// sorting by created_at.
func (s *Store) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

// enter records the call and returns the injected failure, if any. Callers
// hold s.mu.
func (s *Store) enter(method string) error {
	s.calls = append(s.calls, method)
	if err, ok := s.failures[method]; ok {
		return fmt.Errorf("%s: %w: %w", method, billing.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) view(ctx context.Context) *dataset {
	if d, ok := ctx.Value(snapshotKey{}).(*dataset); ok {
		return d
	}
	return s.data
}

// -- Seeding --

func (s *Store) AddClaim(c *billing.Claim) *billing.Claim {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = s.tick()
		c.UpdatedAt = c.CreatedAt
	}
	v := *c
	s.data.claims = append(s.data.claims, &v)
	return c
}

func (s *Store) AddBillingRecord(b *billing.BillingRecord) *billing.BillingRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.tick()
		b.UpdatedAt = b.CreatedAt
	}
	v := *b
	s.data.records = append(s.data.records, &v)
	return b
}

func (s *Store) AddBillingItem(it *billing.BillingItem) *billing.BillingItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	v := *it
	s.data.items = append(s.data.items, &v)
	return it
}

func (s *Store) AddProvider(p *billing.HMOProvider) *billing.HMOProvider {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.tick()
	}
	v := *p
	s.data.providers = append(s.data.providers, &v)
	return p
}

func (s *Store) AddUser(u *billing.User) *billing.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	v := *u
	s.data.users = append(s.data.users, &v)
	return u
}

// AddReconciliation stores r directly, bypassing the uniqueness check, so
// tests can seed orphaned or legacy records.
func (s *Store) AddReconciliation(r *billing.Reconciliation) *billing.Reconciliation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.tick()
		r.UpdatedAt = r.CreatedAt
	}
	s.data.recs = append(s.data.recs, r.Clone())
	return r
}

// -- billing.Store --

func (s *Store) FindClaims(ctx context.Context, f billing.ClaimFilter) ([]*billing.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindClaims"); err != nil {
		return nil, err
	}
	return s.matchClaims(s.view(ctx), f), nil
}

func (s *Store) CountClaims(ctx context.Context, f billing.ClaimFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("CountClaims"); err != nil {
		return 0, err
	}
	return len(s.matchClaims(s.view(ctx), f)), nil
}

func (s *Store) SumClaims(ctx context.Context, f billing.ClaimFilter) (billing.ClaimTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SumClaims"); err != nil {
		return billing.ClaimTotals{}, err
	}
	var t billing.ClaimTotals
	for _, c := range s.matchClaims(s.view(ctx), f) {
		t.Count++
		t.TotalAmount = t.TotalAmount.Add(c.TotalAmount)
		if c.ApprovedAmount.Valid {
			t.ApprovedAmount = t.ApprovedAmount.Add(c.ApprovedAmount.Decimal)
		}
		if c.PaymentAmount.Valid {
			t.PaymentAmount = t.PaymentAmount.Add(c.PaymentAmount.Decimal)
		}
	}
	return t, nil
}

func (s *Store) matchClaims(d *dataset, f billing.ClaimFilter) []*billing.Claim {
	ids := idSet(f.IDs)
	var reconciled map[uuid.UUID]bool
	if f.Unreconciled {
		reconciled = make(map[uuid.UUID]bool, len(d.recs))
		for _, r := range d.recs {
			reconciled[r.ClaimID] = true
		}
	}
	var out []*billing.Claim
	for _, c := range d.claims {
		if ids != nil && !ids[c.ID] {
			continue
		}
		if len(f.Statuses) > 0 && !hasStatus(f.Statuses, c.Status) {
			continue
		}
		if f.HMOID != nil && c.HMOID != *f.HMOID {
			continue
		}
		if !f.Submitted.Contains(c.SubmissionDate) {
			continue
		}
		if reconciled[c.ID] {
			continue
		}
		v := *c
		out = append(out, &v)
	}
	return out
}

func (s *Store) FindReconciliations(ctx context.Context, f billing.ReconciliationFilter) ([]*billing.Reconciliation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindReconciliations"); err != nil {
		return nil, 0, err
	}
	ids := idSet(f.IDs)
	var matched []*billing.Reconciliation
	for _, r := range s.view(ctx).recs {
		if ids != nil && !ids[r.ID] {
			continue
		}
		if f.ClaimID != nil && r.ClaimID != *f.ClaimID {
			continue
		}
		if f.Resolution != nil && r.ResolutionStatus != *f.Resolution {
			continue
		}
		if !f.Reconciled.Contains(r.ReconciliationDate) {
			continue
		}
		matched = append(matched, r.Clone())
	}
	total := len(matched)
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[f.Offset:]
		}
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (s *Store) GetReconciliation(ctx context.Context, id uuid.UUID) (*billing.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetReconciliation"); err != nil {
		return nil, err
	}
	for _, r := range s.view(ctx).recs {
		if r.ID == id {
			return r.Clone(), nil
		}
	}
	return nil, fmt.Errorf("reconciliation %s: %w", id, billing.ErrNotFound)
}

// InsertReconciliations is all-or-nothing: an injected failure stores none of
// the batch.
func (s *Store) InsertReconciliations(_ context.Context, batch []*billing.Reconciliation) (*billing.InsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertReconciliations"); err != nil {
		return nil, err
	}
	taken := make(map[uuid.UUID]bool, len(s.data.recs))
	for _, r := range s.data.recs {
		taken[r.ClaimID] = true
	}
	res := &billing.InsertResult{}
	var staged []*billing.Reconciliation
	for _, r := range batch {
		if taken[r.ClaimID] {
			res.ConflictClaims = append(res.ConflictClaims, r.ClaimID)
			continue
		}
		taken[r.ClaimID] = true
		if r.ID == uuid.Nil {
			r.ID = uuid.New()
		}
		r.CreatedAt = s.tick()
		r.UpdatedAt = r.CreatedAt
		staged = append(staged, r.Clone())
		res.Inserted = append(res.Inserted, r)
	}
	s.data.recs = append(s.data.recs, staged...)
	return res, nil
}

func (s *Store) UpdateReconciliation(_ context.Context, r *billing.Reconciliation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateReconciliation"); err != nil {
		return err
	}
	for _, existing := range s.data.recs {
		if existing.ID != r.ID {
			continue
		}
		existing.VarianceReason = r.VarianceReason
		existing.ActionTaken = r.ActionTaken
		existing.ResolutionStatus = r.ResolutionStatus
		existing.Notes = nil
		if r.Notes != nil {
			n := *r.Notes
			existing.Notes = &n
		}
		existing.UpdatedAt = s.tick()
		r.UpdatedAt = existing.UpdatedAt
		return nil
	}
	return fmt.Errorf("reconciliation %s: %w", r.ID, billing.ErrNotFound)
}

func (s *Store) FindBillingRecords(ctx context.Context, f billing.BillingRecordFilter) ([]*billing.BillingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindBillingRecords"); err != nil {
		return nil, err
	}
	return matchBillingRecords(s.view(ctx), f), nil
}

func (s *Store) SumBillingRecords(ctx context.Context, f billing.BillingRecordFilter) (billing.BillingTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("SumBillingRecords"); err != nil {
		return billing.BillingTotals{}, err
	}
	var t billing.BillingTotals
	for _, b := range matchBillingRecords(s.view(ctx), f) {
		t.Count++
		t.TotalAmount = t.TotalAmount.Add(b.TotalAmount)
		t.PaidAmount = t.PaidAmount.Add(b.PaidAmount)
		t.Balance = t.Balance.Add(b.Balance)
	}
	return t, nil
}

func matchBillingRecords(d *dataset, f billing.BillingRecordFilter) []*billing.BillingRecord {
	ids := idSet(f.IDs)
	var out []*billing.BillingRecord
	for _, b := range d.records {
		if ids != nil && !ids[b.ID] {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		if !f.Invoiced.Contains(b.InvoiceDate) {
			continue
		}
		v := *b
		out = append(out, &v)
	}
	return out
}

func (s *Store) FindBillingItems(ctx context.Context, f billing.BillingItemFilter) ([]*billing.BillingItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindBillingItems"); err != nil {
		return nil, err
	}
	var out []*billing.BillingItem
	for _, it := range s.view(ctx).items {
		if f.BillingRecordID != nil && it.BillingRecordID != *f.BillingRecordID {
			continue
		}
		v := *it
		out = append(out, &v)
	}
	return out, nil
}

func (s *Store) FindHMOProviders(ctx context.Context, f billing.HMOProviderFilter) ([]*billing.HMOProvider, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindHMOProviders"); err != nil {
		return nil, err
	}
	ids := idSet(f.IDs)
	var out []*billing.HMOProvider
	for _, p := range s.view(ctx).providers {
		if ids != nil && !ids[p.ID] {
			continue
		}
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		v := *p
		out = append(out, &v)
	}
	return out, nil
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*billing.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetUser"); err != nil {
		return nil, err
	}
	for _, u := range s.view(ctx).users {
		if u.ID == id {
			v := *u
			return &v, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", id, billing.ErrNotFound)
}

func (s *Store) Snapshot(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(snapshotKey{}).(*dataset); ok {
		return fn(ctx)
	}
	s.mu.Lock()
	if err := s.enter("Snapshot"); err != nil {
		s.mu.Unlock()
		return err
	}
	frozen := s.data.clone()
	s.mu.Unlock()
	return fn(context.WithValue(ctx, snapshotKey{}, frozen))
}

func idSet(ids []uuid.UUID) map[uuid.UUID]bool {
	if len(ids) == 0 {
		return nil
	}
	m := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func hasStatus(statuses []billing.ClaimStatus, st billing.ClaimStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}
