package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/claimrecon/claimrecon/internal/domain/billing"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SkipConflict marks a claim that already had a reconciliation when the
// batch was committed.
const SkipConflict = "conflict"

type Skip struct {
	ClaimID uuid.UUID `json:"claim_id"`
	Reason  string    `json:"reason"`
}

type AutoReconcileResult struct {
	Created []*billing.Reconciliation `json:"created"`
	Skipped []Skip                    `json:"skipped"`
}

// CreateInput is a manual reconciliation. Amounts are required; reason,
// action and resolution default to the classifier's verdict.
type CreateInput struct {
	ClaimID            uuid.UUID           `json:"claim_id"`
	ReconciliationDate *billing.Date       `json:"reconciliation_date"`
	BilledAmount       *decimal.Decimal    `json:"billed_amount"`
	ApprovedAmount     *decimal.Decimal    `json:"approved_amount"`
	PaidAmount         *decimal.Decimal    `json:"paid_amount"`
	VarianceReason     *string             `json:"variance_reason"`
	ActionTaken        *billing.Action     `json:"action_taken"`
	ResolutionStatus   *billing.Resolution `json:"resolution_status"`
	Notes              *string             `json:"notes"`
}

// ReconciliationPatch lists the fields a reconciliation may change after
// creation. Nil fields are left as they are.
type ReconciliationPatch struct {
	VarianceReason   *string             `json:"variance_reason"`
	ActionTaken      *billing.Action     `json:"action_taken"`
	ResolutionStatus *billing.Resolution `json:"resolution_status"`
	Notes            *string             `json:"notes"`
}

type Service struct {
	store   billing.Store
	logger  zerolog.Logger
	metrics *Metrics
}

func NewService(store billing.Store, logger zerolog.Logger, metrics *Metrics) *Service {
	return &Service{
		store:   store,
		logger:  logger.With().Str("component", "reconciliation").Logger(),
		metrics: metrics,
	}
}

func (s *Service) resolveActor(ctx context.Context, actorID uuid.UUID) error {
	if actorID == uuid.Nil {
		return fmt.Errorf("resolve actor: %w", billing.ErrNotFound)
	}
	if _, err := s.store.GetUser(ctx, actorID); err != nil {
		return fmt.Errorf("resolve actor %s: %w", actorID, err)
	}
	return nil
}

// AutoReconcile creates a reconciliation for every approved or partially
// approved claim that has none. The batch is stored atomically; claims
// reconciled concurrently by someone else come back in Skipped.
func (s *Service) AutoReconcile(ctx context.Context, actorID uuid.UUID, now time.Time) (*AutoReconcileResult, error) {
	start := time.Now()
	if err := s.resolveActor(ctx, actorID); err != nil {
		s.metrics.observeRun("rejected")
		return nil, err
	}

	claims, err := s.store.FindClaims(ctx, billing.ClaimFilter{
		Statuses:     []billing.ClaimStatus{billing.ClaimApproved, billing.ClaimPartiallyApproved},
		Unreconciled: true,
	})
	if err != nil {
		s.metrics.observeRun("failed")
		return nil, fmt.Errorf("select eligible claims: %w", err)
	}

	result := &AutoReconcileResult{
		Created: []*billing.Reconciliation{},
		Skipped: []Skip{},
	}
	if len(claims) == 0 {
		s.metrics.observeRun("empty")
		s.logger.Info().Str("actor", actorID.String()).Msg("auto-reconcile found no eligible claims")
		return result, nil
	}

	notes := "Auto-reconciled on " + now.UTC().Format(time.RFC3339)
	batch := make([]*billing.Reconciliation, 0, len(claims))
	for _, c := range claims {
		batch = append(batch, fromClaim(c, billing.DateOf(now), actorID, notes))
	}

	res, err := s.store.InsertReconciliations(ctx, batch)
	if err != nil {
		s.metrics.observeRun("failed")
		s.logger.Error().Err(err).Int("batch", len(batch)).Msg("auto-reconcile batch rolled back")
		return nil, fmt.Errorf("store reconciliations: %w", err)
	}

	result.Created = append(result.Created, res.Inserted...)
	for _, id := range res.ConflictClaims {
		result.Skipped = append(result.Skipped, Skip{ClaimID: id, Reason: SkipConflict})
	}
	for _, r := range res.Inserted {
		s.metrics.observeCreated(r.VarianceReason)
	}
	s.metrics.observeSkipped(len(res.ConflictClaims))
	s.metrics.observeRun("ok")

	s.logger.Info().
		Str("actor", actorID.String()).
		Int("created", len(result.Created)).
		Int("skipped", len(result.Skipped)).
		Dur("duration", time.Since(start)).
		Msg("auto-reconcile complete")
	return result, nil
}

func fromClaim(c *billing.Claim, day billing.Date, actorID uuid.UUID, notes string) *billing.Reconciliation {
	billed := c.TotalAmount
	approved := decimal.Zero
	if c.ApprovedAmount.Valid {
		approved = c.ApprovedAmount.Decimal
	}
	paid := decimal.Zero
	if c.PaymentAmount.Valid {
		paid = c.PaymentAmount.Decimal
	}
	cls := ClassifyVariance(billed, approved, paid)
	n := notes
	return &billing.Reconciliation{
		ClaimID:            c.ID,
		ReconciliationDate: day,
		BilledAmount:       billed,
		ApprovedAmount:     approved,
		PaidAmount:         paid,
		VarianceAmount:     cls.Variance,
		VarianceReason:     cls.Reason,
		ActionTaken:        cls.Action,
		ResolutionStatus:   cls.Resolution,
		Notes:              &n,
		CreatedBy:          actorID,
	}
}

func (in *CreateInput) validate() error {
	if in.ClaimID == uuid.Nil {
		return fmt.Errorf("%w: claim_id is required", billing.ErrValidation)
	}
	if in.BilledAmount == nil || in.ApprovedAmount == nil || in.PaidAmount == nil {
		return fmt.Errorf("%w: billed_amount, approved_amount and paid_amount are required", billing.ErrValidation)
	}
	if !in.BilledAmount.IsPositive() {
		return fmt.Errorf("%w: billed_amount must be positive", billing.ErrValidation)
	}
	if in.ApprovedAmount.IsNegative() || in.PaidAmount.IsNegative() {
		return fmt.Errorf("%w: approved_amount and paid_amount must not be negative", billing.ErrValidation)
	}
	if in.ActionTaken != nil && !in.ActionTaken.Valid() {
		return fmt.Errorf("%w: invalid action_taken %q", billing.ErrValidation, *in.ActionTaken)
	}
	if in.ResolutionStatus != nil && !in.ResolutionStatus.Valid() {
		return fmt.Errorf("%w: invalid resolution_status %q", billing.ErrValidation, *in.ResolutionStatus)
	}
	return nil
}

// Create stores a manual reconciliation for one claim.
func (s *Service) Create(ctx context.Context, in CreateInput, actorID uuid.UUID, now time.Time) (*billing.Reconciliation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	claims, err := s.store.FindClaims(ctx, billing.ClaimFilter{IDs: []uuid.UUID{in.ClaimID}})
	if err != nil {
		return nil, fmt.Errorf("load claim: %w", err)
	}
	if len(claims) == 0 {
		return nil, fmt.Errorf("claim %s: %w", in.ClaimID, billing.ErrNotFound)
	}
	if err := s.resolveActor(ctx, actorID); err != nil {
		return nil, err
	}

	cls := ClassifyVariance(*in.BilledAmount, *in.ApprovedAmount, *in.PaidAmount)
	r := &billing.Reconciliation{
		ClaimID:            in.ClaimID,
		ReconciliationDate: billing.DateOf(now),
		BilledAmount:       *in.BilledAmount,
		ApprovedAmount:     *in.ApprovedAmount,
		PaidAmount:         *in.PaidAmount,
		VarianceAmount:     cls.Variance,
		VarianceReason:     cls.Reason,
		ActionTaken:        cls.Action,
		ResolutionStatus:   cls.Resolution,
		Notes:              in.Notes,
		CreatedBy:          actorID,
	}
	if in.ReconciliationDate != nil && !in.ReconciliationDate.IsZero() {
		r.ReconciliationDate = *in.ReconciliationDate
	}
	if in.VarianceReason != nil {
		r.VarianceReason = *in.VarianceReason
	}
	if in.ActionTaken != nil {
		r.ActionTaken = *in.ActionTaken
	}
	if in.ResolutionStatus != nil {
		r.ResolutionStatus = *in.ResolutionStatus
	}

	res, err := s.store.InsertReconciliations(ctx, []*billing.Reconciliation{r})
	if err != nil {
		return nil, fmt.Errorf("store reconciliation: %w", err)
	}
	if len(res.Inserted) == 0 {
		return nil, fmt.Errorf("claim %s already reconciled: %w", in.ClaimID, billing.ErrConflict)
	}
	s.metrics.observeCreated(r.VarianceReason)
	return res.Inserted[0], nil
}

func (p *ReconciliationPatch) validate() error {
	if p.ActionTaken != nil && !p.ActionTaken.Valid() {
		return fmt.Errorf("%w: invalid action_taken %q", billing.ErrValidation, *p.ActionTaken)
	}
	if p.ResolutionStatus != nil && !p.ResolutionStatus.Valid() {
		return fmt.Errorf("%w: invalid resolution_status %q", billing.ErrValidation, *p.ResolutionStatus)
	}
	return nil
}

// Update applies the patch. Amount snapshots cannot be changed.
func (s *Service) Update(ctx context.Context, id uuid.UUID, patch ReconciliationPatch) (*billing.Reconciliation, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}
	r, err := s.store.GetReconciliation(ctx, id)
	if err != nil {
		return nil, err
	}
	if patch.VarianceReason != nil {
		r.VarianceReason = *patch.VarianceReason
	}
	if patch.ActionTaken != nil {
		r.ActionTaken = *patch.ActionTaken
	}
	if patch.ResolutionStatus != nil {
		r.ResolutionStatus = *patch.ResolutionStatus
	}
	if patch.Notes != nil {
		n := *patch.Notes
		r.Notes = &n
	}
	if err := s.store.UpdateReconciliation(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*billing.Reconciliation, error) {
	return s.store.GetReconciliation(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*billing.Reconciliation, int, error) {
	return s.store.FindReconciliations(ctx, billing.ReconciliationFilter{Limit: limit, Offset: offset})
}

func (s *Service) ListByClaim(ctx context.Context, claimID uuid.UUID) ([]*billing.Reconciliation, error) {
	recs, _, err := s.store.FindReconciliations(ctx, billing.ReconciliationFilter{ClaimID: &claimID})
	return recs, err
}

func (s *Service) ListByStatus(ctx context.Context, status billing.Resolution) ([]*billing.Reconciliation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: invalid resolution_status %q", billing.ErrValidation, status)
	}
	recs, _, err := s.store.FindReconciliations(ctx, billing.ReconciliationFilter{Resolution: &status})
	return recs, err
}

// Report summarizes every stored reconciliation.
func (s *Service) Report(ctx context.Context) (Report, error) {
	var recs []*billing.Reconciliation
	err := s.store.Snapshot(ctx, func(ctx context.Context) error {
		var err error
		recs, _, err = s.store.FindReconciliations(ctx, billing.ReconciliationFilter{})
		return err
	})
	if err != nil {
		return Report{}, fmt.Errorf("reconciliation report: %w", err)
	}
	return Summarize(recs), nil
}
