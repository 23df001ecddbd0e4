package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Amounts serialize as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

type ClaimStatus string

const (
	ClaimPending           ClaimStatus = "pending"
	ClaimApproved          ClaimStatus = "approved"
	ClaimPartiallyApproved ClaimStatus = "partially_approved"
	ClaimDenied            ClaimStatus = "denied"
)

// ClaimStatuses lists every claim status in report order.
var ClaimStatuses = []ClaimStatus{ClaimPending, ClaimApproved, ClaimPartiallyApproved, ClaimDenied}

// Claim maps to the claims table. Only the columns the reconciliation and
// reporting engine reads are mapped.
type Claim struct {
	ID              uuid.UUID           `db:"id" json:"id"`
	BillingRecordID uuid.UUID           `db:"billing_record_id" json:"billing_record_id"`
	HMOID           uuid.UUID           `db:"hmo_id" json:"hmo_id"`
	ClaimNumber     string              `db:"claim_number" json:"claim_number"`
	SubmissionDate  Date                `db:"submission_date" json:"submission_date"`
	ServiceDate     Date                `db:"service_date" json:"service_date"`
	TotalAmount     decimal.Decimal     `db:"total_amount" json:"total_amount"`
	ApprovedAmount  decimal.NullDecimal `db:"approved_amount" json:"approved_amount"`
	Status          ClaimStatus         `db:"status" json:"status"`
	DenialReason    *string             `db:"denial_reason" json:"denial_reason,omitempty"`
	PaymentDate     *Date               `db:"payment_date" json:"payment_date,omitempty"`
	PaymentAmount   decimal.NullDecimal `db:"payment_amount" json:"payment_amount"`
	CreatedAt       time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time           `db:"updated_at" json:"updated_at"`
}

// IsOpen reports whether the claim still counts as outstanding for aging.
func (c *Claim) IsOpen() bool {
	return c.Status == ClaimPending || c.Status == ClaimPartiallyApproved
}

// IsApproved reports whether the payer approved the claim in whole or part.
func (c *Claim) IsApproved() bool {
	return c.Status == ClaimApproved || c.Status == ClaimPartiallyApproved
}

type BillingStatus string

const (
	BillingPending   BillingStatus = "pending"
	BillingPartial   BillingStatus = "partial"
	BillingPaid      BillingStatus = "paid"
	BillingOverdue   BillingStatus = "overdue"
	BillingCancelled BillingStatus = "cancelled"
)

// BillingRecord maps to the billing_records table (an invoice). One record
// may back several claims.
type BillingRecord struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	InvoiceNumber string          `db:"invoice_number" json:"invoice_number"`
	InvoiceDate   Date            `db:"invoice_date" json:"invoice_date"`
	DueDate       Date            `db:"due_date" json:"due_date"`
	TotalAmount   decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount    decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	Balance       decimal.Decimal `db:"balance" json:"balance"`
	Status        BillingStatus   `db:"status" json:"status"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// BillingItem maps to the billing_items table.
type BillingItem struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	BillingRecordID    uuid.UUID       `db:"billing_record_id" json:"billing_record_id"`
	ServiceCode        string          `db:"service_code" json:"service_code"`
	ServiceDescription string          `db:"service_description" json:"service_description"`
	Quantity           int             `db:"quantity" json:"quantity"`
	UnitPrice          decimal.Decimal `db:"unit_price" json:"unit_price"`
	TotalPrice         decimal.Decimal `db:"total_price" json:"total_price"`
}

// HMOProvider maps to the hmo_providers table.
type HMOProvider struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// User is the acting account recorded on reconciliations.
type User struct {
	ID       uuid.UUID `db:"id" json:"id"`
	Username string    `db:"username" json:"username"`
}

type Action string

const (
	ActionAccepted Action = "accepted"
	ActionDisputed Action = "disputed"
	ActionAdjusted Action = "adjusted"
)

var validActions = map[Action]bool{
	ActionAccepted: true, ActionDisputed: true, ActionAdjusted: true,
}

func (a Action) Valid() bool { return validActions[a] }

type Resolution string

const (
	ResolutionPending   Resolution = "pending"
	ResolutionResolved  Resolution = "resolved"
	ResolutionEscalated Resolution = "escalated"
)

var validResolutions = map[Resolution]bool{
	ResolutionPending: true, ResolutionResolved: true, ResolutionEscalated: true,
}

func (r Resolution) Valid() bool { return validResolutions[r] }

// Reconciliation maps to the claim_reconciliations table. The amount fields
// are snapshots copied from the claim when the record was created.
type Reconciliation struct {
	ID                 uuid.UUID       `db:"id" json:"id"`
	ClaimID            uuid.UUID       `db:"claim_id" json:"claim_id"`
	ReconciliationDate Date            `db:"reconciliation_date" json:"reconciliation_date"`
	BilledAmount       decimal.Decimal `db:"billed_amount" json:"billed_amount"`
	ApprovedAmount     decimal.Decimal `db:"approved_amount" json:"approved_amount"`
	PaidAmount         decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	VarianceAmount     decimal.Decimal `db:"variance_amount" json:"variance_amount"`
	VarianceReason     string          `db:"variance_reason" json:"variance_reason"`
	ActionTaken        Action          `db:"action_taken" json:"action_taken"`
	ResolutionStatus   Resolution      `db:"resolution_status" json:"resolution_status"`
	Notes              *string         `db:"notes" json:"notes,omitempty"`
	CreatedBy          uuid.UUID       `db:"created_by" json:"created_by"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// Clone returns a copy that shares no pointers with r.
func (r *Reconciliation) Clone() *Reconciliation {
	cp := *r
	if r.Notes != nil {
		n := *r.Notes
		cp.Notes = &n
	}
	return &cp
}
