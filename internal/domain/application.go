/**
 * @description
 * This file defines the core domain models for the application-service.
 * These structs represent the main entities used throughout the service's
 * business logic, database interactions, and API layers.
 *
 * @notes
 * - Status and decision values are typed enums with an explicit transition
 *   table so that adding a new pipeline state is a compile-time-checked
 *   change instead of a string sprinkled across handlers.
 * - The fee amount is stored as `int64` in the smallest currency unit
 *   (cents) to avoid floating-point inaccuracies.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status is the pipeline state of an application.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusSubmitted        Status = "submitted"
	StatusPaymentReceived  Status = "payment_received"
	StatusInReview         Status = "in_review"
	StatusDecisionReleased Status = "decision_released"
)

// Valid reports whether s is one of the known pipeline states.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusPaymentReceived, StatusInReview, StatusDecisionReleased:
		return true
	}
	return false
}

// Label returns the applicant-facing label for a status. The switch is
// exhaustive on purpose: a new status fails loudly here instead of falling
// through a string map.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusSubmitted:
		return "Submitted"
	case StatusPaymentReceived:
		return "Payment Received"
	case StatusInReview:
		return "In Review"
	case StatusDecisionReleased:
		return "Decision Released"
	default:
		return string(s)
	}
}

// CanTransition reports whether moving from s to next is a guarded edge of
// the normal pipeline. The admin force-set operation deliberately does not
// consult this table.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusPaymentReceived
	case StatusPaymentReceived:
		return next == StatusInReview
	case StatusInReview:
		return next == StatusDecisionReleased
	case StatusDecisionReleased:
		return false
	}
	return false
}

// Decision is a reviewer's recorded outcome for an application. It stays
// invisible to the applicant until the release transition.
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether d is a known decision value.
func (d Decision) Valid() bool {
	return d == DecisionAccepted || d == DecisionRejected
}

// PaymentMethod is how the applicant pays the fee.
type PaymentMethod string

const (
	// PaymentMethodAttestation is a manual bank transfer claimed via a
	// free-text attestation and verified by a reviewer.
	PaymentMethodAttestation PaymentMethod = "bank_transfer_attestation"
	// PaymentMethodProcessor is a card payment collected through the
	// payment processor and confirmed by webhook.
	PaymentMethodProcessor PaymentMethod = "processor"
)

// Valid reports whether m is a known payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodAttestation || m == PaymentMethodProcessor
}

// Role is a user's portal role, carried on their profile and used for all
// authorization decisions.
type Role string

const (
	RoleApplicant Role = "applicant"
	RoleReviewer  Role = "reviewer"
	RoleAdmin     Role = "admin"
)

// Application is the central record of one applicant's submission. This
// struct maps directly to the `applications` table.
type Application struct {
	ID                 uuid.UUID      `json:"id"`
	OwnerID            uuid.UUID      `json:"owner_id"`
	CurrentStatus      Status         `json:"current_status"`
	PaymentVerified    bool           `json:"payment_verified"`
	PaymentMethod      *PaymentMethod `json:"payment_method,omitempty"`
	ProcessorPaymentID *string        `json:"processor_payment_id,omitempty"`
	ProcessorStatus    *string        `json:"processor_status,omitempty"`
	PaymentVerifiedBy  *uuid.UUID     `json:"payment_verified_by,omitempty"`
	Decision           *Decision      `json:"decision,omitempty"`

	// Form payload fields. Freely mutable while the application is a
	// draft; frozen after submission except for payment-adjacent fields.
	FullName              *string `json:"full_name,omitempty"`
	DateOfBirth           *string `json:"date_of_birth,omitempty"` // YYYY-MM-DD
	School                *string `json:"school,omitempty"`
	GPA                   *string `json:"gpa,omitempty"`
	Country               *string `json:"country,omitempty"`
	State                 *string `json:"state,omitempty"`
	ClassYear             *string `json:"class_year,omitempty"`
	FinancialAidRequested *bool   `json:"financial_aid_requested,omitempty"`
	FinancialAidEssay     *string `json:"financial_aid_essay,omitempty"`
	AttestationText       *string `json:"attestation_text,omitempty"`

	// Version increments on every draft save and is the optimistic
	// concurrency token for PATCH requests.
	Version int64 `json:"version"`

	PaymentVerifiedAt  *time.Time `json:"payment_verified_at,omitempty"`
	DecisionReleasedAt *time.Time `json:"decision_released_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// DecisionVisible reports whether the applicant may see the decision yet.
func (a *Application) DecisionVisible() bool {
	return a.CurrentStatus == StatusDecisionReleased && a.Decision != nil
}

// DocumentType distinguishes the single required application PDF from
// optional supporting material.
type DocumentType string

const (
	DocumentTypePrimary    DocumentType = "primary"
	DocumentTypeSupporting DocumentType = "supporting"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocumentTypePrimary || t == DocumentTypeSupporting
}

// ApplicationDocument is metadata for one uploaded PDF. The bytes live in
// blob storage under StoragePath; rows are created and deleted only while
// the owning application is a draft.
type ApplicationDocument struct {
	ID            uuid.UUID    `json:"id"`
	ApplicationID uuid.UUID    `json:"application_id"`
	StoragePath   string       `json:"storage_path"`
	FileType      DocumentType `json:"file_type"`
	FileName      string       `json:"file_name"`
	SizeBytes     int64        `json:"size_bytes"`
	UploadedAt    time.Time    `json:"uploaded_at"`
}

// StatusHistoryEntry is one append-only audit record. A row is written in
// the same database transaction as every status change, including admin
// force-sets.
type StatusHistoryEntry struct {
	ID            uuid.UUID `json:"id"`
	ApplicationID uuid.UUID `json:"application_id"`
	OldStatus     Status    `json:"old_status"`
	NewStatus     Status    `json:"new_status"`
	Actor         string    `json:"actor"` // user UUID or "system:webhook"
	CreatedAt     time.Time `json:"created_at"`
}

// ReviewerAssignment links a reviewer to an application, granting read and
// transition rights for it.
type ReviewerAssignment struct {
	ReviewerID    uuid.UUID `json:"reviewer_id"`
	ApplicationID uuid.UUID `json:"application_id"`
	CreatedAt     time.Time `json:"created_at"`
}

// Profile is the per-user identity record. UserID matches the JWT subject
// of the authenticated caller.
type Profile struct {
	UserID    uuid.UUID `json:"user_id"`
	Subject   string    `json:"subject"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// DraftUpdate is the PATCH payload for saving a draft. Nil fields are left
// untouched. Version must match the stored row or the save is rejected.
type DraftUpdate struct {
	FullName              *string        `json:"full_name,omitempty"`
	DateOfBirth           *string        `json:"date_of_birth,omitempty"`
	School                *string        `json:"school,omitempty"`
	GPA                   *string        `json:"gpa,omitempty"`
	Country               *string        `json:"country,omitempty"`
	State                 *string        `json:"state,omitempty"`
	ClassYear             *string        `json:"class_year,omitempty"`
	FinancialAidRequested *bool          `json:"financial_aid_requested,omitempty"`
	FinancialAidEssay     *string        `json:"financial_aid_essay,omitempty"`
	AttestationText       *string        `json:"attestation_text,omitempty"`
	PaymentMethod         *PaymentMethod `json:"payment_method,omitempty"`
	Version               int64          `json:"version"`
}

// ApplicationFilter narrows review-side listings.
type ApplicationFilter struct {
	Status     *Status
	ReviewerID *uuid.UUID // only applications assigned to this reviewer
	Limit      int
	Offset     int
}

// ReleaseOutcome reports the per-application result of a bulk release.
type ReleaseOutcome struct {
	ApplicationID uuid.UUID `json:"application_id"`
	Released      bool      `json:"released"`
	Error         string    `json:"error,omitempty"`
}
