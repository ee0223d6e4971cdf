/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract
 * for all data access operations required by the application-service. By
 * defining an interface, we decouple the business logic from the specific
 * database implementation (PostgreSQL), making the code easier to test.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
//
// Status- and payment-mutating methods are transactional: the targeted
// field updates and the status-history append either both commit or
// neither does. Guards are expressed as conditional updates so concurrent
// callers serialize on the application row.
type Repository interface {
	// Profile methods
	FindProfileBySubject(ctx context.Context, subject string) (*domain.Profile, error)
	FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error)

	// Application lifecycle
	CreateApplication(ctx context.Context, ownerID uuid.UUID) (*domain.Application, error)
	FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error)
	FindApplicationByProcessorPaymentID(ctx context.Context, intentID string) (*domain.Application, error)
	ListApplications(ctx context.Context, filter domain.ApplicationFilter) ([]domain.Application, error)
	UpdateDraft(ctx context.Context, id uuid.UUID, update domain.DraftUpdate) (*domain.Application, error)

	// Guarded transitions. Each appends a history row in the same
	// transaction as the status update.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, actor string) error
	VerifyPayment(ctx context.Context, id uuid.UUID, p VerifyPaymentParams) (applied bool, err error)
	RecordDecision(ctx context.Context, id uuid.UUID, decision domain.Decision) error
	ReleaseDecision(ctx context.Context, id uuid.UUID, actor string) error
	ForceSetStatus(ctx context.Context, id uuid.UUID, to domain.Status, actor string) error

	// Payment correlation fields, written outside the guarded machine.
	SetProcessorPaymentIntent(ctx context.Context, id uuid.UUID, intentID, intentStatus string) error
	MarkProcessorPaymentFailed(ctx context.Context, id uuid.UUID, reason string) (applied bool, err error)

	// Applications eligible for bulk release or intent reconciliation.
	ListReleasableApplications(ctx context.Context) ([]domain.Application, error)
	ListUnverifiedWithIntent(ctx context.Context, limit int) ([]domain.Application, error)

	// Status history
	ListStatusHistory(ctx context.Context, applicationID uuid.UUID) ([]domain.StatusHistoryEntry, error)

	// Document methods
	CreateDocument(ctx context.Context, doc *domain.ApplicationDocument) error
	FindDocumentByID(ctx context.Context, id uuid.UUID) (*domain.ApplicationDocument, error)
	ListDocumentsByApplication(ctx context.Context, applicationID uuid.UUID) ([]domain.ApplicationDocument, error)
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	CountDocumentsByType(ctx context.Context, applicationID uuid.UUID, fileType domain.DocumentType) (int, error)

	// Reviewer assignment methods
	IsReviewerAssigned(ctx context.Context, reviewerID, applicationID uuid.UUID) (bool, error)
	AssignReviewer(ctx context.Context, reviewerID, applicationID uuid.UUID) error
}

// VerifyPaymentParams carries the payment-received transition inputs.
// VerifiedBy is nil for webhook confirmations; ProcessorPaymentID and
// ProcessorStatus are nil for manual attestation verification.
type VerifyPaymentParams struct {
	Actor              string
	VerifiedBy         *uuid.UUID
	ProcessorPaymentID *string
	ProcessorStatus    *string
}
