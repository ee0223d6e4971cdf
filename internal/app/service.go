/**
 * @description
 * This file contains the core business logic of the application-service.
 * The `Service` struct owns the status/payment state machine: every status
 * or payment mutation in the system flows through its guarded transition
 * methods. Handlers, the webhook endpoint, and the reconcile job all call
 * into this one place; nothing else writes status-relevant fields.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For publishing applicant notification events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
	"github.com/admitly/application-service/pkg/rabbitmq"
	"github.com/admitly/application-service/pkg/stripeclient"
)

var (
	// ErrForbidden means the caller is authenticated but not authorized
	// for the requested operation.
	ErrForbidden = errors.New("forbidden")
	// ErrValidation wraps user-correctable input problems; the detail is
	// carried in the wrapping message.
	ErrValidation = errors.New("validation failed")
	// ErrAlreadyVerified is returned on the manual verification path when
	// the payment was verified before. The webhook path never sees it:
	// redelivery is a successful no-op there.
	ErrAlreadyVerified = errors.New("payment already verified")
)

// webhookActor is the audit identity recorded for webhook-driven
// transitions, which have no user behind them.
const webhookActor = "system:webhook"

// PaymentClient is the subset of the processor API the service uses.
// *stripeclient.Client satisfies it.
type PaymentClient interface {
	CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, receiptEmail string) (*stripeclient.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, intentID string) (*stripeclient.PaymentIntent, error)
}

// BlobStorage is the subset of blob-storage operations the service uses.
// *s3storage.Storage satisfies it.
type BlobStorage interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// IntentRateLimiter bounds how often one user can request intent creation.
type IntentRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the applicant portal.
type Service struct {
	repo     store.Repository
	payments PaymentClient
	storage  BlobStorage
	producer rabbitmq.Publisher

	feeAmount   int64 // smallest currency unit
	feeCurrency string

	rateLimiter          IntentRateLimiter
	intentRatePerMinute  int
	maxDocumentSizeBytes int64
}

// NewService creates a new application service instance.
func NewService(repo store.Repository, payments PaymentClient, storage BlobStorage, producer rabbitmq.Publisher, feeAmount int64, feeCurrency string) *Service {
	if producer == nil {
		producer = &rabbitmq.EventProducerFallback{}
	}
	return &Service{
		repo:                 repo,
		payments:             payments,
		storage:              storage,
		producer:             producer,
		feeAmount:            feeAmount,
		feeCurrency:          feeCurrency,
		maxDocumentSizeBytes: 10 << 20,
	}
}

// SetIntentRateLimiter enables distributed rate limiting for
// create-payment-intent requests.
func (s *Service) SetIntentRateLimiter(limiter IntentRateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.intentRatePerMinute = perMinute
}

// ResolveProfile converts a validated JWT subject into the caller's
// profile. All authorization decisions key off the profile role.
func (s *Service) ResolveProfile(ctx context.Context, subject string) (*domain.Profile, error) {
	return s.repo.FindProfileBySubject(ctx, subject)
}

// canReview reports whether the caller may perform review-side operations
// on the application: admins always, reviewers only when assigned.
func (s *Service) canReview(ctx context.Context, caller *domain.Profile, applicationID uuid.UUID) (bool, error) {
	switch caller.Role {
	case domain.RoleAdmin:
		return true, nil
	case domain.RoleReviewer:
		return s.repo.IsReviewerAssigned(ctx, caller.UserID, applicationID)
	default:
		return false, nil
	}
}

// canSee reports whether the caller may read the application at all:
// the owner, an assigned reviewer, or an admin.
func (s *Service) canSee(ctx context.Context, caller *domain.Profile, app *domain.Application) (bool, error) {
	if app.OwnerID == caller.UserID {
		return true, nil
	}
	return s.canReview(ctx, caller, app.ID)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// publishEvent publishes an applicant notification event. Publish failures
// are logged, never propagated: notifications are best-effort and must not
// roll back a committed transition.
func (s *Service) publishEvent(ctx context.Context, routingKey string, app *domain.Application, includeDecision bool) {
	event := domain.ApplicationEvent{
		ApplicationID: app.ID,
		OwnerID:       app.OwnerID,
		Status:        app.CurrentStatus,
		Timestamp:     time.Now().UTC(),
	}
	if includeDecision {
		event.Decision = app.Decision
	}
	if owner, err := s.repo.FindProfileByUserID(ctx, app.OwnerID); err == nil {
		event.OwnerEmail = owner.Email
	}
	if err := s.producer.Publish(ctx, domain.NotificationExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=app msg=\"event publish failed\" routing_key=%s application_id=%s err=%v", routingKey, app.ID, err)
	}
}
