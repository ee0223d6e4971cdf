/**
 * @description
 * Payment use cases: creating (or reusing) a processor payment intent for
 * the application fee, and translating inbound webhook events into state
 * machine transitions.
 *
 * The two correctness-critical properties live here:
 *  - intent reuse: a second create request returns the stored intent's
 *    client secret while it can still collect a payment, so retries and
 *    impatient clients do not mint duplicate intents;
 *  - idempotent confirmation: a redelivered "payment succeeded" event is a
 *    successful no-op, guarded by the repository's conditional update.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
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
)

// ErrRateLimited is returned when a caller exceeds the intent-creation
// rate limit.
var ErrRateLimited = errors.New("rate limited")

// retrieveTimeout bounds the reuse-check call so a slow processor cannot
// block submission; on timeout we fall through to creating a new intent.
const retrieveTimeout = 5 * time.Second

// CreatePaymentIntent returns a client secret the portal can use to
// collect the fee. An existing intent is reused while the processor still
// reports it collectable; otherwise a new one is created and the stored
// reference overwritten.
func (s *Service) CreatePaymentIntent(ctx context.Context, id uuid.UUID, caller *domain.Profile) (clientSecret string, err error) {
	if s.rateLimiter != nil && s.intentRatePerMinute > 0 {
		count, retryAfter, limitErr := s.rateLimiter.ConsumeRateLimit(ctx, "create_intent", caller.UserID.String(), s.intentRatePerMinute, time.Minute)
		if limitErr != nil {
			// Fail open: a broken limiter must not block payments.
			log.Printf("level=warn component=app msg=\"rate limiter unavailable\" user_id=%s err=%v", caller.UserID, limitErr)
		} else if count > s.intentRatePerMinute {
			return "", fmt.Errorf("%w: retry in %ds", ErrRateLimited, retryAfter)
		}
	}

	app, err := s.repo.FindApplicationByID(ctx, id)
	if err != nil {
		return "", err
	}
	if app.OwnerID != caller.UserID {
		return "", store.ErrApplicationNotFound
	}
	if app.PaymentVerified {
		return "", ErrAlreadyVerified
	}
	if app.CurrentStatus != domain.StatusSubmitted {
		return "", validationErr("application must be submitted before paying")
	}
	if app.PaymentMethod == nil || *app.PaymentMethod != domain.PaymentMethodProcessor {
		return "", validationErr("application is not set up for processor payment")
	}

	// Reuse the stored intent while the processor still reports it
	// collectable. A retrieve failure counts as "no reusable handle":
	// fail open into creation rather than blocking the applicant.
	if app.ProcessorPaymentID != nil && *app.ProcessorPaymentID != "" {
		retrieveCtx, cancel := context.WithTimeout(ctx, retrieveTimeout)
		intent, retrieveErr := s.payments.GetPaymentIntent(retrieveCtx, *app.ProcessorPaymentID)
		cancel()
		if retrieveErr != nil {
			log.Printf("level=warn component=app msg=\"intent retrieve failed; creating new intent\" application_id=%s intent_id=%s err=%v", id, *app.ProcessorPaymentID, retrieveErr)
		} else if intent.Reusable() {
			return intent.ClientSecret, nil
		}
	}

	intent, err := s.payments.CreatePaymentIntent(ctx, s.feeAmount, s.feeCurrency,
		map[string]string{"application_id": id.String()}, caller.Email)
	if err != nil {
		return "", fmt.Errorf("failed to create payment intent: %w", err)
	}
	if err := s.repo.SetProcessorPaymentIntent(ctx, id, intent.ID, intent.Status); err != nil {
		return "", err
	}
	return intent.ClientSecret, nil
}

// ResolveIntentApplication finds the application that holds the given
// payment-intent reference. The webhook falls back to it when an event
// arrives without correlation metadata.
func (s *Service) ResolveIntentApplication(ctx context.Context, intentID string) (uuid.UUID, error) {
	app, err := s.repo.FindApplicationByProcessorPaymentID(ctx, intentID)
	if err != nil {
		return uuid.Nil, err
	}
	return app.ID, nil
}

// ConfirmProcessorPayment applies the payment-received transition for a
// succeeded processor payment. Applied=false with a nil error is the
// idempotent redelivery case: the payment was verified before and no
// effect was re-applied.
func (s *Service) ConfirmProcessorPayment(ctx context.Context, id uuid.UUID, intentID string) (applied bool, err error) {
	succeeded := "succeeded"
	applied, err = s.repo.VerifyPayment(ctx, id, store.VerifyPaymentParams{
		Actor:              webhookActor,
		ProcessorPaymentID: &intentID,
		ProcessorStatus:    &succeeded,
	})
	if err != nil {
		return false, err
	}
	if applied {
		if app, loadErr := s.repo.FindApplicationByID(ctx, id); loadErr == nil {
			s.publishEvent(ctx, domain.RoutingKeyPaymentVerified, app, false)
		}
	}
	return applied, nil
}

// FailProcessorPayment records a failed processor payment. It never
// touches payment_verified or current_status, and is a no-op for already
// verified applications.
func (s *Service) FailProcessorPayment(ctx context.Context, id uuid.UUID, reason string) (applied bool, err error) {
	return s.repo.MarkProcessorPaymentFailed(ctx, id, reason)
}
