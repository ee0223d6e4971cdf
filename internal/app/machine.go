/**
 * @description
 * The guarded transition API of the status/payment state machine. Each
 * method checks the caller's authorization, validates the transition's
 * preconditions, and delegates the atomic update-plus-history write to the
 * repository. A precondition violation is a typed rejection and causes no
 * mutation.
 *
 * Pipeline: draft → submitted → payment_received → in_review →
 * decision_released. The admin ForceSetStatus escape hatch is deliberately
 * a separate operation that bypasses the guards but still writes the same
 * audit row.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
)

// transition routes a guarded edge through the status transition table
// before the store sees it. The repository still re-checks the from-status
// atomically; this check rejects edges the pipeline does not allow at all.
func (s *Service) transition(ctx context.Context, id uuid.UUID, from, to domain.Status, actor string) error {
	if !from.CanTransition(to) {
		return store.ErrInvalidTransition
	}
	return s.repo.TransitionStatus(ctx, id, from, to, actor)
}

// Submit applies draft→submitted for the owning applicant after local
// field validation.
func (s *Service) Submit(ctx context.Context, id uuid.UUID, caller *domain.Profile) (*domain.Application, error) {
	app, err := s.repo.FindApplicationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != caller.UserID {
		return nil, store.ErrApplicationNotFound
	}
	if app.CurrentStatus != domain.StatusDraft {
		return nil, store.ErrInvalidTransition
	}
	if err := s.validateForSubmit(ctx, app); err != nil {
		return nil, err
	}

	if err := s.transition(ctx, id, domain.StatusDraft, domain.StatusSubmitted, caller.UserID.String()); err != nil {
		return nil, err
	}

	app, err = s.repo.FindApplicationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.publishEvent(ctx, domain.RoutingKeySubmitted, app, false)
	return app, nil
}

// validateForSubmit checks the submission preconditions: required form
// fields, exactly one primary document, a financial-aid answer, and a
// payment method (with attestation text when applicable) unless aid is
// requested.
func (s *Service) validateForSubmit(ctx context.Context, app *domain.Application) error {
	required := map[string]*string{
		"full_name":     app.FullName,
		"date_of_birth": app.DateOfBirth,
		"school":        app.School,
		"gpa":           app.GPA,
		"country":       app.Country,
		"state":         app.State,
		"class_year":    app.ClassYear,
	}
	for field, value := range required {
		if value == nil || *value == "" {
			return validationErr("missing required field %s", field)
		}
	}
	if app.FinancialAidRequested == nil {
		return validationErr("financial aid answer is required")
	}

	primaryCount, err := s.repo.CountDocumentsByType(ctx, app.ID, domain.DocumentTypePrimary)
	if err != nil {
		return err
	}
	if primaryCount != 1 {
		return validationErr("exactly one primary document is required, found %d", primaryCount)
	}

	if !*app.FinancialAidRequested {
		if app.PaymentMethod == nil {
			return validationErr("a payment method must be chosen")
		}
		if *app.PaymentMethod == domain.PaymentMethodAttestation && (app.AttestationText == nil || *app.AttestationText == "") {
			return validationErr("bank transfer attestation text is required")
		}
	}
	return nil
}

// VerifyAttestationPayment applies submitted→payment_received on a
// reviewer's manual say-so for bank-transfer attestations. Unlike the
// webhook path, a repeat attempt is an error the reviewer should see.
func (s *Service) VerifyAttestationPayment(ctx context.Context, id uuid.UUID, caller *domain.Profile) error {
	allowed, err := s.canReview(ctx, caller, id)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}

	verifiedBy := caller.UserID
	applied, err := s.repo.VerifyPayment(ctx, id, store.VerifyPaymentParams{
		Actor:      caller.UserID.String(),
		VerifiedBy: &verifiedBy,
	})
	if err != nil {
		return err
	}
	if !applied {
		return ErrAlreadyVerified
	}

	if app, loadErr := s.repo.FindApplicationByID(ctx, id); loadErr == nil {
		s.publishEvent(ctx, domain.RoutingKeyPaymentVerified, app, false)
	}
	return nil
}

// StartReview applies payment_received→in_review.
func (s *Service) StartReview(ctx context.Context, id uuid.UUID, caller *domain.Profile) error {
	allowed, err := s.canReview(ctx, caller, id)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return s.transition(ctx, id, domain.StatusPaymentReceived, domain.StatusInReview, caller.UserID.String())
}

// RecordDecision stores an accept/reject outcome while the application is
// in review. Status does not change; the decision stays invisible to the
// applicant until release.
func (s *Service) RecordDecision(ctx context.Context, id uuid.UUID, caller *domain.Profile, decision domain.Decision) error {
	if !decision.Valid() {
		return validationErr("unknown decision %q", decision)
	}
	allowed, err := s.canReview(ctx, caller, id)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	return s.repo.RecordDecision(ctx, id, decision)
}

// ReleaseDecision applies in_review→decision_released, making the recorded
// decision visible to the applicant.
func (s *Service) ReleaseDecision(ctx context.Context, id uuid.UUID, caller *domain.Profile) error {
	allowed, err := s.canReview(ctx, caller, id)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrForbidden
	}
	if err := s.repo.ReleaseDecision(ctx, id, caller.UserID.String()); err != nil {
		return err
	}
	if app, loadErr := s.repo.FindApplicationByID(ctx, id); loadErr == nil {
		s.publishEvent(ctx, domain.RoutingKeyDecisionReleased, app, true)
	}
	return nil
}

// ReleaseAllPendingDecisions releases every application with a recorded
// decision, applying each release independently. Partial success is
// expected; per-application outcomes are returned, never one aggregate
// failure.
func (s *Service) ReleaseAllPendingDecisions(ctx context.Context, caller *domain.Profile) ([]domain.ReleaseOutcome, error) {
	if caller.Role != domain.RoleAdmin && caller.Role != domain.RoleReviewer {
		return nil, ErrForbidden
	}

	apps, err := s.repo.ListReleasableApplications(ctx)
	if err != nil {
		return nil, err
	}

	outcomes := make([]domain.ReleaseOutcome, 0, len(apps))
	for _, app := range apps {
		outcome := domain.ReleaseOutcome{ApplicationID: app.ID}
		if err := s.ReleaseDecision(ctx, app.ID, caller); err != nil {
			if errors.Is(err, ErrForbidden) {
				// Reviewer not assigned to this one; skip it silently so a
				// reviewer's bulk release only touches their own queue.
				continue
			}
			outcome.Error = err.Error()
			log.Printf("level=warn component=app msg=\"bulk release failed for application\" application_id=%s err=%v", app.ID, err)
		} else {
			outcome.Released = true
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

// ForceSetStatus is the admin-only escape hatch: it sets any status
// without consulting the transition table, but still writes the audit
// history row. It exists for operational repair and must never be called
// from the normal pipeline.
func (s *Service) ForceSetStatus(ctx context.Context, id uuid.UUID, caller *domain.Profile, to domain.Status) error {
	if caller.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	if !to.Valid() {
		return validationErr("unknown status %q", to)
	}
	return s.repo.ForceSetStatus(ctx, id, to, caller.UserID.String())
}

// ListApplications returns the review-side listing for the caller: admins
// see everything matching the filter, reviewers only their assignments.
func (s *Service) ListApplications(ctx context.Context, caller *domain.Profile, filter domain.ApplicationFilter) ([]domain.Application, error) {
	switch caller.Role {
	case domain.RoleAdmin:
		// filter as given
	case domain.RoleReviewer:
		reviewerID := caller.UserID
		filter.ReviewerID = &reviewerID
	default:
		return nil, ErrForbidden
	}
	return s.repo.ListApplications(ctx, filter)
}

// StatusHistory returns the audit trail for an application the caller may
// see.
func (s *Service) StatusHistory(ctx context.Context, id uuid.UUID, caller *domain.Profile) ([]domain.StatusHistoryEntry, error) {
	if _, err := s.LoadApplication(ctx, id, caller); err != nil {
		return nil, err
	}
	return s.repo.ListStatusHistory(ctx, id)
}

// AssignReviewer links a reviewer to an application. Admin only.
func (s *Service) AssignReviewer(ctx context.Context, caller *domain.Profile, reviewerID, applicationID uuid.UUID) error {
	if caller.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	reviewer, err := s.repo.FindProfileByUserID(ctx, reviewerID)
	if err != nil {
		return err
	}
	if reviewer.Role != domain.RoleReviewer && reviewer.Role != domain.RoleAdmin {
		return validationErr("user %s is not a reviewer", reviewerID)
	}
	return s.repo.AssignReviewer(ctx, reviewerID, applicationID)
}
