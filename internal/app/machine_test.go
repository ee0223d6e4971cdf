package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
)

type machineRepoStub struct {
	store.Repository

	app          *domain.Application
	primaryDocs  int
	assigned     bool
	releasable   []domain.Application
	releaseErrs  map[uuid.UUID]error
	verifyResult bool
	verifyErr    error

	transitionCalled bool
	transitionFrom   domain.Status
	transitionTo     domain.Status
	verifyCalled     int
	verifyParams     store.VerifyPaymentParams
	releasedIDs      []uuid.UUID
}

func (s *machineRepoStub) FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	if s.app == nil || s.app.ID != id {
		return nil, store.ErrApplicationNotFound
	}
	copied := *s.app
	return &copied, nil
}

func (s *machineRepoStub) FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return &domain.Profile{UserID: userID, Email: "applicant@example.com", Role: domain.RoleApplicant}, nil
}

func (s *machineRepoStub) CountDocumentsByType(ctx context.Context, applicationID uuid.UUID, fileType domain.DocumentType) (int, error) {
	return s.primaryDocs, nil
}

func (s *machineRepoStub) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.Status, actor string) error {
	s.transitionCalled = true
	s.transitionFrom = from
	s.transitionTo = to
	s.app.CurrentStatus = to
	return nil
}

func (s *machineRepoStub) VerifyPayment(ctx context.Context, id uuid.UUID, p store.VerifyPaymentParams) (bool, error) {
	s.verifyCalled++
	s.verifyParams = p
	if s.verifyErr != nil {
		return false, s.verifyErr
	}
	if s.verifyResult {
		s.app.CurrentStatus = domain.StatusPaymentReceived
		s.app.PaymentVerified = true
	}
	return s.verifyResult, nil
}

func (s *machineRepoStub) IsReviewerAssigned(ctx context.Context, reviewerID, applicationID uuid.UUID) (bool, error) {
	return s.assigned, nil
}

func (s *machineRepoStub) ListReleasableApplications(ctx context.Context) ([]domain.Application, error) {
	return s.releasable, nil
}

func (s *machineRepoStub) RecordDecision(ctx context.Context, id uuid.UUID, decision domain.Decision) error {
	if s.app == nil || s.app.ID != id {
		return store.ErrApplicationNotFound
	}
	s.app.Decision = &decision
	return nil
}

func (s *machineRepoStub) ReleaseDecision(ctx context.Context, id uuid.UUID, actor string) error {
	if err, ok := s.releaseErrs[id]; ok {
		return err
	}
	if s.app != nil && s.app.ID == id {
		if s.app.Decision == nil {
			return store.ErrDecisionMissing
		}
		s.app.CurrentStatus = domain.StatusDecisionReleased
		now := time.Now()
		s.app.DecisionReleasedAt = &now
	}
	s.releasedIDs = append(s.releasedIDs, id)
	return nil
}

func ptrString(value string) *string {
	return &value
}

func ptrBool(value bool) *bool {
	return &value
}

func completeDraft(ownerID uuid.UUID) *domain.Application {
	method := domain.PaymentMethodAttestation
	return &domain.Application{
		ID:                    uuid.New(),
		OwnerID:               ownerID,
		CurrentStatus:         domain.StatusDraft,
		FullName:              ptrString("Ada Lovelace"),
		DateOfBirth:           ptrString("2007-12-10"),
		School:                ptrString("Marylebone High"),
		GPA:                   ptrString("3.9"),
		Country:               ptrString("US"),
		State:                 ptrString("NY"),
		ClassYear:             ptrString("2026"),
		FinancialAidRequested: ptrBool(false),
		PaymentMethod:         &method,
		AttestationText:       ptrString("Sent $20 from Chase account ending 4821 on 2026-08-12"),
	}
}

func newTestService(repo store.Repository) *Service {
	return NewService(repo, nil, nil, nil, 2000, "usd")
}

func TestTransition_TableGovernsEdges(t *testing.T) {
	repo := &machineRepoStub{app: completeDraft(uuid.New())}
	service := newTestService(repo)

	err := service.transition(context.Background(), repo.app.ID, domain.StatusDraft, domain.StatusInReview, "tester")
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition for a skipped state, got %v", err)
	}
	if repo.transitionCalled {
		t.Fatal("a rejected edge must not reach the repository")
	}

	if err := service.transition(context.Background(), repo.app.ID, domain.StatusDraft, domain.StatusSubmitted, "tester"); err != nil {
		t.Fatalf("expected pipeline edge to pass, got %v", err)
	}
	if !repo.transitionCalled {
		t.Fatal("an allowed edge must reach the repository")
	}
}

func TestPipeline_SubmitThroughRelease(t *testing.T) {
	applicant := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	repo := &machineRepoStub{app: completeDraft(applicant.UserID), primaryDocs: 1, verifyResult: true}
	service := newTestService(repo)
	ctx := context.Background()

	if _, err := service.Submit(ctx, repo.app.ID, applicant); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if repo.app.CurrentStatus != domain.StatusSubmitted {
		t.Fatalf("expected submitted, got %s", repo.app.CurrentStatus)
	}

	if err := service.VerifyAttestationPayment(ctx, repo.app.ID, admin); err != nil {
		t.Fatalf("payment verification failed: %v", err)
	}
	if repo.app.CurrentStatus != domain.StatusPaymentReceived || !repo.app.PaymentVerified {
		t.Fatalf("expected verified payment_received, got %s verified=%t", repo.app.CurrentStatus, repo.app.PaymentVerified)
	}

	if err := service.StartReview(ctx, repo.app.ID, admin); err != nil {
		t.Fatalf("start review failed: %v", err)
	}
	if repo.app.CurrentStatus != domain.StatusInReview {
		t.Fatalf("expected in_review, got %s", repo.app.CurrentStatus)
	}

	if err := service.RecordDecision(ctx, repo.app.ID, admin, domain.DecisionAccepted); err != nil {
		t.Fatalf("record decision failed: %v", err)
	}

	// The recorded decision stays invisible to the applicant until release.
	seen, err := service.LoadApplication(ctx, repo.app.ID, applicant)
	if err != nil {
		t.Fatalf("load before release failed: %v", err)
	}
	if seen.Decision != nil {
		t.Fatal("decision must stay hidden before release")
	}

	if err := service.ReleaseDecision(ctx, repo.app.ID, admin); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	seen, err = service.LoadApplication(ctx, repo.app.ID, applicant)
	if err != nil {
		t.Fatalf("load after release failed: %v", err)
	}
	if seen.CurrentStatus != domain.StatusDecisionReleased {
		t.Fatalf("expected decision_released, got %s", seen.CurrentStatus)
	}
	if seen.Decision == nil || *seen.Decision != domain.DecisionAccepted {
		t.Fatalf("expected the accepted decision to be visible, got %v", seen.Decision)
	}
}

func TestStartReview_UnassignedReviewerForbidden(t *testing.T) {
	reviewer := &domain.Profile{UserID: uuid.New(), Role: domain.RoleReviewer}
	repo := &machineRepoStub{app: completeDraft(uuid.New()), assigned: false}
	service := newTestService(repo)

	if err := service.StartReview(context.Background(), repo.app.ID, reviewer); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.transitionCalled {
		t.Fatal("forbidden caller must not transition")
	}
}

func TestRecordDecision_RejectsUnknownValue(t *testing.T) {
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	repo := &machineRepoStub{app: completeDraft(uuid.New())}
	service := newTestService(repo)

	err := service.RecordDecision(context.Background(), repo.app.ID, admin, domain.Decision("waitlist"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.app.Decision != nil {
		t.Fatal("an invalid decision must not be stored")
	}
}

func TestReleaseDecision_WithoutRecordedDecision(t *testing.T) {
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	repo := &machineRepoStub{app: completeDraft(uuid.New())}
	repo.app.CurrentStatus = domain.StatusInReview
	service := newTestService(repo)

	err := service.ReleaseDecision(context.Background(), repo.app.ID, admin)
	if !errors.Is(err, store.ErrDecisionMissing) {
		t.Fatalf("expected missing-decision error, got %v", err)
	}
	if repo.app.CurrentStatus != domain.StatusInReview {
		t.Fatal("a failed release must not change status")
	}
}

func TestSubmit_HappyPath(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &machineRepoStub{app: completeDraft(owner.UserID), primaryDocs: 1}
	service := newTestService(repo)

	result, err := service.Submit(context.Background(), repo.app.ID, owner)
	if err != nil {
		t.Fatalf("expected submit to succeed, got %v", err)
	}
	if !repo.transitionCalled {
		t.Fatal("expected a guarded transition")
	}
	if repo.transitionFrom != domain.StatusDraft || repo.transitionTo != domain.StatusSubmitted {
		t.Fatalf("unexpected transition %s -> %s", repo.transitionFrom, repo.transitionTo)
	}
	if result.CurrentStatus != domain.StatusSubmitted {
		t.Fatalf("expected submitted status, got %s", result.CurrentStatus)
	}
}

func TestSubmit_ValidationFailures(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}

	tests := []struct {
		name   string
		mutate func(repo *machineRepoStub)
	}{
		{
			name:   "missing required field",
			mutate: func(repo *machineRepoStub) { repo.app.School = nil },
		},
		{
			name:   "missing financial aid answer",
			mutate: func(repo *machineRepoStub) { repo.app.FinancialAidRequested = nil },
		},
		{
			name:   "no primary document",
			mutate: func(repo *machineRepoStub) { repo.primaryDocs = 0 },
		},
		{
			name:   "two primary documents",
			mutate: func(repo *machineRepoStub) { repo.primaryDocs = 2 },
		},
		{
			name:   "no payment method without aid",
			mutate: func(repo *machineRepoStub) { repo.app.PaymentMethod = nil },
		},
		{
			name:   "attestation method without attestation text",
			mutate: func(repo *machineRepoStub) { repo.app.AttestationText = nil },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &machineRepoStub{app: completeDraft(owner.UserID), primaryDocs: 1}
			tt.mutate(repo)
			service := newTestService(repo)

			_, err := service.Submit(context.Background(), repo.app.ID, owner)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if repo.transitionCalled {
				t.Fatal("failed validation must not transition")
			}
		})
	}
}

func TestSubmit_AidWaivesPaymentMethod(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &machineRepoStub{app: completeDraft(owner.UserID), primaryDocs: 1}
	repo.app.FinancialAidRequested = ptrBool(true)
	repo.app.PaymentMethod = nil
	repo.app.AttestationText = nil
	service := newTestService(repo)

	if _, err := service.Submit(context.Background(), repo.app.ID, owner); err != nil {
		t.Fatalf("aid request should waive the payment method, got %v", err)
	}
}

func TestSubmit_RejectsForeignApplication(t *testing.T) {
	owner := uuid.New()
	repo := &machineRepoStub{app: completeDraft(owner), primaryDocs: 1}
	stranger := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	service := newTestService(repo)

	_, err := service.Submit(context.Background(), repo.app.ID, stranger)
	if !errors.Is(err, store.ErrApplicationNotFound) {
		t.Fatalf("expected not-found for foreign application, got %v", err)
	}
}

func TestVerifyAttestationPayment_AdminApplies(t *testing.T) {
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	repo := &machineRepoStub{app: completeDraft(uuid.New()), verifyResult: true}
	repo.app.CurrentStatus = domain.StatusSubmitted
	service := newTestService(repo)

	if err := service.VerifyAttestationPayment(context.Background(), repo.app.ID, admin); err != nil {
		t.Fatalf("expected verification to succeed, got %v", err)
	}
	if repo.verifyCalled != 1 {
		t.Fatalf("expected one verify call, got %d", repo.verifyCalled)
	}
	if repo.verifyParams.VerifiedBy == nil || *repo.verifyParams.VerifiedBy != admin.UserID {
		t.Fatal("expected the verifying reviewer to be recorded")
	}
	if repo.verifyParams.Actor != admin.UserID.String() {
		t.Fatalf("expected actor %s, got %s", admin.UserID, repo.verifyParams.Actor)
	}
}

func TestVerifyAttestationPayment_RepeatIsConflict(t *testing.T) {
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	repo := &machineRepoStub{app: completeDraft(uuid.New()), verifyResult: false}
	repo.app.CurrentStatus = domain.StatusPaymentReceived
	repo.app.PaymentVerified = true
	service := newTestService(repo)

	err := service.VerifyAttestationPayment(context.Background(), repo.app.ID, admin)
	if !errors.Is(err, ErrAlreadyVerified) {
		t.Fatalf("expected already-verified error, got %v", err)
	}
}

func TestVerifyAttestationPayment_UnassignedReviewerForbidden(t *testing.T) {
	reviewer := &domain.Profile{UserID: uuid.New(), Role: domain.RoleReviewer}
	repo := &machineRepoStub{app: completeDraft(uuid.New()), assigned: false, verifyResult: true}
	service := newTestService(repo)

	err := service.VerifyAttestationPayment(context.Background(), repo.app.ID, reviewer)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if repo.verifyCalled != 0 {
		t.Fatal("forbidden caller must not reach the repository")
	}
}

func TestVerifyAttestationPayment_ApplicantForbidden(t *testing.T) {
	applicant := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &machineRepoStub{app: completeDraft(applicant.UserID), verifyResult: true}
	service := newTestService(repo)

	if err := service.VerifyAttestationPayment(context.Background(), repo.app.ID, applicant); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for applicant, got %v", err)
	}
}

func TestReleaseAllPendingDecisions_PartialSuccess(t *testing.T) {
	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	good1 := uuid.New()
	good2 := uuid.New()
	bad := uuid.New()

	repo := &machineRepoStub{
		releasable: []domain.Application{{ID: good1}, {ID: bad}, {ID: good2}},
		releaseErrs: map[uuid.UUID]error{
			bad: store.ErrDecisionMissing,
		},
	}
	service := newTestService(repo)

	outcomes, err := service.ReleaseAllPendingDecisions(context.Background(), admin)
	if err != nil {
		t.Fatalf("bulk release must not fail as a whole, got %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}

	released := 0
	failed := 0
	for _, o := range outcomes {
		if o.Released {
			released++
		} else {
			failed++
			if o.ApplicationID != bad {
				t.Fatalf("unexpected failed application %s", o.ApplicationID)
			}
			if o.Error == "" {
				t.Fatal("failed outcome must carry the error")
			}
		}
	}
	if released != 2 || failed != 1 {
		t.Fatalf("expected 2 released and 1 failed, got %d/%d", released, failed)
	}
	if len(repo.releasedIDs) != 2 {
		t.Fatalf("expected exactly the 2 good applications released, got %v", repo.releasedIDs)
	}
}

func TestReleaseAllPendingDecisions_ApplicantForbidden(t *testing.T) {
	applicant := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	service := newTestService(&machineRepoStub{})

	if _, err := service.ReleaseAllPendingDecisions(context.Background(), applicant); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}

func TestForceSetStatus_AdminOnly(t *testing.T) {
	reviewer := &domain.Profile{UserID: uuid.New(), Role: domain.RoleReviewer}
	service := newTestService(&machineRepoStub{})

	if err := service.ForceSetStatus(context.Background(), uuid.New(), reviewer, domain.StatusDraft); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden for reviewer, got %v", err)
	}

	admin := &domain.Profile{UserID: uuid.New(), Role: domain.RoleAdmin}
	if err := service.ForceSetStatus(context.Background(), uuid.New(), admin, domain.Status("bogus")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for unknown status, got %v", err)
	}
}
