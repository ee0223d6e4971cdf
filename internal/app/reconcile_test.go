package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
	"github.com/admitly/application-service/pkg/stripeclient"
)

type reconcileRepoStub struct {
	store.Repository

	pending []domain.Application

	verified map[uuid.UUID]bool
	failed   map[uuid.UUID]string
}

func (s *reconcileRepoStub) ListUnverifiedWithIntent(ctx context.Context, limit int) ([]domain.Application, error) {
	if limit < len(s.pending) {
		return s.pending[:limit], nil
	}
	return s.pending, nil
}

func (s *reconcileRepoStub) FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	for i := range s.pending {
		if s.pending[i].ID == id {
			copied := s.pending[i]
			return &copied, nil
		}
	}
	return nil, store.ErrApplicationNotFound
}

func (s *reconcileRepoStub) FindProfileByUserID(ctx context.Context, userID uuid.UUID) (*domain.Profile, error) {
	return &domain.Profile{UserID: userID, Role: domain.RoleApplicant}, nil
}

func (s *reconcileRepoStub) VerifyPayment(ctx context.Context, id uuid.UUID, p store.VerifyPaymentParams) (bool, error) {
	if s.verified == nil {
		s.verified = make(map[uuid.UUID]bool)
	}
	if s.verified[id] {
		return false, nil
	}
	s.verified[id] = true
	return true, nil
}

func (s *reconcileRepoStub) MarkProcessorPaymentFailed(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if s.failed == nil {
		s.failed = make(map[uuid.UUID]string)
	}
	s.failed[id] = reason
	return true, nil
}

type reconcilePaymentStub struct {
	intents map[string]*stripeclient.PaymentIntent
}

func (c *reconcilePaymentStub) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, receiptEmail string) (*stripeclient.PaymentIntent, error) {
	return nil, errors.New("not used")
}

func (c *reconcilePaymentStub) GetPaymentIntent(ctx context.Context, intentID string) (*stripeclient.PaymentIntent, error) {
	intent, ok := c.intents[intentID]
	if !ok {
		return nil, errors.New("intent not found")
	}
	return intent, nil
}

func pendingApplication(intentID string) domain.Application {
	method := domain.PaymentMethodProcessor
	return domain.Application{
		ID:                 uuid.New(),
		OwnerID:            uuid.New(),
		CurrentStatus:      domain.StatusSubmitted,
		PaymentMethod:      &method,
		ProcessorPaymentID: &intentID,
	}
}

func TestReconcilePendingPayments_ConfirmsSucceededAndFailsCanceled(t *testing.T) {
	succeededApp := pendingApplication("pi_succeeded")
	canceledApp := pendingApplication("pi_canceled")
	stillOpenApp := pendingApplication("pi_open")
	unreachableApp := pendingApplication("pi_gone")

	repo := &reconcileRepoStub{pending: []domain.Application{succeededApp, canceledApp, stillOpenApp, unreachableApp}}
	client := &reconcilePaymentStub{intents: map[string]*stripeclient.PaymentIntent{
		"pi_succeeded": {ID: "pi_succeeded", Status: "succeeded"},
		"pi_canceled":  {ID: "pi_canceled", Status: "canceled"},
		"pi_open":      {ID: "pi_open", Status: "requires_payment_method"},
	}}
	service := NewService(repo, client, nil, nil, 2000, "usd")

	if err := service.ReconcilePendingPayments(context.Background(), 100); err != nil {
		t.Fatalf("expected reconcile to succeed, got %v", err)
	}

	if !repo.verified[succeededApp.ID] {
		t.Fatal("succeeded intent must confirm the payment")
	}
	if repo.verified[canceledApp.ID] || repo.verified[stillOpenApp.ID] || repo.verified[unreachableApp.ID] {
		t.Fatal("only the succeeded intent may confirm")
	}
	if repo.failed[canceledApp.ID] == "" {
		t.Fatal("canceled intent must record a failure")
	}
	if _, ok := repo.failed[stillOpenApp.ID]; ok {
		t.Fatal("an open intent must be left alone")
	}
}

func TestReconcilePendingPayments_RespectsBatchSize(t *testing.T) {
	first := pendingApplication("pi_1")
	second := pendingApplication("pi_2")

	repo := &reconcileRepoStub{pending: []domain.Application{first, second}}
	client := &reconcilePaymentStub{intents: map[string]*stripeclient.PaymentIntent{
		"pi_1": {ID: "pi_1", Status: "succeeded"},
		"pi_2": {ID: "pi_2", Status: "succeeded"},
	}}
	service := NewService(repo, client, nil, nil, 2000, "usd")

	if err := service.ReconcilePendingPayments(context.Background(), 1); err != nil {
		t.Fatalf("expected reconcile to succeed, got %v", err)
	}
	if !repo.verified[first.ID] {
		t.Fatal("the first pending application must be reconciled")
	}
	if repo.verified[second.ID] {
		t.Fatal("the batch limit must hold back the second application")
	}
}
