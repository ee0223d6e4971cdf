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

type formRepoStub struct {
	store.Repository

	app         *domain.Application
	primaryDocs int
	docs        map[uuid.UUID]*domain.ApplicationDocument

	createdDoc     *domain.ApplicationDocument
	createDocErr   error
	savedUpdate    *domain.DraftUpdate
	updateDraftErr error
	assigned       bool
}

func (s *formRepoStub) FindApplicationByID(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	if s.app == nil || s.app.ID != id {
		return nil, store.ErrApplicationNotFound
	}
	copied := *s.app
	return &copied, nil
}

func (s *formRepoStub) CountDocumentsByType(ctx context.Context, applicationID uuid.UUID, fileType domain.DocumentType) (int, error) {
	return s.primaryDocs, nil
}

func (s *formRepoStub) CreateDocument(ctx context.Context, doc *domain.ApplicationDocument) error {
	if s.createDocErr != nil {
		return s.createDocErr
	}
	s.createdDoc = doc
	return nil
}

func (s *formRepoStub) UpdateDraft(ctx context.Context, id uuid.UUID, update domain.DraftUpdate) (*domain.Application, error) {
	if s.updateDraftErr != nil {
		return nil, s.updateDraftErr
	}
	s.savedUpdate = &update
	copied := *s.app
	copied.Version++
	return &copied, nil
}

func (s *formRepoStub) FindDocumentByID(ctx context.Context, id uuid.UUID) (*domain.ApplicationDocument, error) {
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *formRepoStub) IsReviewerAssigned(ctx context.Context, reviewerID, applicationID uuid.UUID) (bool, error) {
	return s.assigned, nil
}

type blobStub struct {
	putPaths    []string
	deletePaths []string
	putErr      error
}

func (b *blobStub) Put(ctx context.Context, path string, data []byte, contentType string) error {
	if b.putErr != nil {
		return b.putErr
	}
	b.putPaths = append(b.putPaths, path)
	return nil
}

func (b *blobStub) Delete(ctx context.Context, path string) error {
	b.deletePaths = append(b.deletePaths, path)
	return nil
}

func (b *blobStub) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	return "https://blobs.example.com/" + path + "?signed=1", nil
}

func pdfBytes() []byte {
	return []byte("%PDF-1.7\n%fake body\n%%EOF")
}

func TestUploadDocument_StoresPDF(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{app: &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft}}
	blobs := &blobStub{}
	service := NewService(repo, nil, blobs, nil, 2000, "usd")

	doc, err := service.UploadDocument(context.Background(), repo.app.ID, owner, "transcript.pdf", domain.DocumentTypePrimary, pdfBytes())
	if err != nil {
		t.Fatalf("expected upload to succeed, got %v", err)
	}
	if doc.FileName != "transcript.pdf" {
		t.Fatalf("unexpected file name %q", doc.FileName)
	}
	if len(blobs.putPaths) != 1 || blobs.putPaths[0] != doc.StoragePath {
		t.Fatalf("expected one blob write at %q, got %v", doc.StoragePath, blobs.putPaths)
	}
	if repo.createdDoc == nil {
		t.Fatal("expected document metadata persisted")
	}
}

func TestUploadDocument_RejectsNonPDF(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{app: &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft}}
	blobs := &blobStub{}
	service := NewService(repo, nil, blobs, nil, 2000, "usd")

	_, err := service.UploadDocument(context.Background(), repo.app.ID, owner, "resume.docx", domain.DocumentTypeSupporting, []byte("PK\x03\x04 not a pdf"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for non-PDF, got %v", err)
	}
	if len(blobs.putPaths) != 0 {
		t.Fatal("rejected upload must not reach blob storage")
	}
}

func TestUploadDocument_RejectsSecondPrimary(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{
		app:         &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft},
		primaryDocs: 1,
	}
	service := NewService(repo, nil, &blobStub{}, nil, 2000, "usd")

	_, err := service.UploadDocument(context.Background(), repo.app.ID, owner, "transcript2.pdf", domain.DocumentTypePrimary, pdfBytes())
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for second primary, got %v", err)
	}
}

func TestUploadDocument_RejectsAfterSubmit(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{app: &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusSubmitted}}
	service := NewService(repo, nil, &blobStub{}, nil, 2000, "usd")

	_, err := service.UploadDocument(context.Background(), repo.app.ID, owner, "late.pdf", domain.DocumentTypeSupporting, pdfBytes())
	if !errors.Is(err, store.ErrNotDraft) {
		t.Fatalf("expected not-draft error, got %v", err)
	}
}

func TestUploadDocument_CleansUpOrphanBlobOnMetadataFailure(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{
		app:          &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft},
		createDocErr: errors.New("insert failed"),
	}
	blobs := &blobStub{}
	service := NewService(repo, nil, blobs, nil, 2000, "usd")

	_, err := service.UploadDocument(context.Background(), repo.app.ID, owner, "transcript.pdf", domain.DocumentTypeSupporting, pdfBytes())
	if err == nil {
		t.Fatal("expected the metadata failure to propagate")
	}
	if len(blobs.deletePaths) != 1 {
		t.Fatalf("expected the orphan blob deleted, got %v", blobs.deletePaths)
	}
}

func TestSaveDraft_RejectsUnknownPaymentMethod(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{app: &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft}}
	service := newTestService(repo)

	bad := domain.PaymentMethod("cash_in_envelope")
	_, err := service.SaveDraft(context.Background(), repo.app.ID, owner, domain.DraftUpdate{PaymentMethod: &bad})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if repo.savedUpdate != nil {
		t.Fatal("invalid update must not reach the repository")
	}
}

func TestSaveDraft_PropagatesVersionConflict(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{
		app:            &domain.Application{ID: uuid.New(), OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft, Version: 4},
		updateDraftErr: store.ErrVersionConflict,
	}
	service := newTestService(repo)

	_, err := service.SaveDraft(context.Background(), repo.app.ID, owner, domain.DraftUpdate{FullName: ptrString("Ada"), Version: 3})
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestLoadApplication_HidesUnreleasedDecisionFromApplicant(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	decision := domain.DecisionAccepted
	repo := &formRepoStub{app: &domain.Application{
		ID:            uuid.New(),
		OwnerID:       owner.UserID,
		CurrentStatus: domain.StatusInReview,
		Decision:      &decision,
	}}
	service := newTestService(repo)

	app, err := service.LoadApplication(context.Background(), repo.app.ID, owner)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if app.Decision != nil {
		t.Fatal("unreleased decision must be hidden from the applicant")
	}

	repo.app.CurrentStatus = domain.StatusDecisionReleased
	app, err = service.LoadApplication(context.Background(), repo.app.ID, owner)
	if err != nil {
		t.Fatalf("expected load to succeed, got %v", err)
	}
	if app.Decision == nil || *app.Decision != domain.DecisionAccepted {
		t.Fatal("released decision must be visible to the applicant")
	}
}

func TestLoadApplication_InvisibleLooksLikeNotFound(t *testing.T) {
	stranger := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	repo := &formRepoStub{app: &domain.Application{ID: uuid.New(), OwnerID: uuid.New(), CurrentStatus: domain.StatusSubmitted}}
	service := newTestService(repo)

	_, err := service.LoadApplication(context.Background(), repo.app.ID, stranger)
	if !errors.Is(err, store.ErrApplicationNotFound) {
		t.Fatalf("expected not-found for invisible application, got %v", err)
	}
}

func TestDocumentURL_SignsAfterVisibilityCheck(t *testing.T) {
	owner := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	appID := uuid.New()
	docID := uuid.New()
	repo := &formRepoStub{app: &domain.Application{ID: appID, OwnerID: owner.UserID, CurrentStatus: domain.StatusDraft}}
	repo.docs = map[uuid.UUID]*domain.ApplicationDocument{
		docID: {ID: docID, ApplicationID: appID, StoragePath: "applications/x/y/z.pdf"},
	}
	service := NewService(repo, nil, &blobStub{}, nil, 2000, "usd")

	url, err := service.DocumentURL(context.Background(), docID, owner, 15*time.Minute)
	if err != nil {
		t.Fatalf("expected signed url, got %v", err)
	}
	if url == "" {
		t.Fatal("expected a non-empty signed url")
	}

	stranger := &domain.Profile{UserID: uuid.New(), Role: domain.RoleApplicant}
	if _, err := service.DocumentURL(context.Background(), docID, stranger, 15*time.Minute); !errors.Is(err, store.ErrApplicationNotFound) {
		t.Fatalf("expected not-found for stranger, got %v", err)
	}
}
