/**
 * @description
 * Form-side use cases: creating a draft, loading and saving it, and
 * managing uploaded PDF documents. Everything here is only legal while the
 * application is still a draft; the submit transition freezes the form.
 *
 * @dependencies
 * - bytes, context, fmt, strings: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 */

package app

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
)

var pdfMagic = []byte("%PDF-")

// CreateApplication starts a fresh draft for the caller. The store's
// partial unique index rejects a second in-flight application per user.
func (s *Service) CreateApplication(ctx context.Context, caller *domain.Profile) (*domain.Application, error) {
	return s.repo.CreateApplication(ctx, caller.UserID)
}

// LoadApplication returns an application the caller may see. Callers
// without visibility get not-found, not forbidden, so the endpoint does
// not leak which ids exist.
func (s *Service) LoadApplication(ctx context.Context, id uuid.UUID, caller *domain.Profile) (*domain.Application, error) {
	app, err := s.repo.FindApplicationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	visible, err := s.canSee(ctx, caller, app)
	if err != nil {
		return nil, err
	}
	if !visible {
		return nil, store.ErrApplicationNotFound
	}
	// The decision is held until release.
	if !app.DecisionVisible() && caller.Role == domain.RoleApplicant {
		app.Decision = nil
	}
	return app, nil
}

// SaveDraft applies a partial field update to the caller's draft. The
// update carries the version token the client last read; a mismatch means
// another tab saved first and the caller must reload.
func (s *Service) SaveDraft(ctx context.Context, id uuid.UUID, caller *domain.Profile, update domain.DraftUpdate) (*domain.Application, error) {
	app, err := s.repo.FindApplicationByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != caller.UserID {
		return nil, store.ErrApplicationNotFound
	}
	if update.PaymentMethod != nil && !update.PaymentMethod.Valid() {
		return nil, validationErr("unknown payment method %q", *update.PaymentMethod)
	}
	return s.repo.UpdateDraft(ctx, id, update)
}

// UploadDocument stores a PDF for a draft application: bytes to blob
// storage, metadata to the database. Only PDFs up to the configured size
// are accepted, and only while the application is a draft.
func (s *Service) UploadDocument(ctx context.Context, applicationID uuid.UUID, caller *domain.Profile, fileName string, fileType domain.DocumentType, data []byte) (*domain.ApplicationDocument, error) {
	app, err := s.repo.FindApplicationByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if app.OwnerID != caller.UserID {
		return nil, store.ErrApplicationNotFound
	}
	if app.CurrentStatus != domain.StatusDraft {
		return nil, store.ErrNotDraft
	}
	if !fileType.Valid() {
		return nil, validationErr("unknown document type %q", fileType)
	}
	if int64(len(data)) > s.maxDocumentSizeBytes {
		return nil, validationErr("document exceeds %d bytes", s.maxDocumentSizeBytes)
	}
	if len(data) == 0 || !bytes.HasPrefix(data, pdfMagic) {
		return nil, validationErr("only PDF documents are accepted")
	}
	if fileType == domain.DocumentTypePrimary {
		count, err := s.repo.CountDocumentsByType(ctx, applicationID, domain.DocumentTypePrimary)
		if err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, validationErr("a primary document is already uploaded")
		}
	}

	doc := &domain.ApplicationDocument{
		ID:            uuid.New(),
		ApplicationID: applicationID,
		FileType:      fileType,
		FileName:      sanitizeFileName(fileName),
		SizeBytes:     int64(len(data)),
	}
	doc.StoragePath = fmt.Sprintf("applications/%s/%s/%s.pdf", app.OwnerID, applicationID, doc.ID)

	if err := s.storage.Put(ctx, doc.StoragePath, data, "application/pdf"); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}
	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		// Best effort: don't leave an orphan blob behind.
		if delErr := s.storage.Delete(ctx, doc.StoragePath); delErr != nil {
			log.Printf("level=warn component=app msg=\"orphan blob cleanup failed\" path=%s err=%v", doc.StoragePath, delErr)
		}
		return nil, err
	}
	return doc, nil
}

// DeleteDocument removes a document while the owning application is still
// a draft.
func (s *Service) DeleteDocument(ctx context.Context, documentID uuid.UUID, caller *domain.Profile) error {
	doc, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return err
	}
	app, err := s.repo.FindApplicationByID(ctx, doc.ApplicationID)
	if err != nil {
		return err
	}
	if app.OwnerID != caller.UserID {
		return store.ErrDocumentNotFound
	}
	if app.CurrentStatus != domain.StatusDraft {
		return store.ErrNotDraft
	}
	if err := s.repo.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if err := s.storage.Delete(ctx, doc.StoragePath); err != nil {
		log.Printf("level=warn component=app msg=\"blob delete failed\" path=%s err=%v", doc.StoragePath, err)
	}
	return nil
}

// ListDocuments returns the documents of an application the caller may see.
func (s *Service) ListDocuments(ctx context.Context, applicationID uuid.UUID, caller *domain.Profile) ([]domain.ApplicationDocument, error) {
	if _, err := s.LoadApplication(ctx, applicationID, caller); err != nil {
		return nil, err
	}
	return s.repo.ListDocumentsByApplication(ctx, applicationID)
}

// DocumentURL returns a time-limited download URL for a document the
// caller may see.
func (s *Service) DocumentURL(ctx context.Context, documentID uuid.UUID, caller *domain.Profile, ttl time.Duration) (string, error) {
	doc, err := s.repo.FindDocumentByID(ctx, documentID)
	if err != nil {
		return "", err
	}
	if _, err := s.LoadApplication(ctx, doc.ApplicationID, caller); err != nil {
		return "", err
	}
	return s.storage.SignedURL(ctx, doc.StoragePath, ttl)
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	if name == "" {
		name = "document.pdf"
	}
	return name
}
