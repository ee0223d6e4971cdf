/**
 * @description
 * This file contains the HTTP handlers for the applicant-facing API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/app"
	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
)

// maxUploadBytes caps the multipart request body for document uploads. It is
// slightly above the per-file limit so the form overhead fits.
const maxUploadBytes = 11 << 20

// ApplicationHandlers holds the application service that handlers will use.
type ApplicationHandlers struct {
	service      *app.Service
	signedURLTTL time.Duration
}

// NewApplicationHandlers creates a new instance of ApplicationHandlers.
func NewApplicationHandlers(service *app.Service, signedURLTTL time.Duration) *ApplicationHandlers {
	return &ApplicationHandlers{service: service, signedURLTTL: signedURLTTL}
}

// callerProfile resolves the authenticated subject into a profile, writing
// the error response itself when that fails.
func (h *ApplicationHandlers) callerProfile(w http.ResponseWriter, r *http.Request) (*domain.Profile, bool) {
	subject, ok := GetAuthSubject(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	profile, err := h.service.ResolveProfile(r.Context(), subject)
	if err != nil {
		if errors.Is(err, store.ErrProfileNotFound) {
			h.writeError(w, http.StatusForbidden, "No profile for authenticated user")
			return nil, false
		}
		log.Printf("level=error component=api msg=\"profile lookup failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Unable to resolve profile")
		return nil, false
	}
	return profile, true
}

// pathUUID parses a UUID URL parameter, writing a 400 on failure.
func (h *ApplicationHandlers) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// CreateApplicationHandler starts a new draft application for the caller.
func (h *ApplicationHandlers) CreateApplicationHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	application, err := h.service.CreateApplication(r.Context(), caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, application)
}

// GetApplicationHandler returns one application, subject to visibility rules.
func (h *ApplicationHandlers) GetApplicationHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	application, err := h.service.LoadApplication(r.Context(), id, caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, application)
}

// SaveDraftHandler applies a partial update to a draft application.
func (h *ApplicationHandlers) SaveDraftHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	var update domain.DraftUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	application, err := h.service.SaveDraft(r.Context(), id, caller, update)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, application)
}

// SubmitHandler finalizes a draft and moves it into the review pipeline.
func (h *ApplicationHandlers) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	application, err := h.service.Submit(r.Context(), id, caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, application)
}

// UploadDocumentHandler accepts a single PDF as multipart form data under
// the "file" field, with the document type in the "file_type" field.
func (h *ApplicationHandlers) UploadDocumentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid multipart payload or file too large")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Missing file field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Cannot read uploaded file")
		return
	}

	fileType := domain.DocumentType(r.FormValue("file_type"))
	doc, err := h.service.UploadDocument(r.Context(), id, caller, header.Filename, fileType, data)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, doc)
}

// ListDocumentsHandler returns the documents attached to an application.
func (h *ApplicationHandlers) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	docs, err := h.service.ListDocuments(r.Context(), id, caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, docs)
}

// DeleteDocumentHandler removes a document from a draft application.
func (h *ApplicationHandlers) DeleteDocumentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "documentID")
	if !ok {
		return
	}

	if err := h.service.DeleteDocument(r.Context(), id, caller); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DocumentURLHandler returns a short-lived signed download URL.
func (h *ApplicationHandlers) DocumentURLHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "documentID")
	if !ok {
		return
	}

	url, err := h.service.DocumentURL(r.Context(), id, caller, h.signedURLTTL)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"url":        url,
		"expires_in": int(h.signedURLTTL.Seconds()),
	})
}

// CreatePaymentIntentHandler returns a client secret for collecting the
// application fee. Existing collectable intents are reused.
func (h *ApplicationHandlers) CreatePaymentIntentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	var payload struct {
		ApplicationID uuid.UUID `json:"application_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ApplicationID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Invalid or missing application_id")
		return
	}

	clientSecret, err := h.service.CreatePaymentIntent(r.Context(), payload.ApplicationID, caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"client_secret": clientSecret})
}

// StatusHistoryHandler returns the append-only status audit trail.
func (h *ApplicationHandlers) StatusHistoryHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	history, err := h.service.StatusHistory(r.Context(), id, caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, history)
}

// handleServiceError maps service and store errors to HTTP responses.
func (h *ApplicationHandlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrRateLimited):
		h.writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, app.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, store.ErrApplicationNotFound),
		errors.Is(err, store.ErrDocumentNotFound),
		errors.Is(err, store.ErrProfileNotFound):
		h.writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, app.ErrAlreadyVerified):
		h.writeError(w, http.StatusConflict, "Payment already verified")
	case errors.Is(err, store.ErrVersionConflict):
		h.writeError(w, http.StatusConflict, "Draft was modified concurrently; reload and retry")
	case errors.Is(err, store.ErrNotDraft):
		h.writeError(w, http.StatusConflict, "Application is no longer editable")
	case errors.Is(err, store.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, "Invalid status transition")
	case errors.Is(err, store.ErrDecisionMissing):
		h.writeError(w, http.StatusConflict, "No decision recorded")
	case errors.Is(err, store.ErrActiveApplicationExists):
		h.writeError(w, http.StatusConflict, "An active application already exists")
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *ApplicationHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *ApplicationHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
