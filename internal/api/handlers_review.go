/**
 * @description
 * This file contains the HTTP handlers for the review-side API endpoints:
 * payment verification, pipeline transitions, decision recording and
 * release, admin overrides, and reviewer assignment.
 *
 * @dependencies
 * - encoding/json, net/http, strconv: Standard Go libraries.
 * - internal/domain: For status, decision, and filter types.
 */

package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/domain"
)

// VerifyPaymentHandler records a reviewer's bank-transfer attestation check
// and moves the application to payment_received.
func (h *ApplicationHandlers) VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	if err := h.service.VerifyAttestationPayment(r.Context(), id, caller); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusPaymentReceived)})
}

// StartReviewHandler advances a paid application into review.
func (h *ApplicationHandlers) StartReviewHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	if err := h.service.StartReview(r.Context(), id, caller); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusInReview)})
}

// RecordDecisionHandler stores an accept/reject decision without releasing
// it to the applicant.
func (h *ApplicationHandlers) RecordDecisionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	var payload struct {
		Decision domain.Decision `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.RecordDecision(r.Context(), id, caller, payload.Decision); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"decision": string(payload.Decision)})
}

// ReleaseDecisionHandler makes a recorded decision visible to the applicant.
func (h *ApplicationHandlers) ReleaseDecisionHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	if err := h.service.ReleaseDecision(r.Context(), id, caller); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(domain.StatusDecisionReleased)})
}

// ReleaseAllDecisionsHandler releases every releasable decision the caller
// can act on, reporting per-application outcomes.
func (h *ApplicationHandlers) ReleaseAllDecisionsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	outcomes, err := h.service.ReleaseAllPendingDecisions(r.Context(), caller)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	released := 0
	for _, o := range outcomes {
		if o.Released {
			released++
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"released": released,
		"total":    len(outcomes),
		"outcomes": outcomes,
	})
}

// ForceSetStatusHandler is the admin-only escape hatch that sets any status
// directly, with the override recorded in the audit trail.
func (h *ApplicationHandlers) ForceSetStatusHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	var payload struct {
		Status domain.Status `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.ForceSetStatus(r.Context(), id, caller, payload.Status); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": string(payload.Status)})
}

// AssignReviewerHandler grants a reviewer access to an application.
func (h *ApplicationHandlers) AssignReviewerHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}
	id, ok := h.pathUUID(w, r, "applicationID")
	if !ok {
		return
	}

	var payload struct {
		ReviewerID uuid.UUID `json:"reviewer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.ReviewerID == uuid.Nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.service.AssignReviewer(r.Context(), caller, payload.ReviewerID, id); err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"status": "assigned"})
}

// applicationSummary is one row of the review-side listing, carrying the
// display label alongside the raw status.
type applicationSummary struct {
	domain.Application
	StatusLabel string `json:"status_label"`
}

// ListApplicationsHandler returns the review-side application listing.
// Admins see everything; reviewers only their assignments. Supports
// ?status=, ?limit= and ?offset= query parameters.
func (h *ApplicationHandlers) ListApplicationsHandler(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.callerProfile(w, r)
	if !ok {
		return
	}

	var filter domain.ApplicationFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := domain.Status(raw)
		if !status.Valid() {
			h.writeError(w, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	apps, err := h.service.ListApplications(r.Context(), caller, filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	summaries := make([]applicationSummary, 0, len(apps))
	for _, app := range apps {
		summaries = append(summaries, applicationSummary{
			Application: app,
			StatusLabel: app.CurrentStatus.Label(),
		})
	}
	h.writeJSON(w, http.StatusOK, summaries)
}
