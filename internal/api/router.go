/**
 * @description
 * This file sets up the HTTP router for the application-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS middleware for the browser portal.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions carries the web-layer knobs the router needs.
type RouterOptions struct {
	JWKSURL        string
	Audience       string
	Issuer         string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// ApplicationRoutes creates and returns the router for the application service.
func ApplicationRoutes(h *ApplicationHandlers, webhook *WebhookHandler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Webhook endpoint is authenticated by its HMAC signature, not a JWT.
	r.Post("/webhooks/stripe", webhook.ServeHTTP)

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(opts.JWKSURL, opts.Audience, opts.Issuer))

		// Applicant endpoints
		r.Post("/applications", h.CreateApplicationHandler)
		r.Get("/applications", h.ListApplicationsHandler)
		r.Get("/applications/{applicationID}", h.GetApplicationHandler)
		r.Patch("/applications/{applicationID}", h.SaveDraftHandler)
		r.Post("/applications/{applicationID}/submit", h.SubmitHandler)
		r.Post("/applications/{applicationID}/documents", h.UploadDocumentHandler)
		r.Get("/applications/{applicationID}/documents", h.ListDocumentsHandler)
		r.Post("/create-payment-intent", h.CreatePaymentIntentHandler)
		r.Get("/applications/{applicationID}/history", h.StatusHistoryHandler)

		// Document endpoints
		r.Delete("/documents/{documentID}", h.DeleteDocumentHandler)
		r.Get("/documents/{documentID}/url", h.DocumentURLHandler)

		// Review and admin endpoints
		r.Post("/applications/{applicationID}/verify-payment", h.VerifyPaymentHandler)
		r.Post("/applications/{applicationID}/start-review", h.StartReviewHandler)
		r.Post("/applications/{applicationID}/decision", h.RecordDecisionHandler)
		r.Post("/applications/{applicationID}/release", h.ReleaseDecisionHandler)
		r.Post("/applications/release-all", h.ReleaseAllDecisionsHandler)
		r.Post("/applications/{applicationID}/force-status", h.ForceSetStatusHandler)
		r.Post("/applications/{applicationID}/reviewers", h.AssignReviewerHandler)
	})

	return r
}
