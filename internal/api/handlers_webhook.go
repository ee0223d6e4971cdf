/**
 * @description
 * This file contains the HTTP handler for processing incoming webhooks from the
 * payment processor. It is the primary signal that an application fee has been
 * paid, so it is held to a stricter standard than the rest of the API:
 *
 * - Security: Validates the HMAC signature of incoming webhooks before
 *   touching the payload, using a constant-time comparison.
 * - Idempotency: Redelivered "payment succeeded" events are acknowledged
 *   as successful no-ops; the guarded database update ensures the
 *   transition effects apply exactly once.
 * - Acknowledgement: Unrecognized event types are acknowledged with 200 so
 *   the processor stops retrying them.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, crypto/subtle, encoding/hex: For webhook signature validation.
 * - encoding/json, io, net/http: For handling the request.
 * - internal/app, internal/domain, internal/store: For confirmation logic and models.
 */

package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/admitly/application-service/internal/app"
	"github.com/admitly/application-service/internal/domain"
	"github.com/admitly/application-service/internal/store"
)

// signatureTolerance is how far a signed timestamp may lag before the
// event is treated as a replay.
const signatureTolerance = 5 * time.Minute

// maxWebhookBodyBytes caps the webhook payload size.
const maxWebhookBodyBytes = 1 << 20

// WebhookHandler processes incoming webhooks from the payment processor.
type WebhookHandler struct {
	service *app.Service
	secret  string
	now     func() time.Time
}

// NewWebhookHandler creates a new handler for the webhook endpoint.
func NewWebhookHandler(service *app.Service, secret string) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		secret:  secret,
		now:     time.Now,
	}
}

// ServeHTTP implements the http.Handler interface.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(r.Header.Get("Stripe-Signature"), body); err != nil {
		log.Printf("level=warn component=api msg=\"webhook signature rejected\" err=%v", err)
		http.Error(w, "Invalid signature", http.StatusBadRequest)
		return
	}

	var event domain.ProcessorWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	switch event.Type {
	case domain.EventPaymentIntentSucceeded:
		h.handleIntentSucceeded(w, r, &event)
	case domain.EventPaymentIntentFailed:
		h.handleIntentFailed(w, r, &event)
	default:
		// Acknowledge event types we do not act on so the processor
		// stops redelivering them.
		h.ack(w, false)
	}
}

// correlate resolves the application an intent event belongs to: from the
// intent's metadata normally, falling back to the stored payment-intent
// reference when a processor event arrives without metadata.
func (h *WebhookHandler) correlate(r *http.Request, intent *domain.ProcessorPaymentIntent) (uuid.UUID, bool) {
	if id, ok := intent.ApplicationID(); ok {
		return id, true
	}
	if intent.ID == "" {
		return uuid.Nil, false
	}
	id, err := h.service.ResolveIntentApplication(r.Context(), intent.ID)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func (h *WebhookHandler) handleIntentSucceeded(w http.ResponseWriter, r *http.Request, event *domain.ProcessorWebhookEvent) {
	intent := &event.Data.Object
	applicationID, ok := h.correlate(r, intent)
	if !ok {
		http.Error(w, "Missing application correlation metadata", http.StatusBadRequest)
		return
	}

	applied, err := h.service.ConfirmProcessorPayment(r.Context(), applicationID, intent.ID)
	if err != nil {
		if errors.Is(err, store.ErrApplicationNotFound) {
			http.Error(w, "Unknown application", http.StatusNotFound)
			return
		}
		log.Printf("level=error component=api msg=\"webhook confirmation failed\" event_id=%s application_id=%s err=%v", event.ID, applicationID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	if applied {
		log.Printf("level=info component=api msg=\"payment confirmed via webhook\" event_id=%s application_id=%s intent_id=%s", event.ID, applicationID, intent.ID)
	} else {
		log.Printf("level=info component=api msg=\"webhook redelivery ignored\" event_id=%s application_id=%s", event.ID, applicationID)
	}
	h.ack(w, applied)
}

func (h *WebhookHandler) handleIntentFailed(w http.ResponseWriter, r *http.Request, event *domain.ProcessorWebhookEvent) {
	intent := &event.Data.Object
	applicationID, ok := h.correlate(r, intent)
	if !ok {
		http.Error(w, "Missing application correlation metadata", http.StatusBadRequest)
		return
	}

	reason := "payment failed"
	if len(intent.LastError) > 0 {
		var lastErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(intent.LastError, &lastErr) == nil && lastErr.Message != "" {
			reason = lastErr.Message
		}
	}

	applied, err := h.service.FailProcessorPayment(r.Context(), applicationID, reason)
	if err != nil {
		if errors.Is(err, store.ErrApplicationNotFound) {
			http.Error(w, "Unknown application", http.StatusNotFound)
			return
		}
		log.Printf("level=error component=api msg=\"webhook failure update failed\" event_id=%s application_id=%s err=%v", event.ID, applicationID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.ack(w, applied)
}

// verifySignature checks the "t=<unix>,v1=<hex hmac>" signature header. The
// signed payload is the timestamp and raw body joined by a period; the
// comparison is constant-time.
func (h *WebhookHandler) verifySignature(header string, body []byte) error {
	if h.secret == "" {
		return errors.New("webhook secret not configured")
	}
	if header == "" {
		return errors.New("missing signature header")
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errors.New("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid signature timestamp: %w", err)
	}
	if h.now().Sub(time.Unix(ts, 0)) > signatureTolerance {
		return errors.New("signature timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if subtle.ConstantTimeCompare([]byte(expected), []byte(sig)) == 1 {
			return nil
		}
	}
	return errors.New("no matching v1 signature")
}

// ack acknowledges the event. The applied flag tells the caller whether a
// mutation occurred or the event was an idempotent no-op.
func (h *WebhookHandler) ack(w http.ResponseWriter, applied bool) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":true,"applied":%t}`, applied)
}
