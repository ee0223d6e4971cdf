/**
 * @description
 * This file defines the payload shapes for events the application-service
 * exchanges with the outside world: inbound payment-processor webhook
 * events and outbound applicant notification events published to RabbitMQ.
 */

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Processor webhook event types the service acts on. Everything else is
// acknowledged and ignored.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
)

// ProcessorWebhookEvent is the envelope of an inbound processor webhook.
type ProcessorWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object ProcessorPaymentIntent `json:"object"`
	} `json:"data"`
}

// ProcessorPaymentIntent is the payment-intent object carried inside a
// webhook event or returned by the processor API.
type ProcessorPaymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret,omitempty"`
	Metadata     map[string]string `json:"metadata"`
	LastError    json.RawMessage   `json:"last_payment_error,omitempty"`
}

// ApplicationID extracts the correlating application id from the intent
// metadata. Returns uuid.Nil and false when absent or malformed.
func (pi *ProcessorPaymentIntent) ApplicationID() (uuid.UUID, bool) {
	raw, ok := pi.Metadata["application_id"]
	if !ok || raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Routing keys for outbound notification events on the portal exchange.
const (
	NotificationExchange       = "portal.events"
	RoutingKeySubmitted        = "application.submitted"
	RoutingKeyPaymentVerified  = "application.payment.verified"
	RoutingKeyDecisionReleased = "application.decision.released"
)

// ApplicationEvent is the payload published for applicant notifications.
// The notification worker renders the matching email from it.
type ApplicationEvent struct {
	ApplicationID uuid.UUID `json:"application_id"`
	OwnerID       uuid.UUID `json:"owner_id"`
	OwnerEmail    string    `json:"owner_email,omitempty"`
	Status        Status    `json:"status"`
	Decision      *Decision `json:"decision,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
