/**
 * @description
 * This package provides a client for the Stripe payment-intents API. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * processor, handling request body construction, and parsing responses.
 *
 * @dependencies
 * - context, fmt, net/http, net/url, strings, time: Standard Go libraries.
 */
package stripeclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Stripe API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new Stripe API client. Calls are bounded by the
// client timeout so a slow processor cannot block a submission.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.stripe.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// PaymentIntent is the subset of the processor's payment-intent object the
// service cares about.
type PaymentIntent struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	ClientSecret string            `json:"client_secret"`
	Metadata     map[string]string `json:"metadata"`
}

// Reusable reports whether the intent can still collect a payment, i.e. a
// second create request should hand back this intent instead of minting a
// new one.
func (pi *PaymentIntent) Reusable() bool {
	switch pi.Status {
	case "requires_payment_method", "requires_confirmation", "requires_action", "processing":
		return true
	}
	return false
}

// ErrorResponse represents an error returned by the Stripe API.
type ErrorResponse struct {
	ErrorDetail struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e *ErrorResponse) Error() string {
	if e.ErrorDetail.Message != "" {
		return fmt.Sprintf("stripe api error: %s - %s", e.ErrorDetail.Type, e.ErrorDetail.Message)
	}
	return "unknown stripe api error"
}

// CreatePaymentIntent creates a new payment intent for the given amount in
// the smallest currency unit. Metadata keys are attached so webhook events
// can be correlated back to the owning application.
func (c *Client) CreatePaymentIntent(ctx context.Context, amount int64, currency string, metadata map[string]string, receiptEmail string) (*PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(amount, 10))
	form.Set("currency", currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if receiptEmail != "" {
		form.Set("receipt_email", receiptEmail)
	}
	for k, v := range metadata {
		form.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	return c.doIntentRequest(ctx, "POST", "/v1/payment_intents", form)
}

// GetPaymentIntent retrieves the current state of an existing intent.
func (c *Client) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	return c.doIntentRequest(ctx, "GET", "/v1/payment_intents/"+url.PathEscape(intentID), nil)
}

// CancelPaymentIntent cancels an intent that will not be used again.
func (c *Client) CancelPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	return c.doIntentRequest(ctx, "POST", "/v1/payment_intents/"+url.PathEscape(intentID)+"/cancel", url.Values{})
}

// doIntentRequest is a generic helper to execute payment-intent requests.
func (c *Client) doIntentRequest(ctx context.Context, method, path string, form url.Values) (*PaymentIntent, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create intent request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute intent request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read intent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=stripe_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", path, resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=stripe_client op=%s status=%d code=%q detail=%q", path, resp.StatusCode, errResp.ErrorDetail.Code, errResp.ErrorDetail.Message)
		return nil, &errResp
	}

	var intent PaymentIntent
	if err := json.Unmarshal(bodyBytes, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode success response: %w", err)
	}
	return &intent, nil
}
