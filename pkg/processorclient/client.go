/**
 * @description
 * This package provides a client for the external payment processor that tokenizes
 * payment methods, charges them, and runs the bank-account micro-deposit challenge.
 *
 * Key features:
 * - Every call runs under its own bounded timeout.
 * - A missed deadline is reported as domain.ErrTimeout, every other failure as
 *   domain.ErrGateway, so callers can branch with errors.Is.
 * - Charges are never retried by this client.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, net/http, time: Standard Go libraries.
 * - The service's internal domain package for the error taxonomy.
 */
package processorclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/savings-service/internal/domain"
)

const ChargeStatusSucceeded = "succeeded"

// CreatePaymentMethodRequest carries the raw details to tokenize. Exactly one of
// BankAccount and DebitCard is set.
type CreatePaymentMethodRequest struct {
	Type        string                     `json:"type"`
	BankAccount *domain.BankAccountDetails `json:"bank_account,omitempty"`
	DebitCard   *domain.DebitCardDetails   `json:"debit_card,omitempty"`
}

type CreatePaymentMethodResponse struct {
	MethodID   string `json:"method_id"`
	CustomerID string `json:"customer_id"`
	Last4      string `json:"last4"`
}

type ChargeRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	MethodID   string          `json:"method_id"`
	CustomerID string          `json:"customer_id"`
}

type ChargeResponse struct {
	Status   string `json:"status"`
	ChargeID string `json:"charge_id"`
	Message  string `json:"message,omitempty"`
}

type VerifyBankAccountRequest struct {
	MethodID   string             `json:"method_id"`
	CustomerID string             `json:"customer_id"`
	Amounts    [2]decimal.Decimal `json:"amounts"`
}

type VerifyBankAccountResponse struct {
	Verified bool `json:"verified"`
}

// Client is a client for the payment processor API.
type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new processor client. Each request is bounded by timeout.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		timeout:    timeout,
		httpClient: &http.Client{},
	}
}

// CreatePaymentMethod tokenizes a bank account or debit card.
func (c *Client) CreatePaymentMethod(ctx context.Context, req CreatePaymentMethodRequest) (*CreatePaymentMethodResponse, error) {
	var resp CreatePaymentMethodResponse
	url := fmt.Sprintf("%s/v1/payment-methods", c.baseURL)
	if err := c.do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}
	if resp.MethodID == "" {
		return nil, fmt.Errorf("%w: processor returned no payment method id", domain.ErrGateway)
	}
	return &resp, nil
}

// Charge debits amount from a tokenized payment method. A declined charge is returned as
// a response with a non-succeeded status, not as an error.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResponse, error) {
	var resp ChargeResponse
	url := fmt.Sprintf("%s/v1/charges", c.baseURL)
	if err := c.do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// VerifyBankAccount submits the two micro-deposit amounts for a bank account.
func (c *Client) VerifyBankAccount(ctx context.Context, req VerifyBankAccountRequest) (*VerifyBankAccountResponse, error) {
	var resp VerifyBankAccountResponse
	url := fmt.Sprintf("%s/v1/payment-methods/%s/verify", c.baseURL, req.MethodID)
	if err := c.do(ctx, http.MethodPost, url, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do is a helper function to make HTTP requests to the processor API.
func (c *Client) do(ctx context.Context, method, url string, body, target interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Printf("level=warn component=processorclient msg=\"request timed out\" method=%s url=%s", method, url)
			return fmt.Errorf("%w: %s %s", domain.ErrTimeout, method, url)
		}
		return fmt.Errorf("%w: http request failed: %v", domain.ErrGateway, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: reading response from %s", domain.ErrTimeout, url)
		}
		return fmt.Errorf("%w: failed to read response body: %v", domain.ErrGateway, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=processorclient msg=\"non-success status\" status=%d body=%q", resp.StatusCode, string(respBody))
		return fmt.Errorf("%w: processor API error: status %d", domain.ErrGateway, resp.StatusCode)
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("%w: failed to unmarshal response body: %v", domain.ErrGateway, err)
		}
	}

	return nil
}
