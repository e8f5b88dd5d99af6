package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/sevatrust/donations-backend/internal/models"
)

const CurrencyINR = "INR"

// PaymentGateway is the subset of the payment provider the donation flow relies on.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount models.MinorUnits, receipt string, notes map[string]string) (*models.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error)
}

type RazorpayService struct {
	keyID      string
	keySecret  string
	baseURL    string
	client     *http.Client
	retryDelay time.Duration
}

func NewRazorpayService(keyID, keySecret, baseURL string, timeout time.Duration) *RazorpayService {
	return &RazorpayService{
		keyID:      keyID,
		keySecret:  keySecret,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: timeout},
		retryDelay: time.Second,
	}
}

type razorpayOrderRequest struct {
	Amount   models.MinorUnits `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder mints a new order. Every call creates a distinct order, so it is never retried.
func (s *RazorpayService) CreateOrder(ctx context.Context, amount models.MinorUnits, receipt string, notes map[string]string) (*models.Order, error) {
	if !amount.Valid() {
		return nil, fmt.Errorf("%w: amount must be a positive number of paise, got %d", ErrGateway, amount)
	}

	reqBody, err := json.Marshal(razorpayOrderRequest{
		Amount:   amount,
		Currency: CurrencyINR,
		Receipt:  receipt,
		Notes:    notes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal order request: %v", ErrGateway, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/orders", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create order request: %v", ErrGateway, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.keyID, s.keySecret)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("Razorpay order request failed: %v", err)
		return nil, fmt.Errorf("%w: order request failed: %v", ErrGateway, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: order creation returned status %d: %s", ErrGateway, resp.StatusCode, describeRazorpayError(resp.Body))
	}

	var order models.Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("%w: failed to decode order response: %v", ErrGateway, err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("%w: order response carried no id", ErrGateway)
	}

	log.Printf("Razorpay order created: id=%s amount=%d receipt=%s", order.ID, order.Amount, order.Receipt)
	return &order, nil
}

const fetchAttempts = 3

// FetchPayment looks up a payment by id. Lookups are idempotent and retried up to three times
// on transport errors and 5xx responses.
func (s *RazorpayService) FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	if paymentID == "" {
		return nil, fmt.Errorf("%w: payment id is required", ErrGateway)
	}
	endpoint := s.baseURL + "/payments/" + url.PathEscape(paymentID)

	var lastErr error
	for attempt := 1; attempt <= fetchAttempts; attempt++ {
		payment, retry, err := s.fetchPaymentOnce(ctx, endpoint)
		if err == nil {
			return payment, nil
		}
		lastErr = err
		log.Printf("Razorpay payment fetch failed (attempt %d): %v", attempt, err)
		if !retry || attempt == fetchAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrGateway, ctx.Err())
		case <-time.After(s.retryDelay * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGateway, lastErr)
}

func (s *RazorpayService) fetchPaymentOnce(ctx context.Context, endpoint string) (*models.GatewayPayment, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create payment request: %v", err)
	}
	req.SetBasicAuth(s.keyID, s.keySecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("payment request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retry := resp.StatusCode >= http.StatusInternalServerError
		return nil, retry, fmt.Errorf("payment fetch returned status %d: %s", resp.StatusCode, describeRazorpayError(resp.Body))
	}

	var payment models.GatewayPayment
	if err := json.NewDecoder(resp.Body).Decode(&payment); err != nil {
		return nil, false, fmt.Errorf("failed to decode payment response: %v", err)
	}
	return &payment, false, nil
}

func describeRazorpayError(body io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	var rerr razorpayError
	if err := json.Unmarshal(raw, &rerr); err == nil && rerr.Error.Description != "" {
		return rerr.Error.Code + " " + rerr.Error.Description
	}
	return string(raw)
}
