package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sevatrust/donations-backend/internal/models"
)

const (
	receiptSubject = "Thank you for your donation! - Receipt Attached"
	notifyTimeout  = 20 * time.Second
	exportTimeout  = 30 * time.Second
)

// OrderRequest is what the donation form submits to start a payment.
type OrderRequest struct {
	Amount   models.MinorUnits `json:"amount" validate:"gt=0"`
	Purpose  models.Purpose    `json:"purpose" validate:"required,donation_purpose"`
	Donor    *models.Donor     `json:"donor" validate:"required"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type OrderSummary struct {
	ID       string            `json:"id"`
	Amount   models.MinorUnits `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
}

// DonorInfo is donor data echoed back by the client. Unlike models.Donor nothing is required.
type DonorInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// DonationData is the client's copy of the donation, used for receipts and exports when the
// stored record cannot supply a field. Amount is in rupees.
type DonationData struct {
	Amount    float64   `json:"amount"`
	Purpose   string    `json:"purpose"`
	PaymentID string    `json:"paymentId,omitempty"`
	Donor     DonorInfo `json:"donor"`
}

// VerifyRequest carries the Razorpay Checkout result back from the client.
type VerifyRequest struct {
	PaymentID    string        `json:"paymentId" validate:"required"`
	OrderID      string        `json:"orderId" validate:"required"`
	Signature    string        `json:"signature" validate:"required"`
	DonationData *DonationData `json:"donationData" validate:"required"`
}

type VerifyResult struct {
	Success   bool   `json:"success"`
	PaymentID string `json:"paymentId"`
	EmailSent bool   `json:"emailSent"`
}

type ExportRequest struct {
	DonationData *DonationData     `json:"donationData" validate:"required"`
	Metadata     map[string]string `json:"metadata"`
}

// DonationService runs the donation lifecycle: order creation, payment verification,
// completion, and the best-effort receipt and export that follow.
type DonationService struct {
	gateway   PaymentGateway
	store     DonationStore
	notifier  Notifier
	exporter  DonationExporter
	keySecret string
	validate  *validator.Validate
	now       func() time.Time
	tasks     sync.WaitGroup
}

func NewDonationService(gateway PaymentGateway, store DonationStore, notifier Notifier, exporter DonationExporter, keySecret string) *DonationService {
	v := validator.New()
	_ = v.RegisterValidation("donation_purpose", func(fl validator.FieldLevel) bool {
		return models.Purpose(fl.Field().String()).Valid()
	})

	return &DonationService{
		gateway:   gateway,
		store:     store,
		notifier:  notifier,
		exporter:  exporter,
		keySecret: keySecret,
		validate:  v,
		now:       time.Now,
	}
}

// RequestOrder mints a gateway order for the donation and records it as pending.
func (s *DonationService) RequestOrder(ctx context.Context, req OrderRequest) (*OrderSummary, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now()
	receipt := fmt.Sprintf("donation_%d", now.UnixMilli())
	notes := map[string]string{
		"purpose":     string(req.Purpose),
		"donor_name":  req.Donor.Name,
		"donor_email": req.Donor.Email,
	}

	order, err := s.gateway.CreateOrder(ctx, req.Amount, receipt, notes)
	if err != nil {
		log.Printf("Failed to create order for %s donation: %v", req.Purpose, err)
		return nil, wrapAs(ErrGateway, err)
	}

	donation := &models.Donation{
		OrderID:     order.ID,
		Amount:      req.Amount.Major(),
		MinorAmount: req.Amount,
		Purpose:     req.Purpose,
		Donor:       *req.Donor,
		Receipt:     order.Receipt,
		Metadata:    req.Metadata,
		Timestamp:   now,
	}
	if err := s.store.InsertPending(ctx, donation); err != nil {
		log.Printf("Failed to record pending donation for order %s: %v", order.ID, err)
		return nil, wrapAs(ErrStore, err)
	}

	log.Printf("Donation pending: order=%s amount=%d purpose=%s donor=%s phone=%s",
		order.ID, req.Amount, req.Purpose, MaskEmail(req.Donor.Email), MaskPhone(req.Donor.Phone))
	return &OrderSummary{
		ID:       order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Receipt:  order.Receipt,
	}, nil
}

// VerifyAndComplete checks the payment signature and the gateway's capture status, then moves
// the donation to completed. The receipt email is best effort and reported in EmailSent;
// the spreadsheet export runs in the background.
func (s *DonationService) VerifyAndComplete(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if !VerifySignature(req.OrderID, req.PaymentID, req.Signature, s.keySecret) {
		log.Printf("Signature mismatch for order=%s payment=%s", req.OrderID, req.PaymentID)
		return nil, ErrSignature
	}

	payment, err := s.gateway.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		log.Printf("Failed to fetch payment %s: %v", req.PaymentID, err)
		return nil, wrapAs(ErrGateway, err)
	}
	if payment.Status != models.PaymentCaptured {
		log.Printf("Payment %s for order %s is %s, not captured", req.PaymentID, req.OrderID, payment.Status)
		return nil, fmt.Errorf("%w: status is %s", ErrPaymentNotCaptured, payment.Status)
	}
	if payment.OrderID != "" && payment.OrderID != req.OrderID {
		log.Printf("Payment %s belongs to order %s, not %s", req.PaymentID, payment.OrderID, req.OrderID)
		return nil, fmt.Errorf("%w: payment does not belong to order", ErrSignature)
	}

	matched, err := s.store.MarkCompleted(ctx, req.OrderID, req.PaymentID)
	if err != nil {
		return nil, wrapAs(ErrStore, err)
	}
	if matched == 0 {
		log.Printf("No pending donation for order %s", req.OrderID)
		return nil, fmt.Errorf("%w: order %s", ErrRecordNotFound, req.OrderID)
	}
	log.Printf("Donation completed: order=%s payment=%s", req.OrderID, req.PaymentID)

	data, metadata := s.completedDonationData(ctx, req)
	emailSent := s.sendReceipt(ctx, data)
	s.dispatchExport(data, metadata)

	return &VerifyResult{
		Success:   true,
		PaymentID: req.PaymentID,
		EmailSent: emailSent,
	}, nil
}

// completedDonationData prefers the stored record over the client's copy.
func (s *DonationService) completedDonationData(ctx context.Context, req VerifyRequest) (DonationData, map[string]string) {
	data := *req.DonationData
	data.PaymentID = req.PaymentID

	stored, err := s.store.FindByOrderID(ctx, req.OrderID)
	if err != nil {
		log.Printf("Using client donation data for receipt of order %s: %v", req.OrderID, err)
		return data, nil
	}

	data.Amount = stored.Amount
	data.Purpose = string(stored.Purpose)
	data.Donor = DonorInfo{
		Name:  stored.Donor.Name,
		Email: stored.Donor.Email,
		Phone: stored.Donor.Phone,
	}
	return data, stored.Metadata
}

func (s *DonationService) sendReceipt(ctx context.Context, data DonationData) bool {
	body, err := RenderReceipt(s.receiptData(data))
	if err != nil {
		log.Printf("Failed to render receipt for payment %s: %v", data.PaymentID, err)
		return false
	}

	// the donation is already completed; a client disconnect must not abort the email
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	messageID, err := s.notifier.Send(sendCtx, data.Donor.Email, receiptSubject, body)
	if err != nil {
		log.Printf("Email sending failed for payment %s: %v", data.PaymentID, err)
		return false
	}
	log.Printf("Receipt emailed for payment %s to %s: message=%s", data.PaymentID, MaskEmail(data.Donor.Email), messageID)
	return true
}

func (s *DonationService) receiptData(data DonationData) ReceiptData {
	return ReceiptData{
		PaymentID:  data.PaymentID,
		Amount:     data.Amount,
		Purpose:    data.Purpose,
		DonorName:  data.Donor.Name,
		DonorEmail: data.Donor.Email,
		DonorPhone: data.Donor.Phone,
		Timestamp:  s.now(),
	}
}

func (s *DonationService) dispatchExport(data DonationData, metadata map[string]string) {
	row := ExportRow(s.now(), data, "", metadata)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		ctx, cancel := context.WithTimeout(context.Background(), exportTimeout)
		defer cancel()

		if _, err := s.exporter.Append(ctx, row); err != nil {
			log.Printf("Spreadsheet export failed for payment %s: %v", data.PaymentID, err)
			return
		}
		log.Printf("Spreadsheet export done for payment %s", data.PaymentID)
	}()
}

// ExportDonation appends a client-reported donation to the spreadsheet.
func (s *DonationService) ExportDonation(ctx context.Context, req ExportRequest, referer string) (int, error) {
	if err := s.validate.Struct(req); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	rows, err := s.exporter.Append(ctx, ExportRow(s.now(), *req.DonationData, referer, req.Metadata))
	if err != nil {
		return 0, wrapAs(ErrExport, err)
	}
	return rows, nil
}

func (s *DonationService) DescribeExport(ctx context.Context) (*SheetInfo, error) {
	return s.exporter.Describe(ctx)
}

// RenderDownload renders a receipt for download. Fields not supplied render as placeholders.
func (s *DonationService) RenderDownload(data ReceiptData) ([]byte, error) {
	if strings.TrimSpace(data.PaymentID) == "" || data.Amount <= 0 || data.Purpose == "" || data.DonorName == "" {
		return nil, fmt.Errorf("%w: paymentId, amount, purpose and name are required", ErrValidation)
	}
	return RenderReceipt(data)
}

func (s *DonationService) ListDonations(ctx context.Context, filter DonationFilter) ([]models.Donation, error) {
	return s.store.List(ctx, filter)
}

// Wait blocks until background exports have finished.
func (s *DonationService) Wait() {
	s.tasks.Wait()
}

func wrapAs(sentinel, err error) error {
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %v", sentinel, err)
}
