package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sevatrust/donations-backend/internal/models"
	"github.com/sevatrust/donations-backend/internal/services"
)

// DonationController is the slice of services.DonationService the HTTP layer uses.
type DonationController interface {
	RequestOrder(ctx context.Context, req services.OrderRequest) (*services.OrderSummary, error)
	VerifyAndComplete(ctx context.Context, req services.VerifyRequest) (*services.VerifyResult, error)
	ExportDonation(ctx context.Context, req services.ExportRequest, referer string) (int, error)
	DescribeExport(ctx context.Context) (*services.SheetInfo, error)
	RenderDownload(data services.ReceiptData) ([]byte, error)
	ListDonations(ctx context.Context, filter services.DonationFilter) ([]models.Donation, error)
}

// SheetsCredentials describes which spreadsheet settings are present, for diagnostics only.
type SheetsCredentials struct {
	ServiceAccountEmail string
	PrivateKeySet       bool
	SheetID             string
}

type DonationHandler struct {
	service DonationController
	sheets  SheetsCredentials
}

func NewDonationHandler(service DonationController, sheets SheetsCredentials) *DonationHandler {
	return &DonationHandler{service: service, sheets: sheets}
}

func (h *DonationHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req services.OrderRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	order, err := h.service.RequestOrder(r.Context(), req)
	if err != nil {
		log.Printf("Failed to create order: %v", err)
		writeServiceError(w, err, "Failed to create order")
		return
	}

	writeJSON(w, http.StatusOK, order)
}

func (h *DonationHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req services.VerifyRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	result, err := h.service.VerifyAndComplete(r.Context(), req)
	if err != nil {
		log.Printf("Payment verification failed for order %s: %v", req.OrderID, err)
		writeServiceError(w, err, "Payment verification failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// StoreDonation exports a donation the client reports to the spreadsheet.
func (h *DonationHandler) StoreDonation(w http.ResponseWriter, r *http.Request) {
	var req services.ExportRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	rows, err := h.service.ExportDonation(r.Context(), req, r.Header.Get("Referer"))
	if err != nil {
		log.Printf("Failed to store donation in sheet: %v", err)
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to store donation data")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Donation data stored successfully",
		"rowCount": rows,
	})
}

type downloadRequest struct {
	PaymentID string    `json:"paymentId"`
	Amount    float64   `json:"amount"`
	Purpose   string    `json:"purpose"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Timestamp time.Time `json:"timestamp"`
}

func (h *DonationHandler) DownloadReceipt(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	body, err := h.service.RenderDownload(services.ReceiptData{
		PaymentID:  req.PaymentID,
		Amount:     req.Amount,
		Purpose:    req.Purpose,
		DonorName:  req.Name,
		DonorEmail: req.Email,
		DonorPhone: req.Phone,
		Timestamp:  req.Timestamp,
	})
	if err != nil {
		log.Printf("Receipt download failed for payment %s: %v", req.PaymentID, err)
		writeServiceError(w, err, "Failed to generate receipt")
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, services.ReceiptFilename(req.PaymentID)))
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// TestSheets reports which spreadsheet credentials are set and whether the sheet is reachable.
func (h *DonationHandler) TestSheets(w http.ResponseWriter, r *http.Request) {
	env := map[string]bool{
		"hasServiceAccountEmail": h.sheets.ServiceAccountEmail != "",
		"hasPrivateKey":          h.sheets.PrivateKeySet,
		"hasSheetId":             h.sheets.SheetID != "",
	}

	info, err := h.service.DescribeExport(r.Context())
	if err != nil {
		log.Printf("Sheets connectivity check failed: %v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success":     false,
			"error":       err.Error(),
			"environment": env,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "Google Sheets connection successful",
		"sheetTitle":  info.Title,
		"sheets":      info.Sheets,
		"environment": env,
	})
}

func (h *DonationHandler) ListDonations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter, err := services.ParseDonationFilter(q.Get("status"), q.Get("start_date"), q.Get("end_date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	donations, err := h.service.ListDonations(r.Context(), filter)
	if err != nil {
		log.Printf("Failed to list donations: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch donations")
		return
	}

	writeJSON(w, http.StatusOK, donations)
}

func Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

const maxBodyBytes = 64 << 10

// decodeRequest reads a bounded JSON body into v, writing the error response itself on failure.
func decodeRequest(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps the lifecycle error taxonomy onto status codes. Infrastructure
// failures get a generic message; the detail is in the log.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrSignature),
		errors.Is(err, services.ErrPaymentNotCaptured):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrRecordNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
