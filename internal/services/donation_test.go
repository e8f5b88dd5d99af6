package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sevatrust/donations-backend/internal/models"
)

const testSecret = "rzp_test_secret"

type donationFixture struct {
	gateway  *MockGateway
	store    *MemoryStore
	notifier *MockNotifier
	exporter *MockExporter
	service  *DonationService
}

func newDonationFixture() *donationFixture {
	f := &donationFixture{
		gateway:  NewMockGateway(),
		store:    NewMemoryStore(),
		notifier: &MockNotifier{},
		exporter: &MockExporter{},
	}
	f.service = NewDonationService(f.gateway, f.store, f.notifier, f.exporter, testSecret)
	f.service.now = func() time.Time { return time.Date(2025, 1, 15, 4, 30, 0, 0, time.UTC) }
	return f
}

func ashaOrder() OrderRequest {
	return OrderRequest{
		Amount:  50000,
		Purpose: models.PurposeEducation,
		Donor:   &models.Donor{Name: "Asha", Email: "asha@example.com", Phone: "9876543210"},
		Metadata: map[string]string{
			"language": "en-IN",
			"city":     "Pune",
		},
	}
}

func verifyRequest(orderID, paymentID, signature string) VerifyRequest {
	return VerifyRequest{
		PaymentID: paymentID,
		OrderID:   orderID,
		Signature: signature,
		DonationData: &DonationData{
			Amount:  500,
			Purpose: "Education",
			Donor:   DonorInfo{Name: "Asha", Email: "asha@example.com"},
		},
	}
}

func (f *donationFixture) pendingOrder(t *testing.T) string {
	t.Helper()
	order, err := f.service.RequestOrder(context.Background(), ashaOrder())
	if err != nil {
		t.Fatalf("RequestOrder() error = %v", err)
	}
	return order.ID
}

func TestRequestOrder(t *testing.T) {
	f := newDonationFixture()

	order, err := f.service.RequestOrder(context.Background(), ashaOrder())
	if err != nil {
		t.Fatalf("RequestOrder() error = %v", err)
	}
	if order.Amount != 50000 || order.Currency != CurrencyINR {
		t.Errorf("order = %+v, want 50000 INR", order)
	}
	if order.Receipt != "donation_1736915400000" {
		t.Errorf("receipt = %q", order.Receipt)
	}

	stored, ok := f.store.Get(order.ID)
	if !ok {
		t.Fatalf("no record stored for %s", order.ID)
	}
	if stored.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if stored.Amount != 500 || stored.MinorAmount != 50000 {
		t.Errorf("amount = %v (minor %d), want 500 (50000)", stored.Amount, stored.MinorAmount)
	}
	if stored.Purpose != models.PurposeEducation || stored.Donor.Name != "Asha" {
		t.Errorf("stored = %+v", stored)
	}
	if f.gateway.LastNotes["purpose"] != "Education" || f.gateway.LastNotes["donor_email"] != "asha@example.com" {
		t.Errorf("notes = %v", f.gateway.LastNotes)
	}
}

func TestRequestOrderValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*OrderRequest)
	}{
		{"zero amount", func(r *OrderRequest) { r.Amount = 0 }},
		{"negative amount", func(r *OrderRequest) { r.Amount = -100 }},
		{"unknown purpose", func(r *OrderRequest) { r.Purpose = "Gaming" }},
		{"empty purpose", func(r *OrderRequest) { r.Purpose = "" }},
		{"missing donor", func(r *OrderRequest) { r.Donor = nil }},
		{"missing name", func(r *OrderRequest) { r.Donor.Name = "" }},
		{"bad email", func(r *OrderRequest) { r.Donor.Email = "not-an-email" }},
		{"missing phone", func(r *OrderRequest) { r.Donor.Phone = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newDonationFixture()
			req := ashaOrder()
			tt.mutate(&req)

			_, err := f.service.RequestOrder(context.Background(), req)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("RequestOrder() error = %v, want ErrValidation", err)
			}
			if f.gateway.orderSeq != 0 {
				t.Errorf("gateway called %d times for invalid request", f.gateway.orderSeq)
			}
		})
	}
}

func TestRequestOrderGatewayFailure(t *testing.T) {
	f := newDonationFixture()
	f.gateway.CreateOrderFunc = func(context.Context, models.MinorUnits, string, map[string]string) (*models.Order, error) {
		return nil, ErrMockGateway
	}

	_, err := f.service.RequestOrder(context.Background(), ashaOrder())
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("RequestOrder() error = %v, want ErrGateway", err)
	}
	if got, _ := f.store.List(context.Background(), DonationFilter{}); len(got) != 0 {
		t.Errorf("store has %d records after gateway failure", len(got))
	}
}

func TestRequestOrderStoreFailure(t *testing.T) {
	f := newDonationFixture()
	f.store.InsertErr = ErrMockStore

	_, err := f.service.RequestOrder(context.Background(), ashaOrder())
	if !errors.Is(err, ErrStore) {
		t.Fatalf("RequestOrder() error = %v, want ErrStore", err)
	}
}

func TestVerifyAndComplete(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)

	res, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if err != nil {
		t.Fatalf("VerifyAndComplete() error = %v", err)
	}
	f.service.Wait()

	if !res.Success || res.PaymentID != "pay_1" || !res.EmailSent {
		t.Errorf("result = %+v", res)
	}

	stored, _ := f.store.Get(orderID)
	if stored.Status != models.StatusCompleted || stored.PaymentID != "pay_1" {
		t.Errorf("stored = %s/%s, want completed/pay_1", stored.Status, stored.PaymentID)
	}
	if stored.Amount != 500 || stored.Purpose != models.PurposeEducation {
		t.Errorf("immutable fields changed: %+v", stored)
	}

	if f.notifier.Count() != 1 {
		t.Fatalf("notifier sent %d emails, want 1", f.notifier.Count())
	}
	mail := f.notifier.Sent[0]
	if mail.To != "asha@example.com" || mail.Subject != receiptSubject {
		t.Errorf("mail = %s / %s", mail.To, mail.Subject)
	}
	if !strings.Contains(string(mail.Body), "pay_1") || !strings.Contains(string(mail.Body), "500.00") {
		t.Errorf("receipt body missing payment details")
	}

	if f.exporter.Count() != 1 {
		t.Fatalf("exporter got %d rows, want 1", f.exporter.Count())
	}
	row := f.exporter.Rows[0]
	if row[6] != "pay_1" || row[8] != "en-IN" || row[13] != "Pune" {
		t.Errorf("export row = %v", row)
	}
}

func TestVerifyAndCompletePrefersStoredRecord(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)

	req := verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret))
	req.DonationData.Amount = 1
	req.DonationData.Donor.Email = "someone-else@example.com"

	if _, err := f.service.VerifyAndComplete(context.Background(), req); err != nil {
		t.Fatalf("VerifyAndComplete() error = %v", err)
	}
	f.service.Wait()

	mail := f.notifier.Sent[0]
	if mail.To != "asha@example.com" {
		t.Errorf("receipt sent to %s, want stored donor", mail.To)
	}
	if !strings.Contains(string(mail.Body), "500.00") {
		t.Errorf("receipt does not show stored amount")
	}
}

func TestVerifyAndCompleteTamperedSignature(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)

	sig := []byte(Sign(orderID, "pay_1", testSecret))
	if sig[0] == 'a' {
		sig[0] = 'b'
	} else {
		sig[0] = 'a'
	}

	_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", string(sig)))
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("VerifyAndComplete() error = %v, want ErrSignature", err)
	}
	if f.gateway.FetchCalls != 0 {
		t.Errorf("gateway queried %d times after signature failure", f.gateway.FetchCalls)
	}
	stored, _ := f.store.Get(orderID)
	if stored.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if f.notifier.Count() != 0 {
		t.Errorf("notifier called after signature failure")
	}
}

func TestVerifyAndCompleteUnknownOrder(t *testing.T) {
	f := newDonationFixture()
	f.gateway.Capture("pay_9", "order_missing")

	_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest("order_missing", "pay_9", Sign("order_missing", "pay_9", testSecret)))
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("VerifyAndComplete() error = %v, want ErrRecordNotFound", err)
	}
	if f.notifier.Count() != 0 || f.exporter.Count() != 0 {
		t.Errorf("side effects ran for unknown order")
	}
}

func TestVerifyAndCompleteNotCaptured(t *testing.T) {
	for _, status := range []string{"authorized", "failed", "created"} {
		t.Run(status, func(t *testing.T) {
			f := newDonationFixture()
			orderID := f.pendingOrder(t)
			f.gateway.PaymentStatus["pay_1"] = status
			f.gateway.PaymentOrder["pay_1"] = orderID

			_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
			if !errors.Is(err, ErrPaymentNotCaptured) {
				t.Fatalf("VerifyAndComplete() error = %v, want ErrPaymentNotCaptured", err)
			}
			stored, _ := f.store.Get(orderID)
			if stored.Status != models.StatusPending {
				t.Errorf("status = %s, want pending", stored.Status)
			}
		})
	}
}

func TestVerifyAndCompletePaymentForOtherOrder(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", "order_other")

	_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if !errors.Is(err, ErrSignature) {
		t.Fatalf("VerifyAndComplete() error = %v, want ErrSignature", err)
	}
}

func TestVerifyAndCompleteGatewayFailure(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.FetchErr = ErrMockGateway

	_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if !errors.Is(err, ErrGateway) {
		t.Fatalf("VerifyAndComplete() error = %v, want ErrGateway", err)
	}
	stored, _ := f.store.Get(orderID)
	if stored.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
}

func TestVerifyAndCompleteStoreFailure(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)
	f.store.UpdateErr = ErrMockStore

	_, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if !errors.Is(err, ErrStore) {
		t.Fatalf("VerifyAndComplete() error = %v, want ErrStore", err)
	}
}

func TestVerifyAndCompleteValidation(t *testing.T) {
	f := newDonationFixture()

	tests := []struct {
		name string
		req  VerifyRequest
	}{
		{"missing payment id", verifyRequest("order_1", "", "sig")},
		{"missing order id", verifyRequest("", "pay_1", "sig")},
		{"missing signature", verifyRequest("order_1", "pay_1", "")},
		{"missing donation data", VerifyRequest{PaymentID: "pay_1", OrderID: "order_1", Signature: "sig"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.service.VerifyAndComplete(context.Background(), tt.req); !errors.Is(err, ErrValidation) {
				t.Errorf("VerifyAndComplete() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestVerifyAndCompleteEmailFailureStillSucceeds(t *testing.T) {
	f := newDonationFixture()
	f.notifier.Err = ErrMockNotify
	f.exporter.Err = ErrExport
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)

	res, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if err != nil {
		t.Fatalf("VerifyAndComplete() error = %v", err)
	}
	f.service.Wait()

	if !res.Success || res.EmailSent {
		t.Errorf("result = %+v, want success without email", res)
	}
	stored, _ := f.store.Get(orderID)
	if stored.Status != models.StatusCompleted {
		t.Errorf("status = %s, want completed", stored.Status)
	}
}

func TestVerifyAndCompleteCanceledRequestStillEmails(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)

	var sendErr error
	notifier := &ctxCheckingNotifier{check: func(ctx context.Context) { sendErr = ctx.Err() }}
	f.service.notifier = notifier

	ctx, cancel := context.WithCancel(context.Background())
	// MemoryStore ignores ctx, so the lifecycle still reaches the email step
	cancel()

	res, err := f.service.VerifyAndComplete(ctx, verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret)))
	if err != nil {
		t.Fatalf("VerifyAndComplete() error = %v", err)
	}
	f.service.Wait()
	if !res.EmailSent || sendErr != nil {
		t.Errorf("emailSent = %v, send ctx err = %v", res.EmailSent, sendErr)
	}
}

type ctxCheckingNotifier struct {
	check func(ctx context.Context)
}

func (n *ctxCheckingNotifier) Send(ctx context.Context, to, subject string, body []byte) (string, error) {
	n.check(ctx)
	return "<ok@test>", nil
}

func TestVerifyAndCompleteConcurrent(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)
	req := verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret))

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		notFound  int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.service.VerifyAndComplete(context.Background(), req)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrRecordNotFound):
				notFound++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	f.service.Wait()

	if successes != 1 || notFound != workers-1 {
		t.Errorf("successes = %d, not found = %d", successes, notFound)
	}
	if f.notifier.Count() != 1 {
		t.Errorf("notifier sent %d emails, want 1", f.notifier.Count())
	}
	if f.exporter.Count() != 1 {
		t.Errorf("exporter got %d rows, want 1", f.exporter.Count())
	}
}

func TestVerifyAndCompleteTwiceSequential(t *testing.T) {
	f := newDonationFixture()
	orderID := f.pendingOrder(t)
	f.gateway.Capture("pay_1", orderID)
	req := verifyRequest(orderID, "pay_1", Sign(orderID, "pay_1", testSecret))

	if _, err := f.service.VerifyAndComplete(context.Background(), req); err != nil {
		t.Fatalf("first VerifyAndComplete() error = %v", err)
	}
	if _, err := f.service.VerifyAndComplete(context.Background(), req); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("second VerifyAndComplete() error = %v, want ErrRecordNotFound", err)
	}
	f.service.Wait()
}

func TestExportDonation(t *testing.T) {
	f := newDonationFixture()

	rows, err := f.service.ExportDonation(context.Background(), ExportRequest{
		DonationData: &DonationData{Amount: 250, Purpose: "Health", PaymentID: "pay_2", Donor: DonorInfo{Name: "Ravi"}},
		Metadata:     map[string]string{"browser": "Firefox"},
	}, "https://trust.example.org/donate")
	if err != nil {
		t.Fatalf("ExportDonation() error = %v", err)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want 1", rows)
	}
	row := f.exporter.Rows[0]
	if row[1] != "Ravi" || row[7] != "https://trust.example.org/donate" || row[10] != "Firefox" {
		t.Errorf("row = %v", row)
	}

	if _, err := f.service.ExportDonation(context.Background(), ExportRequest{}, ""); !errors.Is(err, ErrValidation) {
		t.Errorf("ExportDonation(empty) error = %v, want ErrValidation", err)
	}

	f.exporter.Err = errors.New("quota exceeded")
	if _, err := f.service.ExportDonation(context.Background(), ExportRequest{DonationData: &DonationData{}}, ""); !errors.Is(err, ErrExport) {
		t.Errorf("ExportDonation() error = %v, want ErrExport", err)
	}
}

func TestRenderDownload(t *testing.T) {
	f := newDonationFixture()

	body, err := f.service.RenderDownload(ReceiptData{PaymentID: "pay_3", Amount: 1000, Purpose: "Health", DonorName: "Meera"})
	if err != nil {
		t.Fatalf("RenderDownload() error = %v", err)
	}
	if !strings.Contains(string(body), "Meera") || !strings.Contains(string(body), notProvided) {
		t.Errorf("receipt missing donor name or placeholders")
	}

	invalid := []ReceiptData{
		{Amount: 1000, Purpose: "Health", DonorName: "Meera"},
		{PaymentID: "pay_3", Purpose: "Health", DonorName: "Meera"},
		{PaymentID: "pay_3", Amount: 1000, DonorName: "Meera"},
		{PaymentID: "pay_3", Amount: 1000, Purpose: "Health"},
	}
	for _, data := range invalid {
		if _, err := f.service.RenderDownload(data); !errors.Is(err, ErrValidation) {
			t.Errorf("RenderDownload(%+v) error = %v, want ErrValidation", data, err)
		}
	}
}

func TestListDonations(t *testing.T) {
	f := newDonationFixture()
	first := f.pendingOrder(t)
	f.pendingOrder(t)
	f.gateway.Capture("pay_1", first)
	if _, err := f.service.VerifyAndComplete(context.Background(), verifyRequest(first, "pay_1", Sign(first, "pay_1", testSecret))); err != nil {
		t.Fatalf("VerifyAndComplete() error = %v", err)
	}
	f.service.Wait()

	all, err := f.service.ListDonations(context.Background(), DonationFilter{})
	if err != nil {
		t.Fatalf("ListDonations() error = %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d donations, want 2", len(all))
	}
	completed, _ := f.service.ListDonations(context.Background(), DonationFilter{Status: models.StatusCompleted})
	if len(completed) != 1 || completed[0].OrderID != first {
		t.Errorf("completed = %+v", completed)
	}
}
