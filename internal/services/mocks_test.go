package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sevatrust/donations-backend/internal/models"
)

var (
	ErrMockGateway = errors.New("mock gateway error")
	ErrMockStore   = errors.New("mock store error")
	ErrMockNotify  = errors.New("mock notify error")
)

// MockGateway implements PaymentGateway. Orders get sequential ids; payments default to
// captured for whatever order the test registers.
type MockGateway struct {
	mu              sync.Mutex
	CreateOrderFunc func(ctx context.Context, amount models.MinorUnits, receipt string, notes map[string]string) (*models.Order, error)
	PaymentStatus   map[string]string // paymentID -> status
	PaymentOrder    map[string]string // paymentID -> orderID
	FetchErr        error
	orderSeq        int
	FetchCalls      int
	LastNotes       map[string]string
}

func NewMockGateway() *MockGateway {
	return &MockGateway{
		PaymentStatus: map[string]string{},
		PaymentOrder:  map[string]string{},
	}
}

func (m *MockGateway) CreateOrder(ctx context.Context, amount models.MinorUnits, receipt string, notes map[string]string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.LastNotes = notes
	if m.CreateOrderFunc != nil {
		return m.CreateOrderFunc(ctx, amount, receipt, notes)
	}
	m.orderSeq++
	return &models.Order{
		ID:       fmt.Sprintf("order_%04d", m.orderSeq),
		Amount:   amount,
		Currency: CurrencyINR,
		Receipt:  receipt,
		Status:   "created",
	}, nil
}

func (m *MockGateway) FetchPayment(ctx context.Context, paymentID string) (*models.GatewayPayment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.FetchCalls++
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	status, ok := m.PaymentStatus[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payment %s", ErrGateway, paymentID)
	}
	return &models.GatewayPayment{
		ID:       paymentID,
		OrderID:  m.PaymentOrder[paymentID],
		Currency: CurrencyINR,
		Status:   status,
	}, nil
}

func (m *MockGateway) Capture(paymentID, orderID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PaymentStatus[paymentID] = models.PaymentCaptured
	m.PaymentOrder[paymentID] = orderID
}

// MemoryStore implements DonationStore with the same compare-and-set semantics as Mongo.
type MemoryStore struct {
	mu        sync.Mutex
	donations map[string]models.Donation
	InsertErr error
	UpdateErr error
	FindErr   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{donations: map[string]models.Donation{}}
}

func (m *MemoryStore) InsertPending(ctx context.Context, d *models.Donation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.InsertErr != nil {
		return m.InsertErr
	}
	if _, exists := m.donations[d.OrderID]; exists {
		return fmt.Errorf("%w: duplicate order %s", ErrStore, d.OrderID)
	}
	d.Status = models.StatusPending
	d.PaymentID = ""
	d.CreatedAt = time.Now()
	m.donations[d.OrderID] = *d
	return nil
}

func (m *MemoryStore) MarkCompleted(ctx context.Context, orderID, paymentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateErr != nil {
		return 0, m.UpdateErr
	}
	d, ok := m.donations[orderID]
	if !ok || d.Status != models.StatusPending {
		return 0, nil
	}
	d.Status = models.StatusCompleted
	d.PaymentID = paymentID
	d.UpdatedAt = time.Now()
	m.donations[orderID] = d
	return 1, nil
}

func (m *MemoryStore) FindByOrderID(ctx context.Context, orderID string) (*models.Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindErr != nil {
		return nil, m.FindErr
	}
	d, ok := m.donations[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", ErrRecordNotFound, orderID)
	}
	return &d, nil
}

func (m *MemoryStore) List(ctx context.Context, filter DonationFilter) ([]models.Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []models.Donation{}
	for _, d := range m.donations {
		if filter.Status != "" && d.Status != filter.Status {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *MemoryStore) ListStalePending(ctx context.Context, createdBefore time.Time) ([]models.Donation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FindErr != nil {
		return nil, m.FindErr
	}
	out := []models.Donation{}
	for _, d := range m.donations {
		if d.Status == models.StatusPending && d.CreatedAt.Before(createdBefore) {
			out = append(out, d)
		}
	}
	return out, nil
}

// Put stores d as-is, bypassing InsertPending.
func (m *MemoryStore) Put(d models.Donation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.donations[d.OrderID] = d
}

func (m *MemoryStore) Get(orderID string) (models.Donation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donations[orderID]
	return d, ok
}

type sentMail struct {
	To      string
	Subject string
	Body    []byte
}

// MockNotifier implements Notifier and records what it was asked to send.
type MockNotifier struct {
	mu   sync.Mutex
	Err  error
	Sent []sentMail
}

func (m *MockNotifier) Send(ctx context.Context, to, subject string, body []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, sentMail{To: to, Subject: subject, Body: body})
	return fmt.Sprintf("<msg-%d@test>", len(m.Sent)), nil
}

func (m *MockNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Sent)
}

// MockExporter implements DonationExporter.
type MockExporter struct {
	mu   sync.Mutex
	Err  error
	Rows [][]interface{}
	Info *SheetInfo
}

func (m *MockExporter) Append(ctx context.Context, row []interface{}) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return 0, m.Err
	}
	m.Rows = append(m.Rows, row)
	return 1, nil
}

func (m *MockExporter) Describe(ctx context.Context) (*SheetInfo, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Info, nil
}

func (m *MockExporter) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Rows)
}
