package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sevatrust/donations-backend/internal/models"
)

// DonationStore persists donation records keyed by gateway order id.
type DonationStore interface {
	InsertPending(ctx context.Context, donation *models.Donation) error
	// MarkCompleted moves a pending donation to completed and returns the matched count.
	// Zero means no pending record exists for orderID.
	MarkCompleted(ctx context.Context, orderID, paymentID string) (int64, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Donation, error)
	List(ctx context.Context, filter DonationFilter) ([]models.Donation, error)
	ListStalePending(ctx context.Context, createdBefore time.Time) ([]models.Donation, error)
}

// DonationFilter narrows the admin listing. Zero values mean no constraint.
type DonationFilter struct {
	Status models.DonationStatus
	Start  *time.Time
	End    *time.Time
}

// ParseDonationFilter validates raw query values. Dates are RFC3339 and only applied as a pair.
func ParseDonationFilter(status, startDate, endDate string) (DonationFilter, error) {
	var f DonationFilter

	switch models.DonationStatus(status) {
	case "":
	case models.StatusPending, models.StatusCompleted:
		f.Status = models.DonationStatus(status)
	default:
		return f, fmt.Errorf("%w: invalid status filter, must be pending or completed", ErrValidation)
	}

	if startDate != "" && endDate != "" {
		start, err := time.Parse(time.RFC3339, startDate)
		if err != nil {
			return f, fmt.Errorf("%w: invalid start_date format: %v", ErrValidation, err)
		}
		end, err := time.Parse(time.RFC3339, endDate)
		if err != nil {
			return f, fmt.Errorf("%w: invalid end_date format: %v", ErrValidation, err)
		}
		if end.Before(start) {
			return f, fmt.Errorf("%w: end_date is before start_date", ErrValidation)
		}
		f.Start, f.End = &start, &end
	}
	return f, nil
}

const defaultStoreTimeout = 5 * time.Second

type MongoDonationStore struct {
	collection *mongo.Collection
	timeout    time.Duration
	now        func() time.Time
}

// NewDonationStore bounds every operation by timeout; zero or less means 5s.
func NewDonationStore(db *mongo.Database, timeout time.Duration) *MongoDonationStore {
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &MongoDonationStore{
		collection: db.Collection("donations"),
		timeout:    timeout,
		now:        time.Now,
	}
}

// EnsureIndexes creates the unique order index and the reporting index.
func (s *MongoDonationStore) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{Keys: bson.D{{Key: "orderId", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "createdAt", Value: -1}}},
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Printf("Failed to create donation indexes: %v", err)
		return fmt.Errorf("%w: failed to create indexes: %v", ErrStore, err)
	}
	return nil
}

func (s *MongoDonationStore) InsertPending(ctx context.Context, donation *models.Donation) error {
	if donation.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrStore)
	}

	now := s.now()
	donation.Status = models.StatusPending
	donation.PaymentID = ""
	donation.CreatedAt = now
	donation.UpdatedAt = time.Time{}
	if donation.Timestamp.IsZero() {
		donation.Timestamp = now
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, donation); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: donation for order %s already exists", ErrStore, donation.OrderID)
		}
		log.Printf("Failed to save donation for order %s: %v", donation.OrderID, err)
		return fmt.Errorf("%w: failed to save donation: %v", ErrStore, err)
	}
	return nil
}

// MarkCompleted is a compare-and-set on status == pending, so of two racing callers for the
// same order exactly one observes a match.
func (s *MongoDonationStore) MarkCompleted(ctx context.Context, orderID, paymentID string) (int64, error) {
	filter := bson.M{
		"orderId": orderID,
		"status":  models.StatusPending,
	}
	update := bson.M{
		"$set": bson.M{
			"paymentId": paymentID,
			"status":    models.StatusCompleted,
			"updatedAt": s.now(),
		},
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		log.Printf("Failed to complete donation for order %s: %v", orderID, err)
		return 0, fmt.Errorf("%w: failed to update donation: %v", ErrStore, err)
	}
	return res.MatchedCount, nil
}

func (s *MongoDonationStore) FindByOrderID(ctx context.Context, orderID string) (*models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var donation models.Donation
	if err := s.collection.FindOne(ctx, bson.M{"orderId": orderID}).Decode(&donation); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: order %s", ErrRecordNotFound, orderID)
		}
		return nil, fmt.Errorf("%w: failed to fetch donation: %v", ErrStore, err)
	}
	return &donation, nil
}

func (s *MongoDonationStore) List(ctx context.Context, filter DonationFilter) ([]models.Donation, error) {
	query := bson.M{}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.Start != nil && filter.End != nil {
		query["createdAt"] = bson.M{
			"$gte": *filter.Start,
			"$lte": *filter.End,
		}
	}
	return s.find(ctx, query)
}

func (s *MongoDonationStore) ListStalePending(ctx context.Context, createdBefore time.Time) ([]models.Donation, error) {
	return s.find(ctx, bson.M{
		"status":    models.StatusPending,
		"createdAt": bson.M{"$lt": createdBefore},
	})
}

func (s *MongoDonationStore) find(ctx context.Context, query bson.M) ([]models.Donation, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cur, err := s.collection.Find(ctx, query, options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}))
	if err != nil {
		log.Printf("Failed to fetch donations: %v", err)
		return nil, fmt.Errorf("%w: failed to fetch donations: %v", ErrStore, err)
	}
	defer cur.Close(ctx)

	donations := []models.Donation{}
	if err := cur.All(ctx, &donations); err != nil {
		return nil, fmt.Errorf("%w: failed to decode donations: %v", ErrStore, err)
	}
	return donations, nil
}
