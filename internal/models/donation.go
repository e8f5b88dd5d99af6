package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MinorUnits is an amount in the smallest currency subdivision (paise for INR).
// The gateway speaks minor units; the donations collection stores rupees.
type MinorUnits int64

// Major converts to the canonical rupee value stored on a donation.
func (m MinorUnits) Major() float64 {
	return float64(m) / 100
}

// Valid reports whether the amount can be used to mint an order.
func (m MinorUnits) Valid() bool {
	return m > 0
}

type DonationStatus string

const (
	StatusPending   DonationStatus = "pending"
	StatusCompleted DonationStatus = "completed"
)

type Purpose string

const (
	PurposeEducation        Purpose = "Education"
	PurposeHealth           Purpose = "Health"
	PurposeEnvironment      Purpose = "Environment"
	PurposeWomenEmpowerment Purpose = "Women Empowerment"
	PurposeChildWelfare     Purpose = "Child Welfare"
	PurposeDisasterRelief   Purpose = "Disaster Relief"
	PurposeRuralDevelopment Purpose = "Rural Development"
	PurposeOther            Purpose = "Other"
)

var purposes = map[Purpose]bool{
	PurposeEducation:        true,
	PurposeHealth:           true,
	PurposeEnvironment:      true,
	PurposeWomenEmpowerment: true,
	PurposeChildWelfare:     true,
	PurposeDisasterRelief:   true,
	PurposeRuralDevelopment: true,
	PurposeOther:            true,
}

// Valid reports whether p is one of the purposes the trust accepts donations for.
func (p Purpose) Valid() bool {
	return purposes[p]
}

type Donor struct {
	Name  string `bson:"name" json:"name" validate:"required"`
	Email string `bson:"email" json:"email" validate:"required,email"`
	Phone string `bson:"phone" json:"phone" validate:"required"`
}

// Donation is a document in the donations collection, keyed by the gateway order id.
// Amount, MinorAmount, Purpose and Donor never change after insert.
type Donation struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	OrderID     string             `bson:"orderId" json:"orderId"`
	PaymentID   string             `bson:"paymentId,omitempty" json:"paymentId,omitempty"`
	Amount      float64            `bson:"amount" json:"amount"`
	MinorAmount MinorUnits         `bson:"minorAmount" json:"minorAmount"`
	Purpose     Purpose            `bson:"purpose" json:"purpose"`
	Donor       Donor              `bson:"donor" json:"donor"`
	Receipt     string             `bson:"receipt" json:"receipt"`
	Status      DonationStatus     `bson:"status" json:"status"`
	Metadata    map[string]string  `bson:"metadata,omitempty" json:"metadata,omitempty"`
	Timestamp   time.Time          `bson:"timestamp" json:"timestamp"`
	CreatedAt   time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time          `bson:"updatedAt,omitempty" json:"updatedAt,omitempty"`
}
