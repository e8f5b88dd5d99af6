package services

import "errors"

// Donation lifecycle error taxonomy. Producers wrap these with fmt.Errorf("%w: ...")
// and callers match with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrSignature          = errors.New("invalid signature")
	ErrPaymentNotCaptured = errors.New("payment not captured")
	ErrRecordNotFound     = errors.New("donation record not found")
	ErrGateway            = errors.New("payment gateway error")
	ErrStore              = errors.New("donation store error")
	ErrNotify             = errors.New("notification failed")
	ErrExport             = errors.New("spreadsheet export failed")
)
