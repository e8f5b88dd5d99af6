package models

// Order is a Razorpay order as returned by POST /v1/orders.
type Order struct {
	ID       string     `json:"id"`
	Amount   MinorUnits `json:"amount"`
	Currency string     `json:"currency"`
	Receipt  string     `json:"receipt"`
	Status   string     `json:"status"`
}

// GatewayPayment is a Razorpay payment as returned by GET /v1/payments/{id}.
type GatewayPayment struct {
	ID       string     `json:"id"`
	OrderID  string     `json:"order_id"`
	Amount   MinorUnits `json:"amount"`
	Currency string     `json:"currency"`
	Status   string     `json:"status"` // created, authorized, captured, refunded, failed
	Method   string     `json:"method"`
	Email    string     `json:"email"`
	Contact  string     `json:"contact"`
}

const PaymentCaptured = "captured"
