package services

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const notProvided = "Not provided"

// Receipts are dated in Indian Standard Time regardless of host zone.
var ist = time.FixedZone("IST", 5*60*60+30*60)

var amountPrinter = message.NewPrinter(language.MustParse("en-IN"))

// ReceiptData is everything a receipt shows. Amount is in rupees.
type ReceiptData struct {
	PaymentID  string
	Amount     float64
	Purpose    string
	DonorName  string
	DonorEmail string
	DonorPhone string
	Timestamp  time.Time
}

type receiptView struct {
	PaymentID   string
	Amount      string
	Purpose     string
	PurposeText string
	DonorName   string
	DonorEmail  string
	DonorPhone  string
	Date        string
}

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Donation Receipt</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { text-align: center; border-bottom: 2px solid #ed7a1a; padding-bottom: 20px; margin-bottom: 30px; }
    .receipt-details { background: #f8f9fa; padding: 20px; border-radius: 8px; margin: 20px 0; }
    .amount { font-size: 24px; font-weight: bold; color: #ed7a1a; }
    .footer { margin-top: 40px; text-align: center; color: #666; font-size: 14px; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h1>Thank You for Your Donation!</h1>
      <p>Your generosity makes a real difference</p>
    </div>
    <div class="receipt-details">
      <h2>Donation Receipt</h2>
      <p><strong>Donor Name:</strong> {{.DonorName}}</p>
      <p><strong>Email:</strong> {{.DonorEmail}}</p>
      <p><strong>Phone:</strong> {{.DonorPhone}}</p>
      <p><strong>Purpose:</strong> {{.Purpose}}</p>
      <p><strong>Amount:</strong> <span class="amount">&#8377;{{.Amount}}</span></p>
      <p><strong>Payment ID:</strong> {{.PaymentID}}</p>
      <p><strong>Date:</strong> {{.Date}}</p>
    </div>
    <p>Your donation will be used to support our {{.PurposeText}} initiatives.
    We are committed to transparency and will keep you updated on how your contribution is making an impact.</p>
    <div class="footer">
      <p>This is an official receipt for your donation. Please keep this for your records.</p>
      <p>Thank you for your support!</p>
    </div>
  </div>
</body>
</html>
`))

// RenderReceipt renders the HTML receipt. Output depends only on data.
func RenderReceipt(data ReceiptData) ([]byte, error) {
	view := receiptView{
		PaymentID:   orPlaceholder(data.PaymentID),
		Amount:      FormatAmount(data.Amount),
		Purpose:     orPlaceholder(data.Purpose),
		PurposeText: strings.ToLower(orPlaceholder(data.Purpose)),
		DonorName:   orPlaceholder(data.DonorName),
		DonorEmail:  orPlaceholder(data.DonorEmail),
		DonorPhone:  orPlaceholder(data.DonorPhone),
		Date:        notProvided,
	}
	if !data.Timestamp.IsZero() {
		view.Date = data.Timestamp.In(ist).Format("2/1/2006")
	}

	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, view); err != nil {
		return nil, fmt.Errorf("failed to render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatAmount renders rupees with en-IN digit grouping and two decimals.
func FormatAmount(rupees float64) string {
	return amountPrinter.Sprintf("%.2f", rupees)
}

func ReceiptFilename(paymentID string) string {
	return "donation-receipt-" + paymentID + ".html"
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return notProvided
	}
	return s
}
