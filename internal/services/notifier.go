package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/mail"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Notifier delivers a rendered receipt. Failures are reported, never retried inline.
type Notifier interface {
	Send(ctx context.Context, to, subject string, body []byte) (string, error)
}

// SMTPNotifier sends HTML mail through an authenticated SMTP relay.
type SMTPNotifier struct {
	client *gomail.Client
	from   string
	name   string
}

func NewSMTPNotifier(host string, port int, user, pass, senderName string) (*SMTPNotifier, error) {
	client, err := gomail.NewClient(host,
		gomail.WithPort(port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(user),
		gomail.WithPassword(pass),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPNotifier{client: client, from: user, name: senderName}, nil
}

func (n *SMTPNotifier) Send(ctx context.Context, to, subject string, body []byte) (string, error) {
	if _, err := mail.ParseAddress(to); err != nil {
		return "", fmt.Errorf("%w: invalid recipient email %q", ErrNotify, to)
	}

	msg := gomail.NewMsg()
	if err := msg.FromFormat(n.name, n.from); err != nil {
		return "", fmt.Errorf("%w: invalid sender: %v", ErrNotify, err)
	}
	if err := msg.To(to); err != nil {
		return "", fmt.Errorf("%w: invalid recipient: %v", ErrNotify, err)
	}
	msg.Subject(subject)
	msg.SetMessageID()
	msg.SetBodyString(gomail.TypeTextHTML, string(body))

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotify, err)
	}

	var messageID string
	if ids := msg.GetGenHeader(gomail.HeaderMessageID); len(ids) > 0 {
		messageID = ids[0]
	}
	return messageID, nil
}

// BrevoNotifier sends through Brevo's transactional email HTTP API.
type BrevoNotifier struct {
	apiKey      string
	senderEmail string
	senderName  string
	endpoint    string
	client      *http.Client
}

func NewBrevoNotifier(apiKey, senderEmail, senderName string) *BrevoNotifier {
	return &BrevoNotifier{
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  senderName,
		endpoint:    "https://api.brevo.com/v3/smtp/email",
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

type brevoPayload struct {
	Sender      map[string]string   `json:"sender"`
	To          []map[string]string `json:"to"`
	Subject     string              `json:"subject"`
	HTMLContent string              `json:"htmlContent"`
}

func (n *BrevoNotifier) Send(ctx context.Context, to, subject string, body []byte) (string, error) {
	addr, err := mail.ParseAddress(to)
	if err != nil {
		return "", fmt.Errorf("%w: invalid recipient email %q", ErrNotify, to)
	}

	payload, err := json.Marshal(brevoPayload{
		Sender:      map[string]string{"name": n.senderName, "email": n.senderEmail},
		To:          []map[string]string{{"email": addr.Address}},
		Subject:     subject,
		HTMLContent: string(body),
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal payload: %v", ErrNotify, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return "", fmt.Errorf("%w: failed to create request: %v", ErrNotify, err)
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("api-key", n.apiKey)
	req.Header.Set("content-type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to send request: %v", ErrNotify, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		log.Printf("Brevo API error: Status %d, Body: %s", resp.StatusCode, string(respBody))
		return "", fmt.Errorf("%w: brevo returned status %d", ErrNotify, resp.StatusCode)
	}

	var result struct {
		MessageID string `json:"messageId"`
	}
	_ = json.Unmarshal(respBody, &result)
	return result.MessageID, nil
}

// DisabledNotifier is used when no mail transport is configured.
type DisabledNotifier struct{}

func (DisabledNotifier) Send(context.Context, string, string, []byte) (string, error) {
	return "", fmt.Errorf("%w: email service not configured", ErrNotify)
}
