package alert

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGridConfig configures [SendGridSink].
type SendGridConfig struct {
	APIKey   string
	From     string
	FromName string
	To       []string
	// BaseURL overrides the mail send endpoint.
	BaseURL string
}

// SendGridSink emails every alert to the configured recipients.
type SendGridSink struct {
	mu     sync.Mutex
	client *sendgrid.Client
	from   *mail.Email
	to     []*mail.Email
}

// NewSendGridSink validates cfg and builds the client.
func NewSendGridSink(cfg SendGridConfig) (*SendGridSink, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("alert: sendgrid api key is required")
	}
	if cfg.From == "" || len(cfg.To) == 0 {
		return nil, errors.New("alert: sendgrid sender and recipients are required")
	}

	client := sendgrid.NewSendClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	s := &SendGridSink{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.From),
	}
	for _, addr := range cfg.To {
		s.to = append(s.to, mail.NewEmail("", addr))
	}
	return s, nil
}

func (s *SendGridSink) HandleSecurityAlert(ctx context.Context, a Alert) error {
	message := s.message(a)

	// The client carries its request body between calls.
	s.mu.Lock()
	resp, err := s.client.SendWithContext(ctx, message)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("alert: sendgrid: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alert: sendgrid: status %d", resp.StatusCode)
	}
	return nil
}

func (s *SendGridSink) message(a Alert) *mail.SGMailV3 {
	subject := "Security alert: " + strings.Join(a.Kinds, ", ")

	var body strings.Builder
	body.WriteString(a.Summary())
	body.WriteString("\n\ndetected at: ")
	body.WriteString(a.DetectedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	body.WriteString("\nalert id: ")
	body.WriteString(a.ID)

	keys := make([]string, 0, len(a.Details))
	for k := range a.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body.WriteString("\n")
		body.WriteString(k)
		body.WriteString(": ")
		body.WriteString(a.Details[k])
	}

	m := mail.NewV3Mail()
	m.SetFrom(s.from)
	m.Subject = subject
	p := mail.NewPersonalization()
	p.AddTos(s.to...)
	m.AddPersonalizations(p)
	m.AddContent(mail.NewContent("text/plain", body.String()))
	return m
}
