// Package twiliowhatsapp wraps the Twilio API for WhatsApp template delivery.
//
// Twilio addresses approved WhatsApp templates by Content SID and fills them
// with a JSON object of positional variables.
package twiliowhatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Sender sends WhatsApp messages through Twilio.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) (string, error)
	SendContent(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error)
}

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, in "whatsapp:+1234567890" format.
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp
type Client struct {
	client    *twilio.RestClient
	fromWhats string
}

var _ Sender = (*Client)(nil)

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	// Fallback to environment variables if not provided via options
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("TwilioWhatsApp.NewClient: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{client: client, fromWhats: cfg.FromWhats}, nil
}

// SendMessage sends a free-form WhatsApp message and returns the message SID.
func (c *Client) SendMessage(ctx context.Context, to string, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetBody(body)
	return c.create(to, params)
}

// SendContent sends the approved template contentSID filled with variables.
func (c *Client) SendContent(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error) {
	if contentSID == "" {
		return "", fmt.Errorf("content SID must be provided")
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(whatsappAddress(to))
	params.SetFrom(c.fromWhats)
	params.SetContentSid(contentSID)
	if len(variables) > 0 {
		encoded, err := EncodeContentVariables(variables)
		if err != nil {
			return "", err
		}
		params.SetContentVariables(encoded)
	}
	return c.create(to, params)
}

func (c *Client) create(to string, params *twilioApi.CreateMessageParams) (string, error) {
	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("TwilioWhatsApp.create: failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if resp.Sid != nil {
		sid = *resp.Sid
	}
	slog.Debug("TwilioWhatsApp.create: sent", "to", to, "sid", sid)
	return sid, nil
}

func whatsappAddress(to string) string {
	return "whatsapp:" + to
}

// EncodeContentVariables renders variables as the JSON object Twilio expects.
func EncodeContentVariables(variables map[string]string) (string, error) {
	b, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("failed to encode content variables: %w", err)
	}
	return string(b), nil
}

// MockClient records messages instead of sending them (for tests).
type MockClient struct {
	SentMessages []SentMessage
	Err          error
}

// SentMessage is one message captured by MockClient.
type SentMessage struct {
	To         string
	Body       string
	ContentSID string
	Variables  map[string]string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) (string, error) {
	return m.record(SentMessage{To: to, Body: body})
}

func (m *MockClient) SendContent(ctx context.Context, to string, contentSID string, variables map[string]string) (string, error) {
	return m.record(SentMessage{To: to, ContentSID: contentSID, Variables: variables})
}

func (m *MockClient) record(msg SentMessage) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.SentMessages = append(m.SentMessages, msg)
	return fmt.Sprintf("SM%032d", len(m.SentMessages)), nil
}
