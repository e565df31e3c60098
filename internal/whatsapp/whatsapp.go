// Package whatsapp wraps the whatsmeow linked-device client used to preview
// rendered templates on a test phone before a campaign goes out.
//
// Previews are plain text messages: a linked device cannot send Cloud API
// templates, so the rendered body is delivered instead.
package whatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow SQLite database
	DefaultSQLitePath = "/var/lib/flowdesk/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// PreviewSender delivers a rendered template preview to a phone number.
type PreviewSender interface {
	SendPreview(ctx context.Context, to string, text string) (string, error)
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // use numeric login code instead of QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput instructs the WhatsApp client to write the login QR code to the specified path.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode instructs the WhatsApp client to use numeric login code instead of QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
}

var _ PreviewSender = (*Client)(nil)

// driverFor picks the database/sql driver for dsn and warns about SQLite
// databases opened without foreign keys, which whatsmeow relies on.
func driverFor(dsn string) (driver string, warn bool) {
	if store.DetectDSNType(dsn) == "postgres" {
		return "postgres", false
	}
	return "sqlite3", !strings.Contains(dsn, "foreign_keys")
}

// NewClient creates a WhatsApp client, running the QR login flow when the
// device is not yet linked.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("WhatsApp.NewClient: options set", "DBDSN_set", cfg.DBDSN != "", "QRPath_set", cfg.QRPath != "", "NumericCode", cfg.NumericCode)

	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
	}
	dbDriver, warn := driverFor(dbDSN)
	if warn {
		slog.Warn("WhatsApp.NewClient: SQLite database does not enable foreign keys; add '?_foreign_keys=on'",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	logger := waLog.Stdout("Database", "INFO", true)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, logger)
	if err != nil {
		slog.Error("WhatsApp.NewClient: failed to initialize DB store", "error", err)
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		slog.Error("WhatsApp.NewClient: failed to get device", "error", err)
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp.NewClient: login required, starting QR code flow")
		qrChan, _ := waClient.GetQRChannel(ctx)
		if err := waClient.Connect(); err != nil {
			slog.Error("WhatsApp.NewClient: failed to connect during login", "error", err)
			return nil, fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
		}
		writer := io.Writer(os.Stdout)
		if cfg.QRPath != "" {
			f, ferr := os.Create(cfg.QRPath)
			if ferr != nil {
				return nil, fmt.Errorf("failed to create QR file: %w", ferr)
			}
			defer f.Close()
			writer = f
		}
		for evt := range qrChan {
			if evt.Event == "code" {
				if cfg.NumericCode {
					fmt.Fprintln(writer, evt.Code)
				} else {
					qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
				}
				continue
			}
			slog.Info("WhatsApp.NewClient: login event", "event", evt.Event)
		}
	} else if err := waClient.Connect(); err != nil {
		slog.Error("WhatsApp.NewClient: failed to connect", "error", err)
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsApp.NewClient: connected")
	return &Client{waClient: waClient}, nil
}

// userFromPhone turns an E.164 number into the user part of a JID.
func userFromPhone(phone string) (string, error) {
	user := strings.TrimPrefix(strings.TrimSpace(phone), "+")
	if user == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	for _, r := range user {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("recipient %q is not an E.164 number", phone)
		}
	}
	return user, nil
}

// SendPreview sends text to the E.164 number to and returns the message ID.
func (c *Client) SendPreview(ctx context.Context, to string, text string) (string, error) {
	if c.waClient == nil || c.waClient.Store == nil {
		return "", fmt.Errorf("whatsapp client not initialized")
	}
	user, err := userFromPhone(to)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", fmt.Errorf("message body cannot be empty")
	}

	jid := types.NewJID(user, JIDSuffix)
	resp, err := c.waClient.SendMessage(ctx, jid, &waE2E.Message{Conversation: &text})
	if err != nil {
		slog.Error("WhatsApp.SendPreview: failed", "error", err, "to", to)
		return "", fmt.Errorf("failed to send preview to %s: %w", to, err)
	}
	slog.Debug("WhatsApp.SendPreview: sent", "to", to, "message_id", resp.ID)
	return string(resp.ID), nil
}

// Close disconnects from WhatsApp.
func (c *Client) Close() {
	if c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// MockClient records previews instead of sending them (for tests).
type MockClient struct {
	Sent []SentPreview
	Err  error
}

// SentPreview is one preview captured by MockClient.
type SentPreview struct {
	To   string
	Text string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendPreview(ctx context.Context, to string, text string) (string, error) {
	if m.Err != nil {
		return "", m.Err
	}
	m.Sent = append(m.Sent, SentPreview{To: to, Text: text})
	return fmt.Sprintf("preview-%d", len(m.Sent)), nil
}
