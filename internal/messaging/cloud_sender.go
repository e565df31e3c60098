package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/templates"
)

// Constants for the WhatsApp Cloud API client
const (
	// DefaultGraphBaseURL is the Graph API host.
	DefaultGraphBaseURL = "https://graph.facebook.com"
	// DefaultGraphVersion is the Graph API version used when none is configured.
	DefaultGraphVersion = "v21.0"
	// DefaultCloudTimeout bounds a single send request.
	DefaultCloudTimeout = 15 * time.Second
	// maxErrorBody caps how much of an error response is read.
	maxErrorBody = 64 << 10
)

// CloudOpts holds configuration for the Cloud API sender.
type CloudOpts struct {
	PhoneNumberID string
	AccessToken   string
	GraphVersion  string
	BaseURL       string
	HTTPClient    *http.Client
}

// CloudOption defines a configuration option for the Cloud API sender.
type CloudOption func(*CloudOpts)

// WithPhoneNumberID sets the business phone number ID messages are sent from.
func WithPhoneNumberID(id string) CloudOption {
	return func(o *CloudOpts) { o.PhoneNumberID = id }
}

// WithAccessToken sets the system user access token.
func WithAccessToken(token string) CloudOption {
	return func(o *CloudOpts) { o.AccessToken = token }
}

// WithGraphVersion sets the Graph API version, e.g. "v21.0".
func WithGraphVersion(version string) CloudOption {
	return func(o *CloudOpts) { o.GraphVersion = version }
}

// WithGraphBaseURL overrides the Graph API host.
func WithGraphBaseURL(url string) CloudOption {
	return func(o *CloudOpts) { o.BaseURL = url }
}

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(o *CloudOpts) { o.HTTPClient = c }
}

// CloudSender posts template payloads to the WhatsApp Cloud API.
type CloudSender struct {
	endpoint    string
	accessToken string
	httpClient  *http.Client
}

var _ Sender = (*CloudSender)(nil)

// CloudAPIError is an error object returned by the Graph API.
type CloudAPIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	Type       string `json:"type"`
	Code       int    `json:"code"`
	TraceID    string `json:"fbtrace_id"`
}

func (e *CloudAPIError) Error() string {
	return fmt.Sprintf("cloud api error (http %d, code %d): %s", e.StatusCode, e.Code, e.Message)
}

type cloudResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	Error *CloudAPIError `json:"error"`
}

// NewCloudSender creates a Cloud API sender.
func NewCloudSender(opts ...CloudOption) (*CloudSender, error) {
	cfg := CloudOpts{GraphVersion: DefaultGraphVersion, BaseURL: DefaultGraphBaseURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("CloudSender.NewCloudSender: options set",
		"PhoneNumberID_set", cfg.PhoneNumberID != "", "AccessToken_set", cfg.AccessToken != "", "GraphVersion", cfg.GraphVersion)
	if cfg.PhoneNumberID == "" || cfg.AccessToken == "" {
		return nil, fmt.Errorf("phone number ID and access token must be provided")
	}
	if cfg.GraphVersion == "" {
		cfg.GraphVersion = DefaultGraphVersion
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultCloudTimeout}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultGraphBaseURL
	}
	return &CloudSender{
		endpoint:    fmt.Sprintf("%s/%s/%s/messages", base, cfg.GraphVersion, cfg.PhoneNumberID),
		accessToken: cfg.AccessToken,
		httpClient:  cfg.HTTPClient,
	}, nil
}

// SendTemplate posts payload and returns the wamid of the accepted message.
func (s *CloudSender) SendTemplate(ctx context.Context, payload *templates.WirePayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is required")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal template payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		slog.Error("CloudSender.SendTemplate: request failed", "error", err, "template", payload.Template.Name)
		return "", fmt.Errorf("failed to reach cloud api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("failed to read cloud api response: %w", err)
	}
	var parsed cloudResponse
	decodeErr := json.Unmarshal(raw, &parsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &CloudAPIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		if decodeErr == nil && parsed.Error != nil {
			apiErr = parsed.Error
			apiErr.StatusCode = resp.StatusCode
		}
		slog.Warn("CloudSender.SendTemplate: rejected", "status", resp.StatusCode, "code", apiErr.Code, "template", payload.Template.Name)
		return "", apiErr
	}
	if decodeErr != nil {
		return "", fmt.Errorf("failed to decode cloud api response: %w", decodeErr)
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", fmt.Errorf("cloud api response carried no message id")
	}
	slog.Debug("CloudSender.SendTemplate: accepted", "message_id", parsed.Messages[0].ID, "template", payload.Template.Name)
	return parsed.Messages[0].ID, nil
}
