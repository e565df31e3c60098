// Package publicurl resolves the externally reachable base URL of this
// server, used to tell operators where Meta should call the flow endpoint.
package publicurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultNgrokAPIURL is the local ngrok agent API.
	DefaultNgrokAPIURL = "http://127.0.0.1:4040/api"
	// FlowEndpointPath is appended to the base URL by EndpointURL.
	FlowEndpointPath = "/api/flows/endpoint"
	// DefaultProbeTimeout bounds a single ngrok API request.
	DefaultProbeTimeout = 2 * time.Second
)

var (
	ErrNotConfigured = errors.New("public URL not configured")
	ErrNoTunnel      = errors.New("no ngrok tunnel found")
)

// Resolver returns the public base URL, without a trailing slash.
type Resolver interface {
	PublicURL(ctx context.Context) (string, error)
}

// EndpointURL resolves the full flow endpoint URL.
func EndpointURL(ctx context.Context, r Resolver) (string, error) {
	if r == nil {
		return "", ErrNotConfigured
	}
	base, err := r.PublicURL(ctx)
	if err != nil {
		return "", err
	}
	return base + FlowEndpointPath, nil
}

// Static always returns the configured URL.
type Static string

func (s Static) PublicURL(ctx context.Context) (string, error) {
	u := strings.TrimRight(strings.TrimSpace(string(s)), "/")
	if u == "" {
		return "", ErrNotConfigured
	}
	return u, nil
}

// Chain returns the first URL any of its resolvers produces.
type Chain []Resolver

func (c Chain) PublicURL(ctx context.Context) (string, error) {
	var errs []error
	for _, r := range c {
		u, err := r.PublicURL(ctx)
		if err == nil {
			return u, nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", ErrNotConfigured
	}
	return "", errors.Join(errs...)
}

// NgrokOpts holds configuration for the ngrok resolver.
type NgrokOpts struct {
	APIURL     string
	Port       int
	HTTPClient *http.Client
}

// NgrokOption defines a configuration option for the ngrok resolver.
type NgrokOption func(*NgrokOpts)

// WithAPIURL overrides the ngrok agent API URL.
func WithAPIURL(url string) NgrokOption {
	return func(o *NgrokOpts) { o.APIURL = url }
}

// WithLocalPort selects the tunnel forwarding to port.
func WithLocalPort(port int) NgrokOption {
	return func(o *NgrokOpts) { o.Port = port }
}

// WithHTTPClient sets the client used to query the agent.
func WithHTTPClient(c *http.Client) NgrokOption {
	return func(o *NgrokOpts) { o.HTTPClient = c }
}

// Ngrok reads the public URL of a running ngrok agent. It never starts one.
type Ngrok struct {
	apiURL string
	port   int
	client *http.Client
}

func NewNgrok(opts ...NgrokOption) *Ngrok {
	cfg := NgrokOpts{APIURL: DefaultNgrokAPIURL}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultProbeTimeout}
	}
	return &Ngrok{apiURL: strings.TrimRight(cfg.APIURL, "/"), port: cfg.Port, client: cfg.HTTPClient}
}

// Tunnel is one entry of the agent's /tunnels listing.
type Tunnel struct {
	Name      string `json:"name"`
	PublicURL string `json:"public_url"`
	Proto     string `json:"proto"`
	Config    struct {
		Addr string `json:"addr"`
	} `json:"config"`
}

// Tunnels lists the agent's tunnels.
func (n *Ngrok) Tunnels(ctx context.Context) ([]Tunnel, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.apiURL+"/tunnels", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create ngrok request: %w", err)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ngrok agent unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ngrok agent returned status %d", resp.StatusCode)
	}
	var body struct {
		Tunnels []Tunnel `json:"tunnels"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ngrok tunnels: %w", err)
	}
	return body.Tunnels, nil
}

func (n *Ngrok) PublicURL(ctx context.Context) (string, error) {
	tunnels, err := n.Tunnels(ctx)
	if err != nil {
		slog.Debug("Ngrok.PublicURL: probe failed", "error", err)
		return "", err
	}
	t, ok := PickTunnel(tunnels, n.port)
	if !ok {
		return "", ErrNoTunnel
	}
	return strings.TrimRight(t.PublicURL, "/"), nil
}

var trailingPort = regexp.MustCompile(`:(\d+)$`)

// addrPort extracts the port from a tunnel addr such as "8080",
// "localhost:8080" or "http://localhost:8080".
func addrPort(addr string) int {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if p, err := strconv.Atoi(addr); err == nil {
		return p
	}
	if m := trailingPort.FindStringSubmatch(addr); m != nil {
		p, _ := strconv.Atoi(m[1])
		return p
	}
	return 0
}

// PickTunnel chooses a tunnel for port (any port when 0), preferring https.
// Without a tunnel for port it falls back to the first https tunnel.
func PickTunnel(tunnels []Tunnel, port int) (Tunnel, bool) {
	var matching, fallback []Tunnel
	for _, t := range tunnels {
		if t.PublicURL == "" {
			continue
		}
		if port == 0 || addrPort(t.Config.Addr) == port {
			matching = append(matching, t)
		}
		fallback = append(fallback, t)
	}
	if t, ok := preferHTTPS(matching); ok {
		return t, true
	}
	return preferHTTPS(fallback)
}

func preferHTTPS(tunnels []Tunnel) (Tunnel, bool) {
	for _, t := range tunnels {
		if strings.HasPrefix(t.PublicURL, "https://") {
			return t, true
		}
	}
	if len(tunnels) > 0 {
		return tunnels[0], true
	}
	return Tunnel{}, false
}
