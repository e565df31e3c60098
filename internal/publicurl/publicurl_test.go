package publicurl

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const tunnelsJSON = `{"tunnels":[
 {"name":"other","public_url":"https://other.ngrok.app","proto":"https","config":{"addr":"http://localhost:3000"}},
 {"name":"api","public_url":"http://abc.ngrok.app","proto":"http","config":{"addr":"http://localhost:8080"}},
 {"name":"api (https)","public_url":"https://abc.ngrok.app/","proto":"https","config":{"addr":"localhost:8080"}}
]}`

func TestStatic(t *testing.T) {
	u, err := Static(" https://flows.example.com/ ").PublicURL(context.Background())
	if err != nil || u != "https://flows.example.com" {
		t.Errorf("unexpected result %q, %v", u, err)
	}
	if _, err := Static("").PublicURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestEndpointURL(t *testing.T) {
	u, err := EndpointURL(context.Background(), Static("https://flows.example.com"))
	if err != nil || u != "https://flows.example.com/api/flows/endpoint" {
		t.Errorf("unexpected result %q, %v", u, err)
	}
	if _, err := EndpointURL(context.Background(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestNgrok_PublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tunnels" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(tunnelsJSON))
	}))
	defer srv.Close()

	n := NewNgrok(WithAPIURL(srv.URL+"/api"), WithLocalPort(8080))
	u, err := n.PublicURL(context.Background())
	if err != nil {
		t.Fatalf("PublicURL failed: %v", err)
	}
	if u != "https://abc.ngrok.app" {
		t.Errorf("expected https tunnel for port 8080, got %s", u)
	}
}

func TestNgrok_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	if _, err := NewNgrok(WithAPIURL(srv.URL)).PublicURL(context.Background()); err == nil {
		t.Error("expected error for unreachable agent")
	}
}

func TestPickTunnel(t *testing.T) {
	tunnels := []Tunnel{
		{Name: "a", PublicURL: "http://a.ngrok.app"},
		{Name: "b", PublicURL: "https://b.ngrok.app"},
	}
	tunnels[0].Config.Addr = "9000"
	tunnels[1].Config.Addr = "http://localhost:3000"

	if got, _ := PickTunnel(tunnels, 9000); got.Name != "a" {
		t.Errorf("expected exact port match, got %s", got.Name)
	}
	if got, _ := PickTunnel(tunnels, 0); got.Name != "b" {
		t.Errorf("expected https preference, got %s", got.Name)
	}
	if got, _ := PickTunnel(tunnels, 1234); got.Name != "b" {
		t.Errorf("expected https fallback, got %s", got.Name)
	}
	if _, ok := PickTunnel(nil, 0); ok {
		t.Error("expected no tunnel")
	}
}

func TestChain(t *testing.T) {
	u, err := Chain{Static(""), Static("https://b.example.com")}.PublicURL(context.Background())
	if err != nil || u != "https://b.example.com" {
		t.Errorf("unexpected result %q, %v", u, err)
	}
	if _, err := (Chain{}).PublicURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if _, err := (Chain{Static("")}).PublicURL(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected joined ErrNotConfigured, got %v", err)
	}
}
