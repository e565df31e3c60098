// Package messaging delivers template messages through a pluggable provider
// and runs template send batches.
package messaging

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/FlowDesk/internal/templates"
)

// Sender defines a pluggable template delivery abstraction.
type Sender interface {
	// SendTemplate delivers payload and returns the provider message ID.
	SendTemplate(ctx context.Context, payload *templates.WirePayload) (string, error)
}

// MockSender records payloads instead of delivering them (for tests).
type MockSender struct {
	mu       sync.Mutex
	Payloads []*templates.WirePayload
	// FailFor makes SendTemplate fail for the given recipients.
	FailFor map[string]error
}

var _ Sender = (*MockSender)(nil)

func NewMockSender() *MockSender {
	return &MockSender{FailFor: map[string]error{}}
}

func (m *MockSender) SendTemplate(ctx context.Context, payload *templates.WirePayload) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailFor[payload.To]; ok {
		return "", err
	}
	m.Payloads = append(m.Payloads, payload)
	return fmt.Sprintf("wamid.mock.%d", len(m.Payloads)), nil
}
