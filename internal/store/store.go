// Package store provides storage backends for FlowDesk.
//
// It persists operator settings (such as the Flow private key), completed
// WhatsApp Flow submissions and the template send log. InMemoryStore serves
// tests and ephemeral runs; SQLiteStore and PostgresStore are durable.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
)

// Setting names used across modules.
const (
	// SettingFlowPrivateKey holds the PEM private key of the Flow endpoint.
	SettingFlowPrivateKey = "whatsapp_flow_private_key"
	// SettingFlowPublicKey holds the matching public key uploaded to Meta.
	SettingFlowPublicKey = "whatsapp_flow_public_key"
)

// SettingsStore is a key-value store for operator settings.
type SettingsStore interface {
	// GetSetting returns models.ErrSettingNotFound when key is not set.
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	DeleteSetting(ctx context.Context, key string) error
}

// Store is the full persistence surface of FlowDesk.
type Store interface {
	SettingsStore

	AddFlowSubmission(ctx context.Context, sub models.FlowSubmission) error
	// ListFlowSubmissions returns submissions for flowToken, or all of them when flowToken is empty.
	ListFlowSubmissions(ctx context.Context, flowToken string) ([]models.FlowSubmission, error)

	AddSendRecord(ctx context.Context, rec models.SendRecord) error
	// ListSendRecords returns the records of batchID, or all of them when batchID is empty.
	ListSendRecords(ctx context.Context, batchID string) ([]models.SendRecord, error)

	// PruneBefore deletes flow submissions and send records created before cutoff
	// and returns how many rows were removed. Settings are never pruned.
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Close() error
}

// InMemoryStore is a simple in-memory store.
type InMemoryStore struct {
	mu          sync.RWMutex
	settings    map[string]string
	submissions []models.FlowSubmission
	sends       []models.SendRecord
}

var _ Store = (*InMemoryStore)(nil)

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{settings: make(map[string]string)}
}

func (s *InMemoryStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	if !ok {
		return "", models.ErrSettingNotFound
	}
	return v, nil
}

func (s *InMemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

func (s *InMemoryStore) DeleteSetting(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.settings, key)
	return nil
}

func (s *InMemoryStore) AddFlowSubmission(_ context.Context, sub models.FlowSubmission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fields := make(map[string]string, len(sub.Fields))
	for k, v := range sub.Fields {
		fields[k] = v
	}
	sub.Fields = fields
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *InMemoryStore) ListFlowSubmissions(_ context.Context, flowToken string) ([]models.FlowSubmission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.FlowSubmission
	for _, sub := range s.submissions {
		if flowToken == "" || sub.FlowToken == flowToken {
			out = append(out, sub)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AddSendRecord(_ context.Context, rec models.SendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, rec)
	return nil
}

func (s *InMemoryStore) ListSendRecords(_ context.Context, batchID string) ([]models.SendRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.SendRecord
	for _, rec := range s.sends {
		if batchID == "" || rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PruneBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	subs := s.submissions[:0]
	for _, sub := range s.submissions {
		if sub.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		subs = append(subs, sub)
	}
	s.submissions = subs
	sends := s.sends[:0]
	for _, rec := range s.sends {
		if rec.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		sends = append(sends, rec)
	}
	s.sends = sends
	return removed, nil
}

func (s *InMemoryStore) Close() error { return nil }
