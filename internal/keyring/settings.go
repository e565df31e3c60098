package keyring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/FlowDesk/internal/store"
)

// SealedSettings seals selected settings before they reach the backing store
// and opens them on the way out. Unsealed values already in the store are
// returned as they are, so enabling a passphrase does not break existing keys.
type SealedSettings struct {
	next   store.SettingsStore
	sealer *Sealer
	secret map[string]bool
}

var _ store.SettingsStore = (*SealedSettings)(nil)

// NewSealedSettings wraps next. With a nil sealer values pass through unchanged.
func NewSealedSettings(next store.SettingsStore, sealer *Sealer, secretKeys ...string) *SealedSettings {
	secret := make(map[string]bool, len(secretKeys))
	for _, k := range secretKeys {
		secret[k] = true
	}
	if sealer == nil {
		slog.Warn("SealedSettings: no passphrase configured, secret settings are stored in plaintext", "secret_keys", secretKeys)
	}
	return &SealedSettings{next: next, sealer: sealer, secret: secret}
}

func (s *SealedSettings) GetSetting(ctx context.Context, key string) (string, error) {
	value, err := s.next.GetSetting(ctx, key)
	if err != nil {
		return "", err
	}
	if !IsSealed(value) {
		return value, nil
	}
	if s.sealer == nil {
		return "", fmt.Errorf("setting %s is sealed but no passphrase is configured", key)
	}
	plain, err := s.sealer.Open(value)
	if err != nil {
		slog.Error("SealedSettings.GetSetting: failed to open sealed value", "key", key, "error", err)
		return "", fmt.Errorf("open setting %s: %w", key, err)
	}
	return plain, nil
}

func (s *SealedSettings) SetSetting(ctx context.Context, key, value string) error {
	if s.sealer != nil && s.secret[key] {
		sealed, err := s.sealer.Seal(value)
		if err != nil {
			return fmt.Errorf("seal setting %s: %w", key, err)
		}
		value = sealed
	}
	return s.next.SetSetting(ctx, key, value)
}

func (s *SealedSettings) DeleteSetting(ctx context.Context, key string) error {
	return s.next.DeleteSetting(ctx, key)
}
