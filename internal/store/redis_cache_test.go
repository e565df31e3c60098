package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/google/uuid"
)

func TestRedisSettingsCache(t *testing.T) {
	// Requires a running Redis; set REDIS_URL.
	url := getenvOrSkip(t, "REDIS_URL")
	ctx := context.Background()
	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer rdb.Close()

	backing := NewInMemoryStore()
	cache := NewRedisSettingsCache(backing, rdb, time.Minute)
	key := "test-" + uuid.NewString()
	defer rdb.Del(ctx, settingsCachePrefix+key)

	if _, err := cache.GetSetting(ctx, key); !errors.Is(err, models.ErrSettingNotFound) {
		t.Fatalf("expected ErrSettingNotFound, got %v", err)
	}
	if err := cache.SetSetting(ctx, key, "v1"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if v, err := cache.GetSetting(ctx, key); err != nil || v != "v1" {
		t.Fatalf("expected v1, got %q, %v", v, err)
	}

	// a change behind the cache's back is not visible until invalidation
	_ = backing.SetSetting(ctx, key, "v2")
	if v, _ := cache.GetSetting(ctx, key); v != "v1" {
		t.Errorf("expected cached v1, got %q", v)
	}
	if err := cache.SetSetting(ctx, key, "v3"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	if v, _ := cache.GetSetting(ctx, key); v != "v3" {
		t.Errorf("expected v3 after invalidation, got %q", v)
	}

	if err := cache.DeleteSetting(ctx, key); err != nil {
		t.Fatalf("DeleteSetting failed: %v", err)
	}
	if _, err := cache.GetSetting(ctx, key); !errors.Is(err, models.ErrSettingNotFound) {
		t.Errorf("expected deleted setting, got %v", err)
	}
}

func TestNewRedisClient_BadURL(t *testing.T) {
	if _, err := NewRedisClient(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for invalid redis url")
	}
}
