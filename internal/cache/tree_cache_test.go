package cache

import (
	"testing"
	"time"
)

func TestNewRedisTreeCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisTreeCache("://not-a-url", time.Minute); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestNewRedisTreeCacheUnreachable(t *testing.T) {
	if _, err := NewRedisTreeCache("redis://127.0.0.1:1/0", time.Minute); err == nil {
		t.Fatalf("expected ping error")
	}
}

func TestDataKeyChangesWithGeneration(t *testing.T) {
	if dataKey(0) == dataKey(1) {
		t.Fatalf("generations must not share a key")
	}
	if dataKey(7) != "melsu:access:departments:7" {
		t.Fatalf("unexpected key %q", dataKey(7))
	}
	if dataKey(0) == generationKey {
		t.Fatalf("data key collides with the generation counter")
	}
}
