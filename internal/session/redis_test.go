package session

import (
	"context"
	"errors"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	"docchat/internal/config"
	"docchat/internal/models"
	"docchat/internal/redis"
)

func TestRedisStoreSaveLoadDelete(t *testing.T) {
	store, cleanup := newTestRedisStore(t)
	defer cleanup()
	ctx := context.Background()

	state, err := store.Create(ctx)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	state.Assistant = &models.AssistantRef{ID: "asst_1", Mode: models.AssistantCreated}
	state.Transcript = append(state.Transcript, models.TranscriptEntry{ID: "01", Role: models.RoleUser, Content: "hello"})
	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, state.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Assistant == nil || got.Assistant.ID != "asst_1" {
		t.Fatalf("assistant not persisted: %+v", got.Assistant)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Content != "hello" {
		t.Fatalf("transcript mismatch: %+v", got.Transcript)
	}

	deleted := make(chan string, 1)
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := store.OnDelete(subCtx, func(id string) { deleted <- id }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := store.Delete(ctx, state.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, state.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	select {
	case id := <-deleted:
		if id != state.ID {
			t.Fatalf("unexpected delete notification %q", id)
		}
	case <-time.After(time.Second):
		t.Fatalf("did not receive delete notification")
	}
}

func newTestRedisStore(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set TEST_REDIS_ADDR to run redis-backed session tests")
	}
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("split host port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi port: %v", err)
	}
	client, err := redis.NewRedisClient(&config.Config{Redis: config.RedisConfig{Host: host, Port: port}})
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	return NewRedisStore(client, time.Minute), func() { client.Close() }
}
