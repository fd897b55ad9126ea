package database

import (
	"context"
	"os"
	"testing"
)

func TestOpenRedis_InvalidURL_ReturnsError(t *testing.T) {
	_, err := OpenRedis(context.Background(), "not-a-redis-url")
	if err == nil {
		t.Fatal("expected error for invalid redis url")
	}
}

func TestOpenRedis_Unreachable_ReturnsError(t *testing.T) {
	// 127.0.0.1:1 には通常何も待ち受けていない
	_, err := OpenRedis(context.Background(), "redis://127.0.0.1:1/0")
	if err == nil {
		t.Fatal("expected error for unreachable redis")
	}
}

func TestOpenRedis_Reachable(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL が未設定のためスキップ")
	}

	client, err := OpenRedis(context.Background(), url)
	if err != nil {
		t.Fatalf("OpenRedis failed: %v", err)
	}
	defer client.Close()
}
