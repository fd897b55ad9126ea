package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard は登録待ちトークンが一度しか消費されないことを保証する。
type ReplayGuard interface {
	// Consume はidを使用済みとして記録する。
	// 初回の場合はtrue、既に使用済みの場合はfalseを返す。
	// 記録はttl経過後に破棄してよい（その時点でトークン自体が期限切れになるため）。
	Consume(ctx context.Context, id string, ttl time.Duration) (bool, error)

	// Release はConsumeの記録を取り消し、同じidを再度消費できるようにする。
	// 登録処理がストア障害で完了しなかった場合に使う。未記録のidはエラーにしない。
	Release(ctx context.Context, id string) error
}

// MemoryReplayGuard はプロセス内のマップで使用済みIDを保持する。
// 単一インスタンス構成向け。
type MemoryReplayGuard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryReplayGuard はMemoryReplayGuardを生成する。
func NewMemoryReplayGuard(now func() time.Time) *MemoryReplayGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryReplayGuard{
		seen: make(map[string]time.Time),
		now:  now,
	}
}

// Consume はReplayGuardを実装する。
func (g *MemoryReplayGuard) Consume(_ context.Context, id string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for k, expiresAt := range g.seen {
		if !now.Before(expiresAt) {
			delete(g.seen, k)
		}
	}

	if _, used := g.seen[id]; used {
		return false, nil
	}
	g.seen[id] = now.Add(ttl)
	return true, nil
}

// Release はReplayGuardを実装する。
func (g *MemoryReplayGuard) Release(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, id)
	return nil
}

const replayKeyPrefix = "pending_registration:consumed:"

// RedisReplayGuard はRedisのSETNXで使用済みIDを記録する。
// 複数インスタンス間で消費状態を共有できる。
type RedisReplayGuard struct {
	client redis.Cmdable
}

// NewRedisReplayGuard はRedisReplayGuardを生成する。
func NewRedisReplayGuard(client redis.Cmdable) *RedisReplayGuard {
	return &RedisReplayGuard{client: client}
}

// Consume はReplayGuardを実装する。
func (g *RedisReplayGuard) Consume(ctx context.Context, id string, ttl time.Duration) (bool, error) {
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := g.client.SetNX(ctx, replayKeyPrefix+id, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record pending registration use: %w", err)
	}
	return ok, nil
}

// Release はReplayGuardを実装する。
func (g *RedisReplayGuard) Release(ctx context.Context, id string) error {
	if err := g.client.Del(ctx, replayKeyPrefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release pending registration use: %w", err)
	}
	return nil
}

// --- compile-time interface checks ---
var _ ReplayGuard = (*MemoryReplayGuard)(nil)
var _ ReplayGuard = (*RedisReplayGuard)(nil)
