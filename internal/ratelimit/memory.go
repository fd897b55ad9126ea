package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket は1つの (client, feature) のカウンター。
type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

// MemoryStore はプロセス内のマップでバケットを保持するCounterStore。
// 複数レプリカ間では共有されないため、単一インスタンス構成向け。
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket

	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

// NewMemoryStore はMemoryStoreを生成し、バックグラウンドで
// ウィンドウを過ぎたバケットの定期削除を開始する。
// cleanupIntervalが0以下の場合は定期削除を行わない。
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		buckets:         make(map[string]*bucket),
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go s.cleanupLoop()
	}
	return s
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// Hit はCounterStoreを実装する。
func (s *MemoryStore) Hit(_ context.Context, key string, policy Policy, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok {
		b = &bucket{windowStart: now}
		s.buckets[key] = b
	}
	b.window = policy.Window

	if now.Sub(b.windowStart) > policy.Window {
		b.count = 0
		b.windowStart = now
	}

	if b.count >= policy.Limit {
		return true, nil
	}
	b.count++
	return false, nil
}

// Len は現在保持しているバケット数を返す。テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// cleanupLoop はバックグラウンドで期限切れバケットを定期的に削除する。
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.prune(time.Now())
		case <-s.stopCh:
			return
		}
	}
}

// prune はウィンドウを過ぎたバケットを削除する。
// 削除されたバケットは次のHitで新しいウィンドウとして再作成されるため、結果は変わらない。
func (s *MemoryStore) prune(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, b := range s.buckets {
		if now.Sub(b.windowStart) > b.window {
			delete(s.buckets, key)
		}
	}
}

// compile-time interface check
var _ CounterStore = (*MemoryStore)(nil)
