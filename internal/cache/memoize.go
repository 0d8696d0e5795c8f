package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Memoizer 在 Store.Remember 之上合并同一进程内对同一 key 的并发调用，
// 同一轮竞争中 producer 只会执行一次。跨进程仍然是后写者覆盖。
type Memoizer struct {
	store *Store
	group singleflight.Group
}

// NewMemoizer 包装 store，store 不能为空。
func NewMemoizer(store *Store) *Memoizer {
	return &Memoizer{store: store}
}

// Store 返回底层 Store，便于调用方执行 Forget/Flush 等操作。
func (m *Memoizer) Store() *Store {
	return m.store
}

// Remember 与 Store.Remember 语义一致。共享结果会被深拷贝，调用方可以安全修改返回值。
// 合并后的调用使用首个调用方的 ctx。
func (m *Memoizer) Remember(ctx context.Context, key string, ttl time.Duration, produce Producer) (Payload, error) {
	value, err, shared := m.group.Do(key, func() (any, error) {
		return m.store.Remember(ctx, key, ttl, produce)
	})
	if err != nil {
		return nil, err
	}
	payload, _ := value.(Payload)
	if shared {
		payload = payload.Clone()
	}
	return payload, nil
}
