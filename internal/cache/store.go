package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Payload 是单个缓存条目的内容。数字在读取时以 json.Number 形式返回，保留写入时的精确文本。
type Payload map[string]any

// Producer 在缓存缺失或过期时计算新值，供 Remember 使用。
type Producer func(ctx context.Context) (Payload, error)

// StoreOptions 描述 Store 的构造参数，Root 必填。
type StoreOptions struct {
	// Root 是全局缓存根目录，任何 Store 都必须位于其下。
	Root string
	// SubPath 为相对 Root 的子目录，首尾分隔符会被裁剪，不允许包含 ".."。
	SubPath string
	// Now 为可注入时钟，默认 time.Now；写入时的 modtime 同样取自该时钟。
	Now func() time.Time
}

// Error 携带失败的操作与文件路径，I/O 与反序列化错误都以该类型返回。
type Error struct {
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	// ErrNotFound 表示缓存不存在。
	ErrNotFound = errors.New("cache entry not found")
	// ErrInvalidKey 表示 key 无法作为单个文件名使用（包含分隔符、"." 或 ".."）。
	ErrInvalidKey = errors.New("invalid cache key")
	// ErrReservedField 表示 payload 使用了保留字段 "expired"。
	ErrReservedField = errors.New(`payload uses reserved field "expired"`)
	// ErrCorruptEntry 表示磁盘上的条目无法解析。
	ErrCorruptEntry = errors.New("corrupt cache entry")
	// ErrUnsafeFlush 表示 Flush 目标不在缓存根目录之下，拒绝删除。
	ErrUnsafeFlush = errors.New("refusing to flush directory outside cache root")
)
