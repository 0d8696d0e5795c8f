package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	entryExt    = ".json"
	tempPrefix  = ".cache-"
	tempPattern = tempPrefix + "*.tmp"
	dirPerm     = 0o755
)

// Store 绑定单个缓存目录，不维护内存索引，每次操作都直接访问文件系统。
// 同一进程内对同一 key 的写入/删除通过 keyLocks 串行化，跨进程不加锁。
type Store struct {
	root  string
	dir   string
	now   func() time.Time
	locks *keyLocks
}

type entry struct {
	path    string
	payload Payload
	ttl     time.Duration
	modTime time.Time
}

// NewStore 以 opts.Root 为根目录构建 Store。目录在首次写入时才创建。
func NewStore(opts StoreOptions) (*Store, error) {
	if strings.TrimSpace(opts.Root) == "" {
		return nil, errors.New("cache root required")
	}

	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve cache root: %w", err)
	}

	dir, err := joinSubPath(root, opts.SubPath)
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Store{
		root:  root,
		dir:   dir,
		now:   now,
		locks: newKeyLocks(),
	}, nil
}

// Sub 返回共享根目录与时钟的嵌套 Store，subPath 相对于当前目录。
func (s *Store) Sub(subPath string) (*Store, error) {
	dir, err := joinSubPath(s.dir, subPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		root:  s.root,
		dir:   dir,
		now:   s.now,
		locks: newKeyLocks(),
	}, nil
}

// Dir 返回当前 Store 的绝对目录。
func (s *Store) Dir() string {
	return s.dir
}

// Root 返回全局缓存根目录。
func (s *Store) Root() string {
	return s.root
}

// Put 写入 payload 并附带保留字段 expired（TTL 秒数，不足一秒的部分截断）。
// 空 key 返回 false 且不报错；写入失败返回 *Error。
func (s *Store) Put(ctx context.Context, key string, payload Payload, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return false, err
	}

	data, err := encodeEntry(payload, ttl)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	if err := s.writeFile(filePath, data); err != nil {
		return false, err
	}
	return true, nil
}

// Get 返回未过期条目的 payload（已剥离 expired 字段）。缺失或过期时返回 (nil, false, nil)。
func (s *Store) Get(ctx context.Context, key string) (Payload, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	e, err := s.load(key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !s.fresh(e) {
		return nil, false, nil
	}
	return e.payload, true, nil
}

// Has 当且仅当文件存在且 now < modtime + expired 时返回 true，每次调用都重新判定。
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Get(ctx, key)
	return ok, err
}

// Remember 命中时直接返回缓存值；否则调用 produce，写入后重新读取并返回，保证与后续 Get 形状一致。
// 检查与写入之间没有同步：并发未命中会各自调用 produce，后写者覆盖先写者。需要单次调用语义时使用 Memoizer。
func (s *Store) Remember(ctx context.Context, key string, ttl time.Duration, produce Producer) (Payload, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty key", ErrInvalidKey)
	}

	cached, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return cached, nil
	}

	value, err := produce(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.Put(ctx, key, value, ttl); err != nil {
		return nil, err
	}

	stored, ok, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		// ttl 不足一秒时条目写入即过期。
		path, _ := s.entryPath(key)
		return nil, &Error{Op: "remember", Path: path, Err: ErrNotFound}
	}
	return stored, nil
}

// Forget 无条件删除条目（包括已过期的），不存在时返回 false。
func (s *Store) Forget(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return false, err
	}

	unlock := s.locks.lock(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &Error{Op: "remove", Path: filePath, Err: err}
	}
	return true, nil
}

// Pull 读取后删除，返回删除前的值；条目不可用时不会尝试删除。
func (s *Store) Pull(ctx context.Context, key string) (Payload, bool, error) {
	payload, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	if _, err := s.Forget(ctx, key); err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

// Add 仅在 Has 为 false 时写入；已过期但仍在磁盘上的条目视为不存在并被覆盖。
func (s *Store) Add(ctx context.Context, key string, payload Payload, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, nil
	}
	exists, err := s.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	return s.Put(ctx, key, payload, ttl)
}

// Flush 递归删除当前目录及其下所有文件（包括嵌套 Store）。目录解析后必须严格位于缓存根目录之下，
// 且不能是工作目录或其祖先，否则返回 ErrUnsafeFlush 且不做任何删除。目录不存在时返回 false。
func (s *Store) Flush(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := s.guardFlush(); err != nil {
		return false, err
	}

	if _, err := os.Lstat(s.dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, &Error{Op: "flush", Path: s.dir, Err: err}
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return false, &Error{Op: "flush", Path: s.dir, Err: err}
	}
	return true, nil
}

func (s *Store) guardFlush() error {
	refuse := func(reason string) error {
		return &Error{Op: "flush", Path: s.dir, Err: fmt.Errorf("%w: %s", ErrUnsafeFlush, reason)}
	}

	dir := resolvePath(s.dir)
	if dir == filepath.VolumeName(dir)+string(filepath.Separator) {
		return refuse("filesystem root")
	}
	if !isDescendant(resolvePath(s.root), dir) {
		return refuse("not below cache root")
	}
	if wd, err := os.Getwd(); err == nil {
		wd = resolvePath(wd)
		if wd == dir || isDescendant(dir, wd) {
			return refuse("contains working directory")
		}
	}
	return nil
}

// load 打开文件后基于同一文件描述符读取 modtime 与内容，避免与 rename 交错时拿到不一致的结果。
func (s *Store) load(key string) (*entry, error) {
	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "open", Path: filePath, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, &Error{Op: "stat", Path: filePath, Err: err}
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, &Error{Op: "read", Path: filePath, Err: err}
	}

	payload, ttl, err := decodeEntry(filePath, data)
	if err != nil {
		return nil, err
	}

	return &entry{
		path:    filePath,
		payload: payload,
		ttl:     ttl,
		modTime: info.ModTime(),
	}, nil
}

func (s *Store) fresh(e *entry) bool {
	return s.now().Before(e.modTime.Add(e.ttl))
}

// writeFile 先写临时文件并设置 modtime，再 rename 覆盖目标，读者不会看到半写入的文件。
func (s *Store) writeFile(filePath string, data []byte) error {
	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return &Error{Op: "mkdir", Path: dir, Err: err}
	}

	tempFile, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return &Error{Op: "create", Path: dir, Err: err}
	}
	tempName := tempFile.Name()

	_, err = tempFile.Write(data)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return &Error{Op: "write", Path: filePath, Err: err}
	}

	modTime := s.now()
	if err := os.Chtimes(tempName, modTime, modTime); err != nil {
		os.Remove(tempName)
		return &Error{Op: "chtimes", Path: filePath, Err: err}
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return &Error{Op: "rename", Path: filePath, Err: err}
	}
	return nil
}

func (s *Store) entryPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, key+entryExt), nil
}

func validateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	case strings.ContainsAny(key, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidKey, key)
	}
	return nil
}

func joinSubPath(base, subPath string) (string, error) {
	rel := strings.Trim(filepath.ToSlash(strings.TrimSpace(subPath)), "/")
	if rel == "" {
		return base, nil
	}
	for _, part := range strings.Split(rel, "/") {
		if part == ".." {
			return "", fmt.Errorf("invalid cache sub path %q", subPath)
		}
	}
	return filepath.Join(base, filepath.FromSlash(rel)), nil
}

// resolvePath 解析符号链接；路径尚不存在时解析最近的已存在祖先后再拼接剩余部分。
func resolvePath(p string) string {
	p = filepath.Clean(p)
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	parent := filepath.Dir(p)
	if parent == p {
		return p
	}
	return filepath.Join(resolvePath(parent), filepath.Base(p))
}

// isDescendant 判断 target 是否严格位于 base 之下。
func isDescendant(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}
