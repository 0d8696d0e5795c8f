package cache

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// staleTempAge 之前创建的临时文件视为写入中断后遗留的文件。
const staleTempAge = time.Hour

// Sweeper 回收已过期但仍占用磁盘的条目。它只处理 Store 目录下的直接文件，
// 嵌套 Store 需要各自的 Sweeper。默认不启用，由调用方显式创建。
type Sweeper struct {
	store  *Store
	logger *logrus.Logger
}

// NewSweeper 构造 Sweeper，logger 为空时使用 logrus 标准 logger。
func NewSweeper(store *Store, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Sweeper{store: store, logger: logger}
}

// Sweep 删除过期条目与遗留临时文件，返回删除数量。单个文件失败只记录日志，不中断扫描。
func (w *Sweeper) Sweep(ctx context.Context) (int, error) {
	dirEntries, err := os.ReadDir(w.store.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, &Error{Op: "sweep", Path: w.store.dir, Err: err}
	}

	removed := 0
	for _, de := range dirEntries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if de.IsDir() {
			continue
		}

		name := de.Name()
		switch {
		case strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, ".tmp"):
			if w.removeStaleTemp(name) {
				removed++
			}
		case strings.HasSuffix(name, entryExt):
			if w.removeExpired(strings.TrimSuffix(name, entryExt)) {
				removed++
			}
		}
	}
	return removed, nil
}

// Run 按 interval 周期执行 Sweep，直到 ctx 结束。
func (w *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := w.Sweep(ctx)
			fields := logrus.Fields{
				"action":  "cache_sweep",
				"store":   w.store.dir,
				"removed": removed,
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				w.logger.WithFields(fields).WithError(err).Warn("cache sweep failed")
				continue
			}
			w.logger.WithFields(fields).Debug("cache sweep finished")
		}
	}
}

func (w *Sweeper) removeExpired(key string) bool {
	unlock := w.store.locks.lock(key)
	defer unlock()

	e, err := w.store.load(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			w.logger.WithFields(logrus.Fields{
				"action": "cache_sweep",
				"store":  w.store.dir,
				"key":    key,
			}).WithError(err).Warn("skip unreadable cache entry")
		}
		return false
	}
	if w.store.fresh(e) {
		return false
	}

	if err := os.Remove(e.path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.WithFields(logrus.Fields{
				"action": "cache_sweep",
				"path":   e.path,
			}).WithError(err).Warn("remove expired cache entry failed")
		}
		return false
	}
	return true
}

func (w *Sweeper) removeStaleTemp(name string) bool {
	path := filepath.Join(w.store.dir, name)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if w.store.now().Sub(info.ModTime()) < staleTempAge {
		return false
	}
	if err := os.Remove(path); err != nil {
		w.logger.WithFields(logrus.Fields{
			"action": "cache_sweep",
			"path":   path,
		}).WithError(err).Warn("remove stale temp file failed")
		return false
	}
	return true
}
