package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/price-cache/internal/cache"
	"github.com/any-hub/price-cache/internal/server"
)

// RegisterCacheRoutes 暴露 /-/cache 诊断接口，供运维查看或清理单个 Store。
func RegisterCacheRoutes(app *fiber.App, store *cache.Store, logger *logrus.Logger) {
	if app == nil || store == nil {
		return
	}

	app.Get("/-/cache", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"store": store.Dir(),
			"root":  store.Root(),
		})
	})

	app.Get("/-/cache/:key", func(c fiber.Ctx) error {
		key := c.Params("key")
		payload, ok, err := store.Get(requestContext(c), key)
		if err != nil {
			return renderCacheError(c, logger, err)
		}
		return c.JSON(fiber.Map{
			"key":     key,
			"valid":   ok,
			"payload": payload,
		})
	})

	app.Delete("/-/cache/:key", func(c fiber.Ctx) error {
		key := c.Params("key")
		removed, err := store.Forget(requestContext(c), key)
		if err != nil {
			return renderCacheError(c, logger, err)
		}
		return c.JSON(fiber.Map{"key": key, "removed": removed})
	})

	app.Post("/-/cache/:key/pull", func(c fiber.Ctx) error {
		key := c.Params("key")
		payload, ok, err := store.Pull(requestContext(c), key)
		if err != nil {
			return renderCacheError(c, logger, err)
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "entry_not_found"})
		}
		return c.JSON(fiber.Map{"key": key, "payload": payload})
	})

	app.Delete("/-/cache", func(c fiber.Ctx) error {
		flushed, err := store.Flush(requestContext(c))
		if err != nil {
			return renderCacheError(c, logger, err)
		}
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"action":     "cache_flush",
				"request_id": server.RequestID(c),
				"store":      store.Dir(),
				"flushed":    flushed,
			}).Info("cache store flushed")
		}
		return c.JSON(fiber.Map{"flushed": flushed})
	})
}

func renderCacheError(c fiber.Ctx, logger *logrus.Logger, err error) error {
	status := fiber.StatusInternalServerError
	label := "cache_failed"

	switch {
	case errors.Is(err, cache.ErrInvalidKey):
		status, label = fiber.StatusBadRequest, "invalid_key"
	case errors.Is(err, cache.ErrUnsafeFlush):
		status, label = fiber.StatusForbidden, "flush_refused"
	case errors.Is(err, cache.ErrCorruptEntry):
		label = "corrupt_entry"
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"action":     "cache_admin",
			"request_id": server.RequestID(c),
			"path":       c.Path(),
			"error":      label,
		}).WithError(err).Warn("cache operation failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": label})
}
