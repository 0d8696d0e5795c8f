package routes

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/price-cache/internal/cache"
	"github.com/any-hub/price-cache/internal/pricing"
	"github.com/any-hub/price-cache/internal/server"
)

// RegisterPriceRoutes 暴露按币种查询价格表与单个产品价格的接口。
func RegisterPriceRoutes(app *fiber.App, svc *pricing.Service, logger *logrus.Logger) {
	if app == nil || svc == nil {
		return
	}

	app.Get("/prices/:currency", func(c fiber.Ctx) error {
		prices, err := svc.Prices(requestContext(c), c.Params("currency"))
		if err != nil {
			return renderPriceError(c, logger, err)
		}
		code, _ := pricing.NormalizeCurrency(c.Params("currency"))
		return c.JSON(fiber.Map{
			"currency": code,
			"products": prices,
		})
	})

	app.Get("/prices/:currency/:product", func(c fiber.Ctx) error {
		price, ok, err := svc.Product(requestContext(c), c.Params("currency"), c.Params("product"))
		if err != nil {
			return renderPriceError(c, logger, err)
		}
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "product_not_found"})
		}
		return c.JSON(price)
	})

	app.Post("/prices/:currency/refresh", func(c fiber.Ctx) error {
		prices, err := svc.Refresh(requestContext(c), c.Params("currency"))
		if err != nil {
			return renderPriceError(c, logger, err)
		}
		return c.JSON(fiber.Map{"products": len(prices)})
	})
}

// renderPriceError 将价格服务的错误映射为 HTTP 状态：币种非法 400，缓存故障 500，其余视为上游失败 502。
func renderPriceError(c fiber.Ctx, logger *logrus.Logger, err error) error {
	status := fiber.StatusBadGateway
	label := "upstream_failed"

	var cacheErr *cache.Error
	switch {
	case errors.Is(err, pricing.ErrInvalidCurrency):
		status, label = fiber.StatusBadRequest, "invalid_currency"
	case errors.As(err, &cacheErr):
		status, label = fiber.StatusInternalServerError, "cache_failed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, label = fiber.StatusGatewayTimeout, "upstream_timeout"
	}

	if logger != nil && status >= fiber.StatusInternalServerError {
		logger.WithFields(logrus.Fields{
			"action":     "price_lookup",
			"request_id": server.RequestID(c),
			"currency":   c.Params("currency"),
			"error":      label,
		}).WithError(err).Warn("price lookup failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": label})
}

func requestContext(c fiber.Ctx) context.Context {
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
