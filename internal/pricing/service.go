package pricing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/price-cache/internal/cache"
	"github.com/any-hub/price-cache/internal/logging"
)

// ErrInvalidCurrency 表示币种代码不是三位字母。
var ErrInvalidCurrency = errors.New("invalid currency code")

// Fetcher 抽象价格表来源，便于测试替换上游。
type Fetcher interface {
	FetchPrices(ctx context.Context, currency string) (cache.Payload, error)
}

// Price 是单个产品在某币种下的价格。
type Price struct {
	Full       float64 `json:"full"`
	Discounted float64 `json:"discounted"`
}

// Service 以币种为 key 缓存整张价格表，同一进程内并发未命中只回源一次。
type Service struct {
	memo    *cache.Memoizer
	fetcher Fetcher
	ttl     time.Duration
	logger  *logrus.Logger
}

// NewService 组装价格服务，ttl 为价格表的缓存时长。
func NewService(memo *cache.Memoizer, fetcher Fetcher, ttl time.Duration, logger *logrus.Logger) *Service {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		memo:    memo,
		fetcher: fetcher,
		ttl:     ttl,
		logger:  logger,
	}
}

// Store 返回价格表所在的缓存 Store。
func (s *Service) Store() *cache.Store {
	return s.memo.Store()
}

// Prices 返回指定币种的完整价格表，缓存未命中或过期时回源。
func (s *Service) Prices(ctx context.Context, currency string) (cache.Payload, error) {
	key, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}

	// 未命中只在实际回源的调用中记录；合并等待的调用方不知道 leader 是否命中。
	payload, err := s.memo.Remember(ctx, key, s.ttl, func(ctx context.Context) (cache.Payload, error) {
		fetched, err := s.fetcher.FetchPrices(ctx, key)
		if err == nil {
			fields := logging.CacheFields(s.Store().Dir(), key, false)
			fields["action"] = "price_fetch"
			fields["products"] = len(fetched)
			s.logger.WithFields(fields).Info("price list fetched from upstream")
		}
		return fetched, err
	})
	if err != nil {
		return nil, fmt.Errorf("load %s prices: %w", key, err)
	}

	s.logger.WithFields(logrus.Fields{
		"action":   "price_lookup",
		"store":    s.Store().Dir(),
		"key":      key,
		"products": len(payload),
	}).Debug("price list resolved")
	return payload, nil
}

// Product 返回单个产品的价格；没有 discounted 字段时视为无折扣，等于 full。
func (s *Service) Product(ctx context.Context, currency, productID string) (Price, bool, error) {
	prices, err := s.Prices(ctx, currency)
	if err != nil {
		return Price{}, false, err
	}

	id := normalizeProductID(productID)
	full, ok := prices.Float(id, "full")
	if !ok {
		return Price{}, false, nil
	}
	discounted, ok := prices.Float(id, "discounted")
	if !ok {
		discounted = full
	}
	return Price{Full: full, Discounted: discounted}, true, nil
}

// FullPrice 返回产品原价。
func (s *Service) FullPrice(ctx context.Context, currency, productID string) (float64, bool, error) {
	price, ok, err := s.Product(ctx, currency, productID)
	return price.Full, ok, err
}

// DiscountedPrice 返回产品折后价。
func (s *Service) DiscountedPrice(ctx context.Context, currency, productID string) (float64, bool, error) {
	price, ok, err := s.Product(ctx, currency, productID)
	return price.Discounted, ok, err
}

// Refresh 丢弃缓存中的价格表并立即回源。
func (s *Service) Refresh(ctx context.Context, currency string) (cache.Payload, error) {
	key, err := NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store().Forget(ctx, key); err != nil {
		return nil, fmt.Errorf("forget %s prices: %w", key, err)
	}
	return s.Prices(ctx, key)
}

// NormalizeCurrency 将币种代码转为大写并校验为三位 ASCII 字母。
func NormalizeCurrency(raw string) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
		}
	}
	return code, nil
}
