package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/price-cache/internal/cache"
	"github.com/any-hub/price-cache/internal/version"
)

// maxPriceListBytes 限制单次价格表响应体大小。
const maxPriceListBytes = 8 << 20

// UpstreamError 表示上游返回了非 200 状态码。
type UpstreamError struct {
	URL        string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s returned %d", e.URL, e.StatusCode)
}

// ClientOptions 控制回源地址、重试与退避。
type ClientOptions struct {
	BaseURL        string
	HTTPClient     *http.Client
	MaxRetries     int
	InitialBackoff time.Duration
	Logger         *logrus.Logger
}

// Client 负责从上游拉取价格表，网络错误与 5xx 会按指数退避重试。
type Client struct {
	baseURL        string
	http           *http.Client
	maxRetries     int
	initialBackoff time.Duration
	logger         *logrus.Logger
}

// NewClient 校验 BaseURL 并填充默认值。
func NewClient(opts ClientOptions) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid price upstream %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	backoff := opts.InitialBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	retries := opts.MaxRetries
	if retries < 0 {
		retries = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		baseURL:        base,
		http:           httpClient,
		maxRetries:     retries,
		initialBackoff: backoff,
		logger:         logger,
	}, nil
}

// FetchPrices 拉取指定币种的价格表。4xx 不重试，直接返回 *UpstreamError。
func (c *Client) FetchPrices(ctx context.Context, currency string) (cache.Payload, error) {
	endpoint := c.baseURL + "/prices/" + url.PathEscape(currency)

	var lastErr error
	backoff := c.initialBackoff
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.WithFields(logrus.Fields{
				"action":   "price_fetch_retry",
				"url":      endpoint,
				"attempt":  attempt,
				"backoff":  backoff.String(),
				"currency": currency,
			}).WithError(lastErr).Warn("retrying price upstream")

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
			backoff *= 2
		}

		payload, retryable, err := c.fetchOnce(ctx, endpoint)
		if err == nil {
			return payload, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch %s prices after %d attempts: %w", currency, c.maxRetries+1, lastErr)
}

func (c *Client) fetchOnce(ctx context.Context, endpoint string) (cache.Payload, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxPriceListBytes))
		upstreamErr := &UpstreamError{URL: endpoint, StatusCode: resp.StatusCode}
		return nil, resp.StatusCode >= http.StatusInternalServerError, upstreamErr
	}

	dec := json.NewDecoder(io.LimitReader(resp.Body, maxPriceListBytes))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, false, fmt.Errorf("decode price list: %w", err)
	}
	if raw == nil {
		return nil, false, errors.New("decode price list: empty document")
	}
	return normalizeProducts(raw), false, nil
}

// normalizeProducts 统一产品 ID 的大小写与空白，丢弃非对象条目。
func normalizeProducts(raw map[string]any) cache.Payload {
	products := make(cache.Payload, len(raw))
	for id, value := range raw {
		fields, ok := value.(map[string]any)
		if !ok {
			continue
		}
		products[normalizeProductID(id)] = fields
	}
	return products
}

func normalizeProductID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}
