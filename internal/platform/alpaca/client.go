// Package alpaca is the REST adapter for the Alpaca trading and market data
// APIs. It implements domain.Broker and domain.MarketData and is the only
// place raw broker payloads are seen; every status and side is validated
// here before it reaches the rest of the bot.
package alpaca

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/alanyoungcy/revbot/internal/domain"
)

// Config holds the connection parameters for both APIs.
type Config struct {
	APIKey     string
	SecretKey  string
	TradingURL string
	DataURL    string
	Feed       string
	Timeout    time.Duration
	MaxRetries int
}

// Client talks to Alpaca. Reads are retried on transport errors, 429 and 5xx;
// order submission is never retried so a lost response cannot double an order.
type Client struct {
	trading *resty.Client
	data    *resty.Client
	feed    string
	now     func() time.Time
}

var (
	_ domain.Broker     = (*Client)(nil)
	_ domain.MarketData = (*Client)(nil)
)

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}
	return &Client{
		trading: newResty(strings.TrimSuffix(cfg.TradingURL, "/"), cfg),
		data:    newResty(strings.TrimSuffix(cfg.DataURL, "/"), cfg),
		feed:    feed,
		now:     time.Now,
	}
}

func newResty(baseURL string, cfg Config) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("APCA-API-KEY-ID", cfg.APIKey).
		SetHeader("APCA-API-SECRET-KEY", cfg.SecretKey).
		SetHeader("Accept", "application/json").
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(retryable).
		SetRetryAfter(func(_ *resty.Client, resp *resty.Response) (time.Duration, error) {
			if resp != nil && resp.StatusCode() == http.StatusTooManyRequests {
				if s := resp.Header().Get("Retry-After"); s != "" {
					if secs, err := strconv.Atoi(s); err == nil {
						return time.Duration(secs) * time.Second, nil
					}
				}
				return 2 * time.Second, nil
			}
			return 0, nil
		})
}

// retryable limits retries to idempotent requests.
func retryable(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	switch resp.Request.Method {
	case http.MethodGet, http.MethodDelete:
	default:
		return false
	}
	if err != nil {
		return true
	}
	code := resp.StatusCode()
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// APIError is a non-2xx response from Alpaca.
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("alpaca: http %d", e.Status)
	}
	return fmt.Sprintf("alpaca: http %d: %s", e.Status, e.Message)
}

// Unwrap maps well-known statuses onto the domain sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.ErrUnauthorized
	case http.StatusNotFound:
		return domain.ErrNotFound
	case http.StatusUnprocessableEntity:
		return domain.ErrInvalidOrder
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	}
	return nil
}

// check turns a resty result into an error, wrapping with op.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("alpaca: %s: %w", op, err)
	}
	if resp.IsSuccess() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode()}
	if e, ok := resp.Error().(*APIError); ok && e != nil {
		apiErr.Code, apiErr.Message = e.Code, e.Message
	} else {
		apiErr.Message = strings.TrimSpace(resp.String())
	}
	return fmt.Errorf("alpaca: %s: %w", op, apiErr)
}

// statusOf returns the HTTP status carried by err, or 0.
func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}
