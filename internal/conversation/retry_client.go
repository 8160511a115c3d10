package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/smithy-go"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"

	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

// ErrRateLimited marks a provider quota or throttling failure.
var ErrRateLimited = errors.New("conversation: llm rate limited")

const maxBackoff = 60 * time.Second

// IsRateLimited reports whether err is a provider throttling error:
// Gemini ResourceExhausted/429 or Bedrock ThrottlingException.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusTooManyRequests {
		return true
	}
	var aerr smithy.APIError
	if errors.As(err, &aerr) {
		switch aerr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException", "ServiceQuotaExceededException":
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resourceexhausted") ||
		strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota")
}

type RetryConfig struct {
	MaxRetries    int
	BackoffBase   time.Duration
	RatePerSecond float64
	Timeout       time.Duration
	// Model labels retry metrics.
	Model string
}

// RetryingLLMClient paces calls and retries rate-limited ones with
// exponential backoff. Other errors are returned at once.
type RetryingLLMClient struct {
	inner   LLMClient
	cfg     RetryConfig
	limiter *rate.Limiter
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewRetryingLLMClient(inner LLMClient, cfg RetryConfig, logger *logging.Logger) *RetryingLLMClient {
	if inner == nil {
		panic("conversation: llm client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	c := &RetryingLLMClient{inner: inner, cfg: cfg, logger: logger, sleep: sleepContext}
	if cfg.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	return c
}

func (c *RetryingLLMClient) WithMetrics(m *metrics.ConversationMetrics) *RetryingLLMClient {
	c.metrics = m
	return c
}

func (c *RetryingLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	for attempt := 0; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return LLMResponse{}, err
			}
		}
		resp, err := c.call(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !IsRateLimited(err) || ctx.Err() != nil {
			return LLMResponse{}, err
		}
		if attempt >= c.cfg.MaxRetries {
			return LLMResponse{}, fmt.Errorf("%w after %d attempts: %v", ErrRateLimited, attempt+1, err)
		}

		delay := c.backoff(attempt)
		c.metrics.ObserveLLMRetry(c.cfg.Model)
		c.logger.Warn("llm rate limited, backing off", "attempt", attempt+1, "delay", delay.String(), "error", err)
		if err := c.sleep(ctx, delay); err != nil {
			return LLMResponse{}, err
		}
	}
}

func (c *RetryingLLMClient) call(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	if c.cfg.Timeout <= 0 {
		return c.inner.Complete(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return c.inner.Complete(callCtx, req)
}

func (c *RetryingLLMClient) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase << attempt
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
