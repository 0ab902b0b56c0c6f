package api

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/dl-alexandre/drivepdf/internal/errors"
	"github.com/dl-alexandre/drivepdf/internal/logging"
	"github.com/dl-alexandre/drivepdf/internal/types"
	"github.com/dl-alexandre/drivepdf/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// Client wraps the Drive API with retry logic and request shaping
type Client struct {
	service    *drive.Service
	maxRetries int
	retryDelay time.Duration
	logger     logging.Logger
	clock      clockwork.Clock
}

// NewClient creates a new Drive API client
func NewClient(service *drive.Service, maxRetries int, retryDelayMs int, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Client{
		service:    service,
		maxRetries: maxRetries,
		retryDelay: time.Duration(retryDelayMs) * time.Millisecond,
		logger:     logger,
		clock:      clockwork.NewRealClock(),
	}
}

// WithClock replaces the clock used for backoff waits
func (c *Client) WithClock(clock clockwork.Clock) *Client {
	c.clock = clock
	return c
}

// NewRequestContext creates a new request context with trace ID
func NewRequestContext(profile string, driveID string, requestType types.RequestType) *types.RequestContext {
	return &types.RequestContext{
		Profile:           profile,
		DriveID:           driveID,
		InvolvedFileIDs:   []string{},
		InvolvedParentIDs: []string{},
		RequestType:       requestType,
		TraceID:           uuid.New().String(),
	}
}

// WithFileIDs adds file IDs to the request context
func (c *Client) WithFileIDs(ctx *types.RequestContext, fileIDs ...string) *types.RequestContext {
	ctx.InvolvedFileIDs = append(ctx.InvolvedFileIDs, fileIDs...)
	return ctx
}

// WithParentIDs adds parent IDs to the request context
func (c *Client) WithParentIDs(ctx *types.RequestContext, parentIDs ...string) *types.RequestContext {
	ctx.InvolvedParentIDs = append(ctx.InvolvedParentIDs, parentIDs...)
	return ctx
}

// ExecuteWithRetry runs fn, retrying throttling and transient server errors
// with exponential backoff. Non-retryable errors are classified immediately.
func ExecuteWithRetry[T any](ctx context.Context, client *Client, reqCtx *types.RequestContext, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	logger := client.logger.WithTraceID(reqCtx.TraceID)
	logger.Debug("API operation starting",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("profile", reqCtx.Profile),
		logging.F("fileIds", reqCtx.InvolvedFileIDs),
	)

	start := client.clock.Now()

	for attempt := 0; attempt <= client.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, classifyError(err, reqCtx, client.logger)
		}

		result, lastErr = fn()
		if lastErr == nil {
			logger.Debug("API operation completed",
				logging.F("duration_ms", client.clock.Now().Sub(start).Milliseconds()),
				logging.F("attempts", attempt+1),
			)
			return result, nil
		}

		if !isRetryable(lastErr) {
			logger.Debug("API operation failed (non-retryable)",
				logging.F("error", lastErr.Error()),
				logging.F("attempts", attempt+1),
			)
			return result, classifyError(lastErr, reqCtx, client.logger)
		}

		if attempt < client.maxRetries {
			delay := calculateBackoff(client.retryDelay, attempt, lastErr)
			logger.Warn("API operation failed (retryable)",
				logging.F("requestType", reqCtx.RequestType),
				logging.F("attempt", attempt+1),
				logging.F("delay_ms", delay.Milliseconds()),
				logging.F("error", lastErr.Error()),
			)
			select {
			case <-ctx.Done():
				return result, classifyError(ctx.Err(), reqCtx, client.logger)
			case <-client.clock.After(delay):
			}
		}
	}

	logger.Error("API operation failed after max retries",
		logging.F("requestType", reqCtx.RequestType),
		logging.F("duration_ms", client.clock.Now().Sub(start).Milliseconds()),
		logging.F("attempts", client.maxRetries+1),
		logging.F("error", lastErr.Error()),
	)

	return result, classifyError(lastErr, reqCtx, client.logger)
}

// isRetryable reports whether err is throttling or a transient server failure
func isRetryable(err error) bool {
	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 429, 500, 502, 503, 504:
		return true
	case 403:
		for _, e := range apiErr.Errors {
			if errors.IsRateLimitReason(e.Reason) {
				return true
			}
		}
	}
	return false
}

// calculateBackoff honours Retry-After when present, otherwise base*2^attempt with ±25% jitter
func calculateBackoff(baseDelay time.Duration, attempt int, err error) time.Duration {
	maxDelay := time.Duration(utils.MaxRetryDelayMs) * time.Millisecond

	var apiErr *googleapi.Error
	if stderrors.As(err, &apiErr) && apiErr.Header != nil {
		if retryAfter := apiErr.Header.Get("Retry-After"); retryAfter != "" {
			if seconds, err := strconv.Atoi(retryAfter); err == nil {
				delay := time.Duration(seconds) * time.Second
				if delay > maxDelay {
					return maxDelay
				}
				return delay
			}
		}
	}

	delay := baseDelay * time.Duration(math.Pow(2, float64(attempt)))
	if delay > maxDelay {
		delay = maxDelay
	}

	jitterRange := delay / 4
	if jitterRange > 0 {
		jitter := time.Duration(rand.Int63n(int64(jitterRange*2))) - jitterRange
		delay += jitter
	}

	if delay < 0 {
		delay = baseDelay
	}
	return delay
}

func classifyError(err error, reqCtx *types.RequestContext, logger logging.Logger) error {
	return errors.ClassifyGoogleAPIError("drive", err, reqCtx, logger)
}

// Service returns the underlying Drive service
func (c *Client) Service() *drive.Service {
	return c.service
}

// Logger returns the client's logger
func (c *Client) Logger() logging.Logger {
	return c.logger
}
