package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fast = RetryConfig{
	MaxAttempts:    3,
	InitialBackoff: time.Millisecond,
	MaxBackoff:     2 * time.Millisecond,
	BackoffFactor:  2,
}

// TestCategoryString tests category names.
func TestCategoryString(t *testing.T) {
	assert.Equal(t, "transient", CategoryTransient.String())
	assert.Equal(t, "permanent", CategoryPermanent.String())
	assert.Equal(t, "malformed", CategoryMalformed.String())
	assert.Equal(t, "unknown", Category(99).String())
}

// TestCategorize tests classification of known error types.
func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Category
	}{
		{"nil", nil, CategoryPermanent},
		{"rate limit", &HTTPError{StatusCode: 429}, CategoryTransient},
		{"overloaded", &HTTPError{StatusCode: 529}, CategoryTransient},
		{"server error", &HTTPError{StatusCode: 500}, CategoryTransient},
		{"unauthorized", &HTTPError{StatusCode: 401}, CategoryPermanent},
		{"bad request", &HTTPError{StatusCode: 400}, CategoryPermanent},
		{"json", &JSONParseError{Message: "unexpected token"}, CategoryMalformed},
		{"validation", &ValidationError{Field: "decision"}, CategoryMalformed},
		{"timeout", &TimeoutError{Operation: "poll"}, CategoryTransient},
		{"deadline", context.DeadlineExceeded, CategoryTransient},
		{"canceled", context.Canceled, CategoryPermanent},
		{"wrapped", fmt.Errorf("call: %w", &HTTPError{StatusCode: 503}), CategoryTransient},
		{"explicit", Malformed(errors.New("x"), "parse"), CategoryMalformed},
		{"unknown", errors.New("mystery"), CategoryPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Categorize(tt.err))
		})
	}
}

// TestCategorizedError tests message and unwrapping.
func TestCategorizedError(t *testing.T) {
	base := errors.New("boom")
	err := Transient(base, "generate")
	err.Retries = 2

	assert.Equal(t, "generate: boom (category: transient, attempts: 2)", err.Error())
	assert.ErrorIs(t, err, base)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsMalformed(err))
}

// TestWithRetryContext_Success tests retrying until success.
func TestWithRetryContext_Success(t *testing.T) {
	calls := 0
	var hooks []int
	cfg := fast
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		hooks = append(hooks, attempt)
	}

	res := WithRetryContext(context.Background(), cfg, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &HTTPError{StatusCode: 429}
		}
		return "ok", nil
	})

	require.NoError(t, res.Err)
	assert.Equal(t, "ok", res.Value)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []int{1, 2}, hooks)
}

// TestWithRetryContext_Permanent tests that permanent errors stop at once.
func TestWithRetryContext_Permanent(t *testing.T) {
	calls := 0
	res := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 401}
	})

	require.Error(t, res.Err)
	assert.Equal(t, 1, calls)
	var catErr *CategorizedError
	require.ErrorAs(t, res.Err, &catErr)
	assert.Equal(t, CategoryPermanent, catErr.Category)
}

// TestWithRetryContext_Exhausted tests the attempt bound.
func TestWithRetryContext_Exhausted(t *testing.T) {
	calls := 0
	res := WithRetryContext(context.Background(), fast, func(context.Context) (int, error) {
		calls++
		return 0, &HTTPError{StatusCode: 503}
	})

	require.Error(t, res.Err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, res.Attempts)
	assert.Contains(t, res.Err.Error(), "max retries exceeded")
}

// TestWithRetryContext_Cancelled tests cancellation before the first call.
func TestWithRetryContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := WithRetryContext(ctx, fast, func(context.Context) (int, error) {
		t.Fatal("should not be called")
		return 0, nil
	})

	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, 0, res.Attempts)
}

// TestNewRetryConfig tests option application.
func TestNewRetryConfig(t *testing.T) {
	cfg := NewRetryConfig(
		WithMaxAttempts(5),
		WithInitialBackoff(time.Millisecond),
		WithMaxBackoff(time.Second),
		WithBackoffFactor(3),
		WithJitter(0),
		WithRetryableFunc(func(error) bool { return true }),
	)

	assert.Equal(t, 5, cfg.MaxAttempts)
	assert.Equal(t, time.Millisecond, cfg.InitialBackoff)
	assert.Equal(t, time.Second, cfg.MaxBackoff)
	assert.Equal(t, 3.0, cfg.BackoffFactor)
	assert.True(t, cfg.RetryableFunc(errors.New("x")))
}
