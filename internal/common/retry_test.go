package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contaflow/recon-engine/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryOptions() service.RetryOptions {
	return service.RetryOptions{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, fastRetryOptions())

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), func() error {
		attempts++
		return errors.New("still broken")
	}, fastRetryOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryStopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	cause := errors.New("bad credentials")
	err := WithRetry(context.Background(), func() error {
		attempts++
		return &RetryableError{Err: cause, Retryable: false}
	}, fastRetryOptions())

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	opts := fastRetryOptions()
	opts.InitialDelay = 50 * time.Millisecond
	opts.MaxDelay = time.Second

	errCh := make(chan error, 1)
	go func() {
		errCh <- WithRetry(ctx, func() error {
			attempts++
			return errors.New("transient")
		}, opts)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestRetryableErrorUnwraps(t *testing.T) {
	cause := errors.New("root")
	err := &RetryableError{Err: cause, Retryable: true}

	assert.Equal(t, "root", err.Error())
	assert.ErrorIs(t, err, cause)
}
