package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"leadflow/internal/constants"

	"github.com/cenkalti/backoff/v4"
)

func newDBBackoff(ctx context.Context, attempts int) backoff.BackOffContext {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = constants.DefaultBackoffInitialMs * time.Millisecond
	policy.MaxInterval = constants.DefaultBackoffMaxSec * time.Second
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)
}

// retryableDBOperationNoReturn executes a database operation that returns only an error with retry logic
func retryableDBOperationNoReturn(ctx context.Context, operation func() error, operationName string) error {
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		err := operation()
		if err != nil && !isRetryableDBError(err) {
			return backoff.Permanent(fmt.Errorf("%s failed (non-retryable): %w", operationName, err))
		}
		return err
	}, newDBBackoff(ctx, constants.DefaultDatabaseRetryAttempts))

	if err != nil && attempts >= constants.DefaultDatabaseRetryAttempts && isRetryableDBError(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, err)
	}
	return err
}

// isRetryableDBError determines if a database error is worth retrying
func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	errStr := err.Error()

	if strings.Contains(errStr, "database is locked") || strings.Contains(errStr, "database table is locked") {
		return true
	}

	if strings.Contains(errStr, "disk I/O error") {
		return true
	}

	return false
}
