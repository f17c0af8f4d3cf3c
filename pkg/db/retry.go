package db

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/smallbiznis/greenledger/pkg/apperr"
	"gorm.io/gorm"
)

// RetryBackoff is the base delay before the single retry.
var RetryBackoff = 50 * time.Millisecond

// WithRetry runs fn in a transaction. A transient failure is retried once
// after a jittered delay; a second transient failure is reported as
// TransientStorage. Other errors are returned as-is.
func WithRetry(ctx context.Context, conn *gorm.DB, fn func(tx *gorm.DB) error) error {
	err := conn.WithContext(ctx).Transaction(fn)
	if err == nil || !IsTransient(err) {
		return err
	}

	delay := RetryBackoff + time.Duration(rand.Int64N(int64(RetryBackoff)+1))
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return apperr.Transient(ctx.Err())
	case <-timer.C:
	}

	err = conn.WithContext(ctx).Transaction(fn)
	if err != nil && IsTransient(err) {
		return apperr.Transient(err)
	}
	return err
}
