package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func withRetry(ctx context.Context, fn func() error, isRetriable func(error) bool) error {
	var err error
	for attempt := 0; attempt <= len(retryDelays); attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return err
		}
		if attempt < len(retryDelays) {
			select {
			case <-ctx.Done():
				return err
			case <-time.After(retryDelays[attempt]):
			}
		}
	}
	return err
}

func withPGRetry(ctx context.Context, fn func() error) error {
	return withRetry(ctx, fn, isRetriable)
}

// isRetriable accepts connection-class SQLSTATEs and failures to reach the
// server at all.
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}
