package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/UltimateTournament/backoff/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ReliableExec acquires a connection from the pool, retrying acquisition with backoff, and runs f on it.
// f itself is not retried.
func ReliableExec(ctx context.Context, pool *pgxpool.Pool, tryTimeout time.Duration, f func(ctx context.Context, conn *pgxpool.Conn) error) error {
	var conn *pgxpool.Conn
	err := backoff.Retry(func() error {
		acquireCtx, cancel := context.WithTimeout(ctx, tryTimeout)
		defer cancel()
		var err error
		conn, err = pool.Acquire(acquireCtx)
		if err != nil {
			return fmt.Errorf("error in pool.Acquire: %w", err)
		}
		return nil
	}, backoff.WithContext(newBackoff(), ctx))
	if err != nil {
		return err
	}
	defer conn.Release()

	return f(ctx, conn)
}

func newBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 50
	b.MaxInterval = time.Second * 2
	b.MaxElapsedTime = time.Second * 10
	return b
}
