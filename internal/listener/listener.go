package listener

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

const debounce = 200 * time.Millisecond

// Refresher reloads the campaign list.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// ListenAndRefresh refreshes r whenever the campaign tables announce a change
// on channel. It blocks until ctx is cancelled.
func ListenAndRefresh(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string, baseBackoff time.Duration) {
	for ctx.Err() == nil {
		if err := listen(ctx, pool, r, channel); err != nil && ctx.Err() == nil {
			backoff := jitter(baseBackoff)
			log.Error().Err(err).Str("channel", channel).Dur("retry_in", backoff).Msg("listener disconnected")
			sleep(ctx, backoff)
		}
	}
	log.Info().Msg("listener stopped")
}

func listen(ctx context.Context, pool *pgxpool.Pool, r Refresher, channel string) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err = conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return err
	}
	log.Info().Str("channel", channel).Msg("listening for campaign changes")

	return serve(ctx, conn.Conn(), r)
}

type notificationWaiter interface {
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
}

// serve refreshes once per burst of notifications. Notifications that arrive
// while a refresh runs stay buffered on the connection and trigger one more
// refresh afterwards.
func serve(ctx context.Context, w notificationWaiter, r Refresher) error {
	for {
		ntf, err := w.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		coalesced, err := drain(ctx, w)
		if err != nil {
			return err
		}
		log.Info().Str("channel", ntf.Channel).Str("payload", ntf.Payload).Int("coalesced", coalesced).
			Msg("campaigns changed; refreshing")
		if err := r.Refresh(ctx); err != nil {
			log.Error().Err(err).Msg("refresh after notify")
		}
	}
}

// drain swallows notifications until none arrives for the debounce period.
func drain(ctx context.Context, w notificationWaiter) (int, error) {
	n := 0
	for {
		wctx, cancel := context.WithTimeout(ctx, debounce)
		_, err := w.WaitForNotification(wctx)
		quiet := wctx.Err() != nil
		cancel()
		if err == nil {
			n++
			continue
		}
		if quiet && ctx.Err() == nil {
			return n, nil
		}
		return n, err
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func jitter(base time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	factor := 0.5 + rand.Float64() // 0.5x to 1.5x
	return time.Duration(float64(base) * factor)
}
