package transport

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"livesession/src/concurrency"
	"livesession/src/logging"
)

// ChangeFeed listens on the Postgres NOTIFY channel sessions are
// republished on and fans session-id payloads out to subscribers,
// mirroring the store's commit order. It carries no data itself;
// subscribers re-read the session from the store on each tick, which
// keeps this feed a pure ordering signal.
type ChangeFeed struct {
	pool    *pgxpool.Pool
	channel string

	mu   sync.RWMutex
	subs map[chan string]struct{}
}

// NewChangeFeed constructs a feed for channel on pool. It does not
// listen yet: Run acquires the dedicated connection, issues LISTEN,
// and releases the connection when it returns.
func NewChangeFeed(pool *pgxpool.Pool, channel string) *ChangeFeed {
	return &ChangeFeed{
		pool:    pool,
		channel: channel,
		subs:    make(map[chan string]struct{}),
	}
}

// Run acquires a dedicated connection, issues LISTEN, and blocks
// forwarding notifications to subscribers until ctx is cancelled.
func (c *ChangeFeed) Run(ctx context.Context) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+c.channel); err != nil {
		return err
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.Log.WithError(err).Warn("changefeed: wait for notification")
			continue
		}
		c.broadcast(notification.Payload)
	}
}

// Subscribe returns a channel of session IDs that changed, and a
// cancel function to unregister it.
func (c *ChangeFeed) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	c.mu.Lock()
	c.subs[ch] = struct{}{}
	c.mu.Unlock()

	cancel := func() {
		c.mu.Lock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
		c.mu.Unlock()
	}
	return ch, cancel
}

func (c *ChangeFeed) broadcast(sessionID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for ch := range c.subs {
		select {
		case ch <- sessionID:
		default:
			// Slow consumer: retry once from a separate goroutine rather
			// than block the listener; if the channel is still full this
			// notification is dropped. The consumer re-reads current
			// state from the store on its next tick regardless.
			concurrency.GoSafe(func() {
				select {
				case ch <- sessionID:
				default:
				}
			})
		}
	}
}
