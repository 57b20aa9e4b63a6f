package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/Patryk27/free-churro-scheduler/internal/errs"
	"github.com/Patryk27/free-churro-scheduler/internal/storage"
)

// Subscription wraps a pq.Listener bound to a single channel - the "lazy,
// ordered stream of strings" storage.Gateway.Subscribe promises. pq.Listener
// already guarantees no replay (it only relays notifications Postgres sends
// it after Listen() completes) and in-order delivery per connection, so this
// type is mostly plumbing between pq's channel-of-*Notification and the
// storage.Subscription interface's blocking Next(ctx).
type Subscription struct {
	listener *pq.Listener
	channel  string
}

var _ storage.Subscription = (*Subscription)(nil)

// Subscribe opens a dedicated connection (independent of the Gateway's
// query pool, per pq.Listener's own requirements) and issues LISTEN on
// channel before returning, so the caller is guaranteed not to miss any
// notification published after this call returns.
func (g *Gateway) Subscribe(ctx context.Context, channel string) (storage.Subscription, error) {
	problems := make(chan error, 1)

	listener := pq.NewListener(g.dsn, 1*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventConnectionAttemptFailed && err != nil {
			select {
			case problems <- err:
			default:
			}
		}
	})

	if err := listener.Listen(channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("postgres: couldn't listen on channel %q: %w", channel, err)
	}

	select {
	case err := <-problems:
		_ = listener.Close()
		return nil, fmt.Errorf("postgres: couldn't establish listener connection: %w", err)
	default:
	}

	return &Subscription{listener: listener, channel: channel}, nil
}

func (s *Subscription) Next(ctx context.Context) (string, error) {
	select {
	case n, ok := <-s.listener.Notify:
		if !ok {
			return "", fmt.Errorf("postgres: listener on channel %q closed: %w", s.channel, errs.ErrStreamLost)
		}
		if n == nil {
			// pq sends a nil notification after it silently reconnects; the
			// caller hasn't missed anything (Postgres replays LISTEN on
			// reconnect), so just wait for the next real one.
			return s.Next(ctx)
		}
		return n.Extra, nil

	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Subscription) Close() error {
	return s.listener.Close()
}
