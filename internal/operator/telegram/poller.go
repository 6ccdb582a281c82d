package telegram

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
)

const (
	defaultPollTimeout = 30 * time.Second
	minBackoff         = time.Second
	maxBackoff         = 30 * time.Second
)

// Poller feeds operator messages from getUpdates to a handler. Only one poller may run
// per bot token; Telegram rejects concurrent long polls.
type Poller struct {
	client  *Client
	handler operator.Handler
	timeout time.Duration
	logger  *slog.Logger
	offset  int64
}

// NewPoller returns a poller. timeout is the long-poll wait per request.
func NewPoller(client *Client, handler operator.Handler, timeout time.Duration, logger *slog.Logger) *Poller {
	if timeout <= 0 {
		timeout = defaultPollTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, handler: handler, timeout: timeout, logger: logger.With("component", "telegram_poller")}
}

// Run polls until ctx is done. Transport errors back off exponentially; handler errors
// are logged and the update is acknowledged anyway.
func (p *Poller) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, operator.ErrNotConfigured) {
				return err
			}
			p.logger.Warn("get updates failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff
		for _, u := range updates {
			p.dispatch(ctx, u)
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
		}
	}
}

func (p *Poller) dispatch(ctx context.Context, u Update) {
	in, ok := u.Inbound()
	if !ok {
		return
	}
	if err := p.handler.HandleInbound(ctx, in); err != nil {
		p.logger.Error("handle inbound failed", "update_id", u.UpdateID, "error", err)
	}
}

// Offset returns the next update id the poller will request.
func (p *Poller) Offset() int64 {
	return p.offset
}
