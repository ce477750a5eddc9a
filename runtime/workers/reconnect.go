package workers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"konnekt-chat/contract"
	"konnekt-chat/domain"
	"konnekt-chat/errors"
	"konnekt-chat/observability"

	"github.com/cenkalti/backoff/v4"
)

type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// MaxRetries bounds one reconnect episode. Zero means retry until the
	// context ends.
	MaxRetries uint64
	// CheckInterval is how often the state is re-read in case a transition
	// was not delivered.
	CheckInterval time.Duration
}

func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxRetries:      10,
		CheckInterval:   time.Second,
	}
}

// Reconnector redials a connection that dropped or failed to open.
// A client-initiated close is final and never triggers a redial.
type Reconnector struct {
	log      *slog.Logger
	conn     contract.IChatRepository
	policy   ReconnectPolicy
	onGiveUp func(err error)
}

func NewReconnector(log *slog.Logger, conn contract.IChatRepository, policy ReconnectPolicy, onGiveUp func(err error)) *Reconnector {
	defaults := DefaultReconnectPolicy()
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaults.InitialInterval
	}
	if policy.MaxInterval <= 0 {
		policy.MaxInterval = defaults.MaxInterval
	}
	if policy.CheckInterval <= 0 {
		policy.CheckInterval = defaults.CheckInterval
	}
	if onGiveUp == nil {
		onGiveUp = func(error) {}
	}
	return &Reconnector{log: log, conn: conn, policy: policy, onGiveUp: onGiveUp}
}

// Run returns nil once the connection is closed for good, the context ends
// or the retries are exhausted.
func (w *Reconnector) Run(ctx context.Context) error {
	states := w.conn.SubscribeState()
	defer states.Unsubscribe()

	ticker := time.NewTicker(w.policy.CheckInterval)
	defer ticker.Stop()

	for {
		var state domain.ConnectionState
		select {
		case <-ctx.Done():
			return nil
		case <-states.Done():
			w.log.Debug("Connection released, stopping reconnector")
			return nil
		case state = <-states.C():
		case <-ticker.C:
			state = w.conn.State()
		}
		if !state.Recoverable() {
			continue
		}

		if err := w.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("Giving up reconnecting", "error", err)
			w.onGiveUp(err)
			return nil
		}
	}
}

func (w *Reconnector) reconnect(ctx context.Context) error {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = w.policy.InitialInterval
	expo.MaxInterval = w.policy.MaxInterval
	expo.MaxElapsedTime = 0

	var policy backoff.BackOff = expo
	if w.policy.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(policy, w.policy.MaxRetries)
	}

	attempt := 0
	operation := func() error {
		switch w.conn.State() {
		case domain.Closed:
			return backoff.Permanent(errors.ErrSessionClosed)
		case domain.Connected:
			return nil
		}
		attempt++
		if err := w.conn.Dial(ctx); err != nil {
			observability.ReconnectAttemptsTotal.WithLabelValues("failure").Inc()
			w.log.Warn("Reconnect attempt failed", "attempt", attempt, "error", err)
			return err
		}
		observability.ReconnectAttemptsTotal.WithLabelValues("success").Inc()
		w.log.Info("Reconnected", "attempt", attempt)
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return nil
	case w.conn.State() == domain.Closed:
		// Closed on purpose while retrying
		return nil
	default:
		return fmt.Errorf("%w after %d attempts: %v", errors.ErrReconnectExhausted, attempt, err)
	}
}
