package services

import (
	"context"

	"konnekt-chat/domain"
	"konnekt-chat/runtime"
)

// messageConsumer feeds the live stream into the session.
type messageConsumer struct {
	session *ChatSession
	sub     *runtime.Subscription[domain.Message]
}

func (w *messageConsumer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.sub.Done():
			return nil
		case msg := <-w.sub.C():
			w.session.onMessage(msg)
		}
	}
}

// stateWatcher applies pushed connection transitions.
type stateWatcher struct {
	session *ChatSession
	sub     *runtime.Subscription[domain.ConnectionState]
}

func (w *stateWatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.sub.Done():
			return nil
		case state := <-w.sub.C():
			w.session.setConnection(state)
		}
	}
}
