package services

import (
	"time"

	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
)

// Phase is the loading lifecycle of a chat session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseReady
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseReady:
		return "ready"
	default:
		return "idle"
	}
}

// PendingSend is a message sent over the socket and not echoed back yet.
type PendingSend struct {
	Nonce  string
	Body   string
	SentAt time.Time
}

// SessionState is an immutable snapshot of a chat session.
type SessionState struct {
	Messages   []domain.Message
	Phase      Phase
	Loading    bool
	Connected  bool
	Connection domain.ConnectionState
	Error      string
	ErrorKind  chaterrors.Kind
	Pending    []PendingSend
}
