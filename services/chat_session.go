package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"konnekt-chat/contract"
	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
	"konnekt-chat/projection"
	"konnekt-chat/runtime"
	"konnekt-chat/runtime/workers"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultAckTimeout = 10 * time.Second
	loadErrorPrefix   = "Error loading messages: "
)

type SessionConfig struct {
	Credentials  domain.Credentials
	RecipientID  string
	PollInterval time.Duration
	AckTimeout   time.Duration
	BufferSize   int
}

type pendingSend struct {
	PendingSend
	timer *time.Timer
}

// ChatSession drives the conversation between the current user and one
// recipient: it loads the history, merges the live stream and sends.
// Every mutation is published to observers as a SessionState snapshot.
// Once closed, a session never changes again.
type ChatSession struct {
	log        *slog.Logger
	repo       contract.IChatRepository
	history    contract.IHistoryClient
	cfg        SessionConfig
	chatID     string
	release    func()
	observers  *runtime.Broadcaster[SessionState]
	supervisor *workers.Supervisor

	mu            sync.Mutex
	started       bool
	closed        bool
	cancel        context.CancelFunc
	messageSub    *runtime.Subscription[domain.Message]
	stateSub      *runtime.Subscription[domain.ConnectionState]
	timeline      *projection.Timeline
	phase         Phase
	loadSeq       int
	liveSinceLoad []domain.Message
	connection    domain.ConnectionState
	errText       string
	errKind       chaterrors.Kind
	pending       []*pendingSend
}

// NewChatSession builds an idle session. release is called once on Close,
// typically to hand the connection back to the hub.
func NewChatSession(log *slog.Logger, repo contract.IChatRepository, history contract.IHistoryClient,
	cfg SessionConfig, release func()) *ChatSession {
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = DefaultAckTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = workers.DefaultPollInterval
	}
	chatID := domain.ChatID(cfg.Credentials.UserID, cfg.RecipientID)
	sessionLog := log.With("chat_id", chatID, "user_id", cfg.Credentials.UserID)
	return &ChatSession{
		log:        sessionLog,
		repo:       repo,
		history:    history,
		cfg:        cfg,
		chatID:     chatID,
		release:    release,
		observers:  runtime.NewBroadcaster[SessionState](cfg.BufferSize),
		supervisor: workers.NewSupervisor(sessionLog),
		timeline:   projection.NewTimeline(chatID),
		connection: domain.Disconnected,
	}
}

func (s *ChatSession) ChatID() string { return s.chatID }

// Start subscribes to the connection, starts the session workers and kicks
// off the initial history load in the background.
func (s *ChatSession) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chaterrors.ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	sessionCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.messageSub = s.repo.Subscribe()
	s.stateSub = s.repo.SubscribeState()
	s.mu.Unlock()

	s.setConnection(s.repo.State())

	s.supervisor.Add(
		&messageConsumer{session: s, sub: s.messageSub},
		&stateWatcher{session: s, sub: s.stateSub},
		workers.NewConnectionMonitor(s.log, s.repo, s.cfg.PollInterval, s.onPoll),
	)
	go s.supervisor.Run(sessionCtx)

	go func() {
		if err := s.LoadInitialMessages(sessionCtx, s.chatID); err != nil {
			s.log.Debug("Initial history load failed", "error", err)
		}
	}()
	return nil
}

// LoadInitialMessages replaces the list with the persisted history.
// The chat id is always recomputed from the two participants; chatID is only
// compared for logging. Live messages received while loading are kept.
func (s *ChatSession) LoadInitialMessages(ctx context.Context, chatID string) error {
	if chatID != s.chatID {
		s.log.Debug("Ignoring caller chat id", "given", chatID)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chaterrors.ErrSessionClosed
	}
	s.loadSeq++
	seq := s.loadSeq
	previous := s.phase
	if previous == PhaseLoading {
		previous = s.settledPhaseLocked()
	}
	s.phase = PhaseLoading
	s.errText, s.errKind = "", chaterrors.KindUnknown
	s.liveSinceLoad = nil
	s.publishLocked()
	s.mu.Unlock()

	messages, err := s.history.GetMessages(ctx, s.chatID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.Debug("Discarding history received after close")
		return chaterrors.ErrSessionClosed
	}
	if seq != s.loadSeq {
		// A newer load owns the state now
		return nil
	}

	if err != nil {
		s.phase = previous
		s.errText = loadErrorPrefix + err.Error()
		s.errKind = chaterrors.KindApplication
		s.liveSinceLoad = nil
		s.log.Error("Cannot load history", "error", err)
		s.publishLocked()
		return err
	}

	s.timeline.Replace(messages)
	for _, live := range s.liveSinceLoad {
		s.timeline.Append(live)
	}
	s.liveSinceLoad = nil
	s.phase = PhaseReady
	s.publishLocked()
	return nil
}

// SendMessage sends body to the session's recipient. Nothing is appended
// locally: the message shows up once the server echoes it.
func (s *ChatSession) SendMessage(_ context.Context, body string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return chaterrors.ErrSessionClosed
	}
	if strings.TrimSpace(body) == "" {
		s.mu.Unlock()
		return chaterrors.ErrEmptyMessage
	}
	if !s.connection.IsOpen() {
		s.failLocked(chaterrors.ErrConnectionLost)
		s.mu.Unlock()
		return chaterrors.ErrConnectionLost
	}

	nonce := uuid.NewString()
	p := &pendingSend{PendingSend: PendingSend{Nonce: nonce, Body: body, SentAt: time.Now()}}
	p.timer = time.AfterFunc(s.cfg.AckTimeout, func() { s.expire(nonce) })
	s.pending = append(s.pending, p)
	s.publishLocked()
	s.mu.Unlock()

	err := s.repo.Send(domain.OutboundMessage{RecipientID: s.cfg.RecipientID, Body: body, ClientNonce: nonce})
	if err == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removePendingLocked(nonce)
	if s.closed {
		return chaterrors.ErrSessionClosed
	}
	if errors.Is(err, chaterrors.ErrNotConnected) {
		err = chaterrors.ErrConnectionLost
	}
	s.failLocked(err)
	return err
}

// State returns the current snapshot.
func (s *ChatSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Observe streams a snapshot after every mutation. Snapshots are dropped
// for an observer that does not keep up; State is always current.
func (s *ChatSession) Observe() *runtime.Subscription[SessionState] {
	return s.observers.Subscribe()
}

// Close stops the workers, drops the subscriptions and releases the
// connection. Safe to call more than once.
func (s *ChatSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancel := s.cancel
	started := s.started
	for _, p := range s.pending {
		p.timer.Stop()
	}
	s.pending = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.supervisor.Stop()
	if started {
		<-s.supervisor.Done()
		s.messageSub.Unsubscribe()
		s.stateSub.Unsubscribe()
	}
	s.observers.Close()
	if s.release != nil {
		s.release()
	}
	s.log.Debug("Chat session closed")
	return nil
}

func (s *ChatSession) onMessage(msg domain.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || msg.ChatID != s.chatID {
		return
	}

	acked := false
	if msg.ClientNonce != "" {
		acked = s.removePendingLocked(msg.ClientNonce)
	}
	added := s.timeline.Append(msg)
	if s.phase == PhaseLoading {
		// Matched again against the fresh history once it arrives
		s.liveSinceLoad = append(s.liveSinceLoad, msg)
	}
	if added || acked {
		s.publishLocked()
	}
}

func (s *ChatSession) setConnection(state domain.ConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.connection == state {
		return
	}
	wasOpen := s.connection.IsOpen()
	s.connection = state
	s.log.Debug("Connection state changed", "state", state)
	if wasOpen && !state.IsOpen() && len(s.pending) > 0 {
		for _, p := range s.pending {
			p.timer.Stop()
		}
		s.pending = nil
		s.errText, s.errKind = chaterrors.ErrConnectionLost.Error(), chaterrors.KindUserAction
	}
	s.publishLocked()
}

// onPoll reconciles the polled view with the pushed one.
func (s *ChatSession) onPoll(open bool) {
	s.mu.Lock()
	current := s.connection
	s.mu.Unlock()
	if current.IsOpen() == open {
		return
	}
	state := s.repo.State()
	switch {
	case open:
		state = domain.Connected
	case state.IsOpen():
		state = domain.Disconnected
	}
	s.setConnection(state)
}

// onConnectionFailure surfaces a connection that will not come back.
func (s *ChatSession) onConnectionFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.failLocked(err)
}

func (s *ChatSession) expire(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, p := range s.pending {
		if p.Nonce == nonce {
			s.removePendingLocked(nonce)
			s.failLocked(fmt.Errorf("%w: %q", chaterrors.ErrAckTimeout, p.Body))
			return
		}
	}
}

func (s *ChatSession) failLocked(err error) {
	s.errText = err.Error()
	s.errKind = chaterrors.KindOf(err)
	s.publishLocked()
}

func (s *ChatSession) removePendingLocked(nonce string) bool {
	_, index, found := lo.FindIndexOf(s.pending, func(p *pendingSend) bool { return p.Nonce == nonce })
	if !found {
		return false
	}
	s.pending[index].timer.Stop()
	s.pending = append(s.pending[:index], s.pending[index+1:]...)
	return true
}

func (s *ChatSession) settledPhaseLocked() Phase {
	if s.timeline.Len() > 0 {
		return PhaseReady
	}
	return PhaseIdle
}

func (s *ChatSession) snapshotLocked() SessionState {
	return SessionState{
		Messages:   s.timeline.Messages(),
		Phase:      s.phase,
		Loading:    s.phase == PhaseLoading,
		Connected:  s.connection.IsOpen(),
		Connection: s.connection,
		Error:      s.errText,
		ErrorKind:  s.errKind,
		Pending: lo.Map(s.pending, func(p *pendingSend, _ int) PendingSend {
			return p.PendingSend
		}),
	}
}

// publishLocked never blocks, so it is safe under the lock and keeps
// snapshots in mutation order.
func (s *ChatSession) publishLocked() {
	s.observers.TryPublish(s.snapshotLocked())
}
