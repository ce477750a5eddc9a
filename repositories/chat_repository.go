package repositories

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"konnekt-chat/domain"
	"konnekt-chat/observability"
	"konnekt-chat/runtime"
	"konnekt-chat/socket"
	"konnekt-chat/transport"
)

type RepositoryConfig struct {
	// BaseURI is scheme://host:port of the chat server, ws or wss.
	BaseURI     string
	Transport   *transport.Transport
	Credentials domain.Credentials
	// BufferSize is the per-subscriber buffer of the message stream.
	BufferSize int
}

// ChatRepository owns the socket of one user. Inbound frames are decoded
// strictly and fanned out to every subscriber; malformed frames are logged
// and dropped.
type ChatRepository struct {
	log      *slog.Logger
	userID   string
	client   *socket.Client
	messages *runtime.Broadcaster[domain.Message]
	states   *runtime.Broadcaster[domain.ConnectionState]

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewChatRepository derives the user's endpoint and starts connecting right
// away. The connection outcome is observable through SubscribeState.
func NewChatRepository(ctx context.Context, log *slog.Logger, cfg RepositoryConfig) (*ChatRepository, error) {
	r, err := newChatRepository(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	r.client.Connect(r.ctx)
	return r, nil
}

func newChatRepository(ctx context.Context, log *slog.Logger, cfg RepositoryConfig) (*ChatRepository, error) {
	uri, err := socket.EndpointFor(cfg.BaseURI, cfg.Credentials.UserID)
	if err != nil {
		return nil, err
	}
	tr := cfg.Transport
	if tr == nil {
		tr = transport.NewInsecure(transport.Config{})
	}

	header := http.Header{}
	if auth := cfg.Credentials.AuthorizationHeader(); auth != "" {
		header.Set("Authorization", auth)
	}

	repoCtx, cancel := context.WithCancel(ctx)
	r := &ChatRepository{
		log:      log.With("user_id", cfg.Credentials.UserID),
		userID:   cfg.Credentials.UserID,
		messages: runtime.NewBroadcaster[domain.Message](cfg.BufferSize),
		states:   runtime.NewBroadcaster[domain.ConnectionState](cfg.BufferSize),
		ctx:      repoCtx,
		cancel:   cancel,
	}
	client, err := socket.NewClient(r.log, tr.Dialer(), uri, header, socket.Handlers{
		OnOpen:        r.onOpen,
		OnMessage:     r.onMessage,
		OnClose:       r.onClose,
		OnError:       r.onError,
		OnStateChange: r.onStateChange,
	}, socket.Options{ReadTimeout: tr.ReadTimeout()})
	if err != nil {
		cancel()
		return nil, err
	}
	r.client = client
	return r, nil
}

// Subscribe returns a fresh subscription to inbound messages. Nothing is
// replayed; callers must Unsubscribe.
func (r *ChatRepository) Subscribe() *runtime.Subscription[domain.Message] {
	return r.messages.Subscribe()
}

// SubscribeState streams connection state transitions. Transitions are
// dropped for a subscriber whose buffer is full, so State stays the source
// of truth.
func (r *ChatRepository) SubscribeState() *runtime.Subscription[domain.ConnectionState] {
	return r.states.Subscribe()
}

func (r *ChatRepository) SendMessage(recipientID, body string) error {
	return r.Send(domain.OutboundMessage{RecipientID: recipientID, Body: body})
}

func (r *ChatRepository) Send(msg domain.OutboundMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		r.log.Error("Cannot encode outbound message", "error", err)
		return err
	}
	if err := r.client.Send(string(payload)); err != nil {
		r.log.Error("Message not sent", "recipient_id", msg.RecipientID, "error", err)
		return err
	}
	return nil
}

func (r *ChatRepository) IsOpen() bool {
	return r.client.IsOpen()
}

func (r *ChatRepository) State() domain.ConnectionState {
	return r.client.State()
}

func (r *ChatRepository) Dial(ctx context.Context) error {
	return r.client.Dial(ctx)
}

// Close closes the socket and ends every subscription.
func (r *ChatRepository) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.client.Close()
		r.messages.Close()
		r.states.Close()
	})
	return err
}

func (r *ChatRepository) onOpen() {
	r.log.Info("Chat socket opened")
}

func (r *ChatRepository) onMessage(raw string) {
	msg, err := domain.DecodeMessage([]byte(raw))
	if err != nil {
		observability.FramesMalformedTotal.Inc()
		r.log.Warn("Dropping malformed frame", "error", err, "raw", raw)
		return
	}
	r.messages.Publish(r.ctx, msg)
}

func (r *ChatRepository) onClose(code int, reason string, remote bool) {
	r.log.Info("Chat socket closed", "code", code, "reason", reason, "remote", remote)
}

func (r *ChatRepository) onError(err error) {
	r.log.Error("Chat socket error", "error", err)
}

func (r *ChatRepository) onStateChange(state domain.ConnectionState) {
	r.states.TryPublish(state)
}
