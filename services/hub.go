package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"konnekt-chat/contract"
	"konnekt-chat/domain"
	"konnekt-chat/repositories"
	"konnekt-chat/runtime/workers"
	"konnekt-chat/transport"
)

type HubConfig struct {
	// SocketBaseURI is ws(s)://host:port.
	SocketBaseURI string
	// HistoryBaseURL is http(s)://host:port.
	HistoryBaseURL string
	Transport      *transport.Transport
	BufferSize     int
	Reconnect      workers.ReconnectPolicy
	PollInterval   time.Duration
	AckTimeout     time.Duration
}

type connectFunc func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error)

func connectRepository(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
	return repositories.NewChatRepository(ctx, log, cfg)
}

type historyFunc func(creds domain.Credentials) contract.IHistoryClient

type hubEntry struct {
	repo       contract.IChatRepository
	refs       int
	supervisor *workers.Supervisor
	sessions   map[*ChatSession]struct{}
	// shutdown is set once the entry is closed or scheduled to be
	shutdown bool
}

// Hub hands out one shared connection per user. Sessions of the same user
// share a socket and its message stream; the last release closes it.
type Hub struct {
	log        *slog.Logger
	cfg        HubConfig
	connect    connectFunc
	newHistory historyFunc

	mu      sync.Mutex
	entries map[string]*hubEntry
	// retired entries gave up reconnecting and wait for their last release
	retired map[*hubEntry]string
}

func NewHub(log *slog.Logger, cfg HubConfig) *Hub {
	if cfg.Transport == nil {
		cfg.Transport = transport.NewInsecure(transport.Config{})
	}
	h := &Hub{
		log:     log,
		cfg:     cfg,
		connect: connectRepository,
		entries: make(map[string]*hubEntry),
		retired: make(map[*hubEntry]string),
	}
	h.newHistory = func(creds domain.Credentials) contract.IHistoryClient {
		return repositories.NewHistoryClient(log, h.cfg.HistoryBaseURL, h.cfg.Transport, creds)
	}
	return h
}

// Acquire returns the user's connection, creating it on first use.
// Each successful Acquire must be paired with exactly one release.
func (h *Hub) Acquire(ctx context.Context, creds domain.Credentials) (contract.IChatRepository, func(), error) {
	entry, release, err := h.acquire(ctx, creds)
	if err != nil {
		return nil, nil, err
	}
	return entry.repo, release, nil
}

func (h *Hub) acquire(ctx context.Context, creds domain.Credentials) (*hubEntry, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	entry, ok := h.entries[creds.UserID]
	if !ok {
		// The connection outlives the caller that happened to open it
		connCtx := context.WithoutCancel(ctx)
		repo, err := h.connect(connCtx, h.log, repositories.RepositoryConfig{
			BaseURI:     h.cfg.SocketBaseURI,
			Transport:   h.cfg.Transport,
			Credentials: creds,
			BufferSize:  h.cfg.BufferSize,
		})
		if err != nil {
			return nil, nil, err
		}
		userID := creds.UserID
		supervisor := workers.NewSupervisor(h.log.With("user_id", userID))
		supervisor.Add(workers.NewReconnector(h.log.With("user_id", userID), repo, h.cfg.Reconnect,
			func(err error) { h.giveUp(userID, err) }))
		go supervisor.Run(connCtx)

		entry = &hubEntry{repo: repo, supervisor: supervisor, sessions: make(map[*ChatSession]struct{})}
		h.entries[userID] = entry
		h.log.Info("Opened shared connection", "user_id", userID)
	}
	entry.refs++

	var once sync.Once
	release := func() {
		once.Do(func() { h.release(creds.UserID, entry) })
	}
	return entry, release, nil
}

// OpenSession starts a chat between creds.UserID and recipientID on the
// user's shared connection.
func (h *Hub) OpenSession(ctx context.Context, creds domain.Credentials, recipientID string) (*ChatSession, error) {
	entry, release, err := h.acquire(ctx, creds)
	if err != nil {
		return nil, err
	}
	history := h.newHistory(creds)

	var session *ChatSession
	session = NewChatSession(h.log, entry.repo, history, SessionConfig{
		Credentials:  creds,
		RecipientID:  recipientID,
		PollInterval: h.cfg.PollInterval,
		AckTimeout:   h.cfg.AckTimeout,
		BufferSize:   h.cfg.BufferSize,
	}, func() {
		h.detach(entry, session)
		release()
	})
	h.attach(entry, session)

	if err := session.Start(ctx); err != nil {
		_ = session.Close()
		return nil, err
	}
	return session, nil
}

// Connections returns the number of users holding a connection.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Close drops every connection regardless of outstanding references.
func (h *Hub) Close() {
	h.mu.Lock()
	closing := make(map[*hubEntry]string, len(h.entries)+len(h.retired))
	for userID, entry := range h.entries {
		closing[entry] = userID
	}
	for entry, userID := range h.retired {
		closing[entry] = userID
	}
	for entry := range closing {
		if entry.shutdown {
			delete(closing, entry)
			continue
		}
		entry.shutdown = true
	}
	h.entries = make(map[string]*hubEntry)
	h.retired = make(map[*hubEntry]string)
	h.mu.Unlock()

	for entry, userID := range closing {
		h.shutdown(userID, entry)
	}
}

func (h *Hub) release(userID string, entry *hubEntry) {
	h.mu.Lock()
	entry.refs--
	last := entry.refs <= 0 && !entry.shutdown
	if last {
		entry.shutdown = true
		if h.entries[userID] == entry {
			delete(h.entries, userID)
		}
		delete(h.retired, entry)
	}
	h.mu.Unlock()

	if last {
		h.shutdown(userID, entry)
	}
}

func (h *Hub) shutdown(userID string, entry *hubEntry) {
	entry.supervisor.Stop()
	<-entry.supervisor.Done()
	if err := entry.repo.Close(); err != nil {
		h.log.Warn("Closing connection failed", "user_id", userID, "error", err)
	}
	h.log.Info("Closed shared connection", "user_id", userID)
}

func (h *Hub) attach(entry *hubEntry, session *ChatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	entry.sessions[session] = struct{}{}
}

func (h *Hub) detach(entry *hubEntry, session *ChatSession) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(entry.sessions, session)
}

// giveUp retires the user's connection: its sessions get err, the next
// Acquire dials a fresh one and the dead one closes on its last release.
func (h *Hub) giveUp(userID string, err error) {
	h.mu.Lock()
	var sessions []*ChatSession
	if entry, ok := h.entries[userID]; ok {
		delete(h.entries, userID)
		h.retired[entry] = userID
		for s := range entry.sessions {
			sessions = append(sessions, s)
		}
	}
	h.mu.Unlock()

	h.log.Warn("Retired shared connection", "user_id", userID, "error", err)
	for _, s := range sessions {
		s.onConnectionFailure(err)
	}
}
