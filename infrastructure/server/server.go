// Package server is a development chat backend speaking the same wire
// contract as production: a per-user WebSocket at /ws/{user_id} and a REST
// history at /messages/{chat_id}.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"konnekt-chat/auth"
	"konnekt-chat/domain"
	"konnekt-chat/observability"
	"konnekt-chat/repositories"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DefaultPongWait   = 60 * time.Second
	DefaultBufferSize = 128
	maxFrameSize      = 64 * 1024
)

// Message results counted by the server.
const (
	resultDelivered   = "delivered"
	resultInvalid     = "invalid"
	resultStoreFailed = "store_failed"
)

type Config struct {
	// PongWait is how long a silent client is kept before being dropped.
	PongWait   time.Duration
	BufferSize int
	// Signer enables bearer auth when set.
	Signer *auth.Signer
}

type Server struct {
	log      *slog.Logger
	store    repositories.IMessageRepository
	registry *Registry
	upgrader websocket.Upgrader
	cfg      Config
	now      func() time.Time
}

func New(log *slog.Logger, store repositories.IMessageRepository, cfg Config) *Server {
	if cfg.PongWait <= 0 {
		cfg.PongWait = DefaultPongWait
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	return &Server{
		log:      log,
		store:    store,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		cfg: cfg,
		now: time.Now,
	}
}

// Routes builds the HTTP surface of the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(p chi.Router) {
		if s.cfg.Signer != nil {
			p.Use(auth.Middleware(s.cfg.Signer))
		}
		p.Get("/ws/{user_id}", s.handleSocket)
		p.Get("/messages/{chat_id}", s.handleHistory)
	})
	return r
}

// Connections returns the number of users currently connected.
func (s *Server) Connections() int { return s.registry.Len() }

// Close drops every open socket.
func (s *Server) Close() {
	s.registry.CloseAll()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "missing user id", http.StatusBadRequest)
		return
	}
	if s.cfg.Signer != nil {
		if tokenUser, _ := auth.UserIDFromContext(r.Context()); tokenUser != userID {
			http.Error(w, "token does not belong to this user", http.StatusForbidden)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("Upgrade failed", "user_id", userID, "error", err)
		return
	}

	peer := newPeer(s.log, userID, conn, s.cfg.BufferSize)
	if old := s.registry.Add(peer); old != nil {
		s.log.Info("Replaced existing connection", "user_id", userID, "old_peer_id", old.ID, "peer_id", peer.ID)
	}
	observability.ServerConnectionsActive.Inc()
	s.log.Info("User connected", "user_id", userID, "peer_id", peer.ID)

	go peer.writeLoop(s.cfg.PongWait * 9 / 10)
	go s.readLoop(peer)
}

func (s *Server) readLoop(peer *Peer) {
	defer func() {
		s.registry.Remove(peer)
		peer.Close()
		observability.ServerConnectionsActive.Dec()
		s.log.Info("User disconnected", "user_id", peer.UserID, "peer_id", peer.ID)
	}()

	peer.conn.SetReadLimit(maxFrameSize)
	_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	peer.conn.SetPongHandler(func(string) error {
		return peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		kind, raw, err := peer.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure, CloseSessionReplaced) {
				s.log.Warn("Read loop ended", "user_id", peer.UserID, "error", err)
			}
			return
		}
		_ = peer.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
		if kind != websocket.TextMessage {
			continue
		}
		s.handleFrame(peer, raw)
	}
}

// handleFrame stamps, stores and routes one outbound frame of a client.
// The sender's copy carries its client nonce back as an acknowledgement.
func (s *Server) handleFrame(peer *Peer, raw []byte) {
	out, err := domain.DecodeOutbound(raw)
	if err != nil {
		observability.ServerMessagesTotal.WithLabelValues(resultInvalid).Inc()
		s.log.Warn("Skipping invalid frame", "user_id", peer.UserID, "error", err)
		return
	}

	now := s.now()
	msg := domain.Message{
		ID:          uuid.NewString(),
		ChatID:      domain.ChatID(peer.UserID, out.RecipientID),
		SenderID:    peer.UserID,
		RecipientID: out.RecipientID,
		Body:        out.Body,
		Timestamp:   domain.FormatTimestamp(now),
	}
	if err := s.store.StoreMessage(msg, now); err != nil {
		observability.ServerMessagesTotal.WithLabelValues(resultStoreFailed).Inc()
		s.log.Error("Storing message failed", "chat_id", msg.ChatID, "error", err)
		return
	}

	if out.RecipientID != peer.UserID {
		s.deliver(out.RecipientID, msg)
	}
	msg.ClientNonce = out.ClientNonce
	s.deliver(peer.UserID, msg)
	observability.ServerMessagesTotal.WithLabelValues(resultDelivered).Inc()
}

func (s *Server) deliver(userID string, msg domain.Message) {
	p, ok := s.registry.Get(userID)
	if !ok {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Encoding message failed", "error", err)
		return
	}
	p.Deliver(payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chat_id")
	messages, err := s.store.GetMessages(chatID)
	if err != nil {
		s.log.Error("Reading history failed", "chat_id", chatID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "history unavailable"})
		return
	}
	if messages == nil {
		messages = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
