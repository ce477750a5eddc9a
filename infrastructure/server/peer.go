package server

import (
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// CloseSessionReplaced is sent to a socket superseded by a newer one of the same user.
	CloseSessionReplaced = 4000
)

// Peer is one accepted socket. Frames to the client go through a bounded
// queue drained by a single writer goroutine.
type Peer struct {
	ID     string
	UserID string

	log    *slog.Logger
	conn   *websocket.Conn
	queue  chan []byte
	done   chan struct{}
	closed atomic.Bool
}

func newPeer(log *slog.Logger, userID string, conn *websocket.Conn, bufferSize int) *Peer {
	id := uuid.NewString()
	return &Peer{
		ID:     id,
		UserID: userID,
		log:    log.With("user_id", userID, "peer_id", id),
		conn:   conn,
		queue:  make(chan []byte, bufferSize),
		done:   make(chan struct{}),
	}
}

// Deliver queues a frame for the client without blocking. A full queue means
// the client cannot keep up, so the peer is dropped.
func (p *Peer) Deliver(payload []byte) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.queue <- payload:
		return true
	default:
		p.log.Warn("Peer queue overflow, dropping connection")
		p.CloseWithReason(websocket.CloseTryAgainLater, "backpressure overflow")
		return false
	}
}

func (p *Peer) Done() <-chan struct{} { return p.done }

func (p *Peer) Close() {
	p.CloseWithReason(websocket.CloseGoingAway, "server closing")
}

func (p *Peer) CloseWithReason(code int, reason string) {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.done)
	p.log.Debug("Closing peer", "code", code, "reason", reason)
	_ = p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason),
		time.Now().Add(time.Second))
	_ = p.conn.Close()
}

func (p *Peer) writeLoop(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.Close()
	}()

	for {
		select {
		case payload := <-p.queue:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				p.log.Debug("Write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.log.Debug("Ping failed", "error", err)
				return
			}
		case <-p.done:
			return
		}
	}
}
