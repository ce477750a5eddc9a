package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"konnekt-chat/auth"
	"konnekt-chat/domain"
	"konnekt-chat/mocks"
	"konnekt-chat/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func openBadger(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func startServer(t *testing.T, store repositories.IMessageRepository, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	if store == nil {
		store = repositories.NewMessageRepository(openBadger(t), log, nil)
	}
	s := New(log, store, cfg)
	srv := httptest.NewServer(s.Routes())
	t.Cleanup(func() {
		s.Close()
		srv.Close()
	})
	return s, srv
}

func dial(t *testing.T, srv *httptest.Server, userID string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, err := tryDial(srv, userID, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func tryDial(srv *httptest.Server, userID string, header http.Header) (*websocket.Conn, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil && resp != nil {
		return nil, &statusError{code: resp.StatusCode, err: err}
	}
	return conn, err
}

type statusError struct {
	code int
	err  error
}

func (e *statusError) Error() string { return e.err.Error() }

func send(t *testing.T, conn *websocket.Conn, out domain.OutboundMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(out))
}

func receive(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := domain.DecodeMessage(raw)
	require.NoError(t, err)
	return msg
}

func waitConnections(t *testing.T, s *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Connections() == n }, 2*time.Second, 5*time.Millisecond)
}

func history(t *testing.T, srv *httptest.Server, chatID string) []domain.Message {
	t.Helper()
	resp, err := http.Get(srv.URL + "/messages/" + chatID)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var messages []domain.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	return messages
}

func TestServer_Routes_Message_To_Sender_And_Recipient(t *testing.T) {
	req := require.New(t)
	s, srv := startServer(t, nil, Config{})

	// Given u1 and u2 are connected
	u1 := dial(t, srv, "u1", nil)
	u2 := dial(t, srv, "u2", nil)
	waitConnections(t, s, 2)

	// When u1 writes to u2
	send(t, u1, domain.OutboundMessage{RecipientID: "u2", Body: "hello", ClientNonce: "n-1"})

	// Then both receive the stamped message
	atRecipient := receive(t, u2)
	atSender := receive(t, u1)

	req.Equal("u1_u2", atRecipient.ChatID)
	req.Equal("u1", atRecipient.SenderID)
	req.Equal("u2", atRecipient.RecipientID)
	req.Equal("hello", atRecipient.Body)
	req.NotEmpty(atRecipient.ID)
	_, err := atRecipient.Time()
	req.NoError(err)

	// And only the sender sees its nonce echoed
	req.Empty(atRecipient.ClientNonce)
	req.Equal("n-1", atSender.ClientNonce)
	req.Equal(atRecipient.ID, atSender.ID)

	// And the message is in the history
	stored := history(t, srv, "u1_u2")
	req.Len(stored, 1)
	req.Equal(atRecipient.ID, stored[0].ID)
}

func TestServer_Message_To_Self_Is_Delivered_Once(t *testing.T) {
	req := require.New(t)
	s, srv := startServer(t, nil, Config{})
	u1 := dial(t, srv, "u1", nil)
	waitConnections(t, s, 1)

	send(t, u1, domain.OutboundMessage{RecipientID: "u1", Body: "note to self"})
	send(t, u1, domain.OutboundMessage{RecipientID: "u2", Body: "next"})

	req.Equal("note to self", receive(t, u1).Body)
	req.Equal("next", receive(t, u1).Body)
}

func TestServer_Invalid_Frames_Are_Skipped(t *testing.T) {
	req := require.New(t)
	s, srv := startServer(t, nil, Config{})
	u1 := dial(t, srv, "u1", nil)
	waitConnections(t, s, 1)

	// When garbage and incomplete frames precede a valid one
	req.NoError(u1.WriteMessage(websocket.TextMessage, []byte("not json")))
	req.NoError(u1.WriteMessage(websocket.TextMessage, []byte(`{"message":"no recipient"}`)))
	req.NoError(u1.WriteMessage(websocket.TextMessage, []byte(`{"recipient_id":"u2","message":""}`)))
	send(t, u1, domain.OutboundMessage{RecipientID: "u2", Body: "valid"})

	// Then the connection survives and only the valid one comes back
	req.Equal("valid", receive(t, u1).Body)
	req.Len(history(t, srv, "u1_u2"), 1)
}

func TestServer_New_Connection_Replaces_The_Old_One(t *testing.T) {
	req := require.New(t)
	s, srv := startServer(t, nil, Config{})

	first := dial(t, srv, "u1", nil)
	waitConnections(t, s, 1)
	second := dial(t, srv, "u1", nil)

	// Then the first socket is closed as replaced
	req.NoError(first.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := first.ReadMessage()
	req.True(websocket.IsCloseError(err, CloseSessionReplaced), "got %v", err)

	// And the second one still works
	waitConnections(t, s, 1)
	send(t, second, domain.OutboundMessage{RecipientID: "u2", Body: "still here"})
	req.Equal("still here", receive(t, second).Body)
}

func TestServer_History_Is_Empty_List_For_Unknown_Chat(t *testing.T) {
	req := require.New(t)
	_, srv := startServer(t, nil, Config{})

	resp, err := http.Get(srv.URL + "/messages/nobody_else")
	req.NoError(err)
	defer resp.Body.Close()

	var raw json.RawMessage
	req.NoError(json.NewDecoder(resp.Body).Decode(&raw))
	req.Equal("[]", string(raw))
	req.Equal("application/json", resp.Header.Get("Content-Type"))
}

func TestServer_Store_Failure_Drops_The_Message(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	store := mocks.NewMockIMessageRepository(ctrl)
	gomock.InOrder(
		store.EXPECT().StoreMessage(gomock.Any(), gomock.Any()).Return(errors.New("disk full")),
		store.EXPECT().StoreMessage(gomock.Any(), gomock.Any()).Return(nil),
	)
	store.EXPECT().GetMessages("u1_u2").Return(nil, errors.New("disk full"))

	s, srv := startServer(t, store, Config{})
	u1 := dial(t, srv, "u1", nil)
	waitConnections(t, s, 1)

	// When the first store fails
	send(t, u1, domain.OutboundMessage{RecipientID: "u2", Body: "lost"})
	send(t, u1, domain.OutboundMessage{RecipientID: "u2", Body: "kept"})

	// Then only the stored message is delivered
	req.Equal("kept", receive(t, u1).Body)

	// And a failing history read is a server error
	resp, err := http.Get(srv.URL + "/messages/u1_u2")
	req.NoError(err)
	defer resp.Body.Close()
	req.Equal(http.StatusInternalServerError, resp.StatusCode)
}

func TestServer_Bearer_Auth(t *testing.T) {
	signer, err := auth.NewSigner("server_test_secret_value")
	require.NoError(t, err)
	s, srv := startServer(t, nil, Config{Signer: signer})

	bearer := func(userID string) http.Header {
		token, err := signer.GenerateToken(userID, nil, time.Minute)
		require.NoError(t, err)
		return http.Header{"Authorization": []string{"Bearer " + token}}
	}

	t.Run("missing token", func(t *testing.T) {
		req := require.New(t)
		_, err := tryDial(srv, "u1", nil)
		var status *statusError
		req.ErrorAs(err, &status)
		req.Equal(http.StatusUnauthorized, status.code)
	})

	t.Run("token of another user", func(t *testing.T) {
		req := require.New(t)
		_, err := tryDial(srv, "u1", bearer("u2"))
		var status *statusError
		req.ErrorAs(err, &status)
		req.Equal(http.StatusForbidden, status.code)
	})

	t.Run("matching token", func(t *testing.T) {
		req := require.New(t)
		conn := dial(t, srv, "u1", bearer("u1"))
		waitConnections(t, s, 1)
		send(t, conn, domain.OutboundMessage{RecipientID: "u2", Body: "authorized"})
		req.Equal("authorized", receive(t, conn).Body)
	})

	t.Run("health stays public", func(t *testing.T) {
		req := require.New(t)
		resp, err := http.Get(srv.URL + "/healthz")
		req.NoError(err)
		defer resp.Body.Close()
		req.Equal(http.StatusOK, resp.StatusCode)
	})
}
