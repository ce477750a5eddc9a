package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"konnekt-chat/auth"
	"konnekt-chat/domain"
	"konnekt-chat/infrastructure/server"
	"konnekt-chat/repositories"
	"konnekt-chat/runtime/workers"
	"konnekt-chat/services"
	"konnekt-chat/transport"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/suite"
)

type BaseChatSuite struct {
	suite.Suite
	Config Config
	Log    *slog.Logger

	signer         *auth.Signer
	socketBaseURI  string
	historyBaseURL string

	// in-process server, nil when E2E_SERVER_URL is set
	devServer  *server.Server
	httpServer *httptest.Server
	db         *badger.DB
	dbDir      string
}

// SetupSuite loads the environment configuration and starts the server
// unless an external one is configured.
func (s *BaseChatSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	s.Log = logs.GetLoggerFromLevel(slog.LevelDebug)

	s.signer, err = auth.NewSigner(s.Config.JWTSecret)
	s.Require().NoError(err)

	baseURL := s.Config.ServerURL
	if baseURL == "" {
		baseURL = s.startDevServer()
	}
	s.historyBaseURL = strings.TrimSuffix(baseURL, "/")
	s.socketBaseURI = "ws" + strings.TrimPrefix(s.historyBaseURL, "http")
}

func (s *BaseChatSuite) TearDownSuite() {
	if s.devServer == nil {
		return
	}
	s.devServer.Close()
	s.httpServer.Close()
	_ = s.db.Close()
	_ = os.RemoveAll(s.dbDir)
}

func (s *BaseChatSuite) startDevServer() string {
	var err error
	s.dbDir, err = os.MkdirTemp("", "konnekt-e2e-*")
	s.Require().NoError(err)
	s.db, err = badger.Open(badger.DefaultOptions(s.dbDir).WithLoggingLevel(badger.ERROR))
	s.Require().NoError(err)

	store := repositories.NewMessageRepository(s.db, s.Log, nil)
	s.devServer = server.New(s.Log, store, server.Config{Signer: s.signer})
	s.httpServer = httptest.NewTLSServer(s.devServer.Routes())
	return s.httpServer.URL
}

// Step prints a colorized header for a scenario step in the test logs.
func (s *BaseChatSuite) Step(name string) {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)
}

// Credentials mints a token for userID with the shared secret.
func (s *BaseChatSuite) Credentials(userID string) domain.Credentials {
	token, err := s.signer.GenerateToken(userID, []string{"user"}, time.Hour)
	s.Require().NoError(err)
	return domain.Credentials{UserID: userID, Token: token}
}

// NewHub returns a hub talking to the suite's server with fast timings.
func (s *BaseChatSuite) NewHub() *services.Hub {
	hub := services.NewHub(s.Log, services.HubConfig{
		SocketBaseURI:  s.socketBaseURI,
		HistoryBaseURL: s.historyBaseURL,
		Transport:      transport.NewInsecure(transport.Config{ReadTimeout: 5 * time.Second}),
		BufferSize:     16,
		Reconnect: workers.ReconnectPolicy{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     200 * time.Millisecond,
			MaxRetries:      20,
			CheckInterval:   50 * time.Millisecond,
		},
		PollInterval: 50 * time.Millisecond,
		AckTimeout:   s.Config.Timeout,
	})
	s.T().Cleanup(hub.Close)
	return hub
}

// Open starts a ready, connected chat between userID and recipientID.
func (s *BaseChatSuite) Open(hub *services.Hub, userID, recipientID string) *services.ChatSession {
	session, err := hub.OpenSession(context.Background(), s.Credentials(userID), recipientID)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = session.Close() })
	s.WaitFor(session, "ready and connected", func(st services.SessionState) bool {
		return st.Phase == services.PhaseReady && st.Connected
	})
	return session
}

// WaitFor polls the session until cond holds or the configured timeout ends.
func (s *BaseChatSuite) WaitFor(session *services.ChatSession, what string, cond func(services.SessionState) bool) {
	ok := s.Eventually(func() bool { return cond(session.State()) }, s.Config.Timeout, 10*time.Millisecond, what)
	if !ok || s.Config.DebugJSON {
		s.Dump(session)
	}
	if !ok {
		s.FailNow("condition not met: " + what)
	}
}

func (s *BaseChatSuite) Dump(session *services.ChatSession) {
	state := session.State()
	body, err := json.MarshalIndent(struct {
		ChatID     string
		Phase      string
		Connection string
		Error      string
		Messages   []domain.Message
		Pending    []services.PendingSend
	}{session.ChatID(), state.Phase.String(), state.Connection.String(), state.Error, state.Messages, state.Pending}, "", "  ")
	s.Require().NoError(err)
	s.T().Log("SESSION:\n" + string(body))
}

// DropConnections closes every socket of the in-process server.
func (s *BaseChatSuite) DropConnections() {
	if s.devServer == nil {
		s.T().Skip("needs the in-process server")
	}
	s.devServer.Close()
}
