package services

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"konnekt-chat/contract"
	"konnekt-chat/domain"
	chaterrors "konnekt-chat/errors"
	"konnekt-chat/mocks"
	"konnekt-chat/repositories"
	"konnekt-chat/runtime"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// scriptedRepo returns a mocked connection whose Close ends its streams.
func scriptedRepo(ctrl *gomock.Controller, closes *atomic.Int32) *mocks.MockIChatRepository {
	repo := mocks.NewMockIChatRepository(ctrl)
	messages := runtime.NewBroadcaster[domain.Message](4)
	states := runtime.NewBroadcaster[domain.ConnectionState](4)
	repo.EXPECT().Subscribe().DoAndReturn(messages.Subscribe).AnyTimes()
	repo.EXPECT().SubscribeState().DoAndReturn(states.Subscribe).AnyTimes()
	repo.EXPECT().State().Return(domain.Connected).AnyTimes()
	repo.EXPECT().IsOpen().Return(true).AnyTimes()
	repo.EXPECT().Close().DoAndReturn(func() error {
		closes.Add(1)
		messages.Close()
		states.Close()
		return nil
	}).MaxTimes(1)
	return repo
}

func newTestHub(t *testing.T, connect connectFunc) *Hub {
	hub := NewHub(logs.GetLoggerFromLevel(slog.LevelDebug), HubConfig{
		SocketBaseURI:  "wss://chat.local:8443",
		HistoryBaseURL: "https://chat.local:8443",
		PollInterval:   10 * time.Millisecond,
	})
	hub.connect = connect
	ctrl := gomock.NewController(t)
	hub.newHistory = func(domain.Credentials) contract.IHistoryClient {
		history := mocks.NewMockIHistoryClient(ctrl)
		history.EXPECT().GetMessages(gomock.Any(), gomock.Any()).Return([]domain.Message{}, nil).AnyTimes()
		return history
	}
	return hub
}

func TestHub_Shares_One_Connection_Per_User(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	var closes, connects atomic.Int32
	var lastCfg repositories.RepositoryConfig

	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		connects.Add(1)
		lastCfg = cfg
		return scriptedRepo(ctrl, &closes), nil
	})
	creds := domain.Credentials{UserID: "u1", Token: "tok"}

	// When two consumers acquire the same user's connection
	first, releaseFirst, err := hub.Acquire(context.Background(), creds)
	req.NoError(err)
	second, releaseSecond, err := hub.Acquire(context.Background(), creds)
	req.NoError(err)

	// Then a single socket is shared
	req.Same(first, second)
	req.Equal(int32(1), connects.Load())
	req.Equal("wss://chat.local:8443", lastCfg.BaseURI)
	req.Equal(creds, lastCfg.Credentials)
	req.Equal(1, hub.Connections())

	// And it is closed only by the last release
	releaseFirst()
	releaseFirst()
	req.Equal(int32(0), closes.Load())
	releaseSecond()
	req.Equal(int32(1), closes.Load())
	req.Equal(0, hub.Connections())
}

func TestHub_Separate_Users_Get_Separate_Connections(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	var closes atomic.Int32
	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		return scriptedRepo(ctrl, &closes), nil
	})
	defer hub.Close()

	u1, _, err := hub.Acquire(context.Background(), domain.Credentials{UserID: "u1"})
	req.NoError(err)
	u2, _, err := hub.Acquire(context.Background(), domain.Credentials{UserID: "u2"})
	req.NoError(err)

	req.NotSame(u1, u2)
	req.Equal(2, hub.Connections())
}

func TestHub_Connect_Failure_Is_Returned(t *testing.T) {
	req := require.New(t)
	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		return nil, chaterrors.ErrInvalidEndpoint
	})

	_, _, err := hub.Acquire(context.Background(), domain.Credentials{UserID: "u1"})
	req.ErrorIs(err, chaterrors.ErrInvalidEndpoint)
	req.Equal(0, hub.Connections())
}

func TestHub_Sessions_Release_Their_Connection(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	var closes atomic.Int32
	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		return scriptedRepo(ctrl, &closes), nil
	})
	creds := domain.Credentials{UserID: "u1"}

	// Two chats of the same user
	withU2, err := hub.OpenSession(context.Background(), creds, "u2")
	req.NoError(err)
	withU3, err := hub.OpenSession(context.Background(), creds, "u3")
	req.NoError(err)
	req.Equal(1, hub.Connections())
	req.Equal("u1_u2", withU2.ChatID())
	req.Equal("u1_u3", withU3.ChatID())

	req.NoError(withU2.Close())
	req.Equal(int32(0), closes.Load())
	req.NoError(withU3.Close())
	req.Equal(int32(1), closes.Load())
	req.Equal(0, hub.Connections())
}

func TestHub_Give_Up_Reaches_Every_Session(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	var closes atomic.Int32
	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		return scriptedRepo(ctrl, &closes), nil
	})
	defer hub.Close()
	creds := domain.Credentials{UserID: "u1"}

	session, err := hub.OpenSession(context.Background(), creds, "u2")
	req.NoError(err)
	defer session.Close()
	req.Eventually(func() bool { return session.State().Phase == PhaseReady }, time.Second, 5*time.Millisecond)

	// When the reconnector gives up on u1's connection
	giveUp := errors.Join(chaterrors.ErrReconnectExhausted, errors.New("no route to host"))
	hub.giveUp("u1", giveUp)

	req.Eventually(func() bool {
		return session.State().ErrorKind == chaterrors.KindConnection
	}, time.Second, 5*time.Millisecond)
	req.Contains(session.State().Error, chaterrors.ErrReconnectExhausted.Error())
}

func TestHub_Session_Opened_After_Give_Up_Dials_Fresh(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	var closes, connects atomic.Int32
	hub := newTestHub(t, func(ctx context.Context, log *slog.Logger, cfg repositories.RepositoryConfig) (contract.IChatRepository, error) {
		connects.Add(1)
		return scriptedRepo(ctrl, &closes), nil
	})
	defer hub.Close()
	creds := domain.Credentials{UserID: "u1"}

	// Given u1's connection gave up reconnecting
	before, err := hub.OpenSession(context.Background(), creds, "u2")
	req.NoError(err)
	req.Eventually(func() bool { return before.State().Phase == PhaseReady }, time.Second, 5*time.Millisecond)
	hub.giveUp("u1", chaterrors.ErrReconnectExhausted)
	req.Equal(0, hub.Connections())

	// When u1 opens another chat
	after, err := hub.OpenSession(context.Background(), creds, "u3")
	req.NoError(err)
	defer after.Close()

	// Then it gets a new connection and no stale error
	req.Equal(int32(2), connects.Load())
	req.Equal(1, hub.Connections())
	req.Eventually(func() bool { return after.State().Phase == PhaseReady }, time.Second, 5*time.Millisecond)
	req.Empty(after.State().Error)
	req.Contains(before.State().Error, chaterrors.ErrReconnectExhausted.Error())

	// And the dead connection closes with its last holder only
	req.NoError(before.Close())
	req.Equal(int32(1), closes.Load())
	req.Equal(1, hub.Connections())
}
