package workers

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"konnekt-chat/mocks"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestConnectionMonitor_Reports_Every_Tick(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockIChatRepository(ctrl)

	// Given a connection that drops after two polls
	gomock.InOrder(
		repo.EXPECT().IsOpen().Return(true).Times(2),
		repo.EXPECT().IsOpen().Return(false).AnyTimes(),
	)

	var mu sync.Mutex
	var reports []bool
	monitor := NewConnectionMonitor(logs.GetLoggerFromLevel(slog.LevelDebug), repo, 10*time.Millisecond, func(open bool) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, open)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- monitor.Run(ctx) }()

	req.Eventually(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 3
	}, time.Second, 5*time.Millisecond)
	cancel()
	req.NoError(<-done)

	mu.Lock()
	defer mu.Unlock()
	req.Equal([]bool{true, true, false}, reports[:3])
}
