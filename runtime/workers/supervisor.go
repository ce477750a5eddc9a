package workers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"konnekt-chat/contract"
	"konnekt-chat/errors"
)

const waitTimeBeforeRestart = 200 * time.Millisecond

// Supervisor runs each worker in its own goroutine, recovers panics,
// restarts crashed workers and stops them all when its context ends.
// A worker returning nil is considered finished and is not restarted.
type Supervisor struct {
	log     *slog.Logger
	wg      sync.WaitGroup
	workers []contract.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
	done    chan struct{}
}

func NewSupervisor(log *slog.Logger) *Supervisor {
	return &Supervisor{log: log, done: make(chan struct{})}
}

func (s *Supervisor) Add(worker ...contract.Worker) contract.ISupervisor {
	s.workers = append(s.workers, worker...)
	return s
}

// Run starts every added worker and blocks until all of them returned.
// Cancelling the parent ctx or calling Stop ends the supervised context only.
func (s *Supervisor) Run(ctx context.Context) {
	defer close(s.done)

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	supervisedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	for _, worker := range s.workers {
		s.Start(supervisedCtx, worker)
	}
	s.wg.Wait()
}

// Start runs a worker under supervision.
// If its Run method panics or fails, the worker is restarted after a short
// delay. A failure in one worker never stops the others.
func (s *Supervisor) Start(ctx context.Context, worker contract.Worker) {
	s.wg.Add(1)
	workerName := contract.GetWorkerName(worker)

	go func() {
		defer s.wg.Done()

		for {
			if ctx.Err() != nil {
				s.log.Debug("Stopping worker", "name", workerName)
				return
			}

			err := func() (err error) {
				defer func() {
					if r := recover(); r != nil {
						s.log.Error("Worker panicked", "name", workerName, "panic", r)
						err = errors.ErrWorkerPanic
					}
				}()
				return worker.Run(ctx)
			}()

			if err == nil {
				// Terminated properly, never restart
				s.log.Debug("Worker finished", "name", workerName)
				return
			}

			if ctx.Err() != nil {
				s.log.Debug("Worker stopped (context canceled)", "name", workerName)
				return
			}

			s.log.Warn("Worker crashed, restarting", "name", workerName, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(waitTimeBeforeRestart):
			}
		}
	}()
}

// Stop cancels the supervised context. Use Done to wait for the workers.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed once Run returned.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
