// Package supervisor owns the persistent lifecycle of every strategy
// instance in the process: starting its engine task in a cancellable
// goroutine, writing back status transitions, and stopping it on request or
// on fault.
package supervisor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/engine"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

// runKey identifies one running instance, composite-keyed the way the
// teacher's live engine keys its per-symbol state.
func runKey(userID, instanceID string) string { return userID + "/" + instanceID }

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor tracks every running strategy instance's cancellation handle
// and persists status transitions through a StrategyStore. Status never
// moves backward: a Failed instance must be explicitly Start-ed again.
type Supervisor struct {
	factory *engine.Factory
	store   ports.StrategyStore

	mu   sync.RWMutex
	runs map[string]*run
}

// New constructs a Supervisor. factory builds the sandbox runtime for each
// instance; store persists status writebacks.
func New(factory *engine.Factory, store ports.StrategyStore) *Supervisor {
	return &Supervisor{
		factory: factory,
		store:   store,
		runs:    make(map[string]*run),
	}
}

// Start builds and launches instance's engine task in its own goroutine,
// transitioning it Pending -> Running immediately and Running -> Stopped or
// Running -> Failed when the task eventually exits. Starting an instance
// that is already running is a no-op.
func (s *Supervisor) Start(ctx context.Context, params engine.BuildParams) error {
	instance := params.Instance
	key := runKey(instance.UserID, instance.ID)

	s.mu.Lock()
	if _, ok := s.runs[key]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.writeStatus(ctx, instance.UserID, instance.ID, domain.Pending())
	task, err := s.factory.Build(params)
	if err != nil {
		s.writeStatus(ctx, instance.UserID, instance.ID, domain.Failed(err.Error()))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	if _, ok := s.runs[key]; ok {
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.runs[key] = r
	s.mu.Unlock()

	s.writeStatus(ctx, instance.UserID, instance.ID, domain.Running())

	go func() {
		defer close(r.done)
		runErr := task.Run(runCtx)

		s.mu.Lock()
		delete(s.runs, key)
		s.mu.Unlock()

		if runErr != nil {
			slog.Error("strategy instance faulted", "user_id", instance.UserID, "instance_id", instance.ID, "err", runErr)
			s.writeStatus(context.Background(), instance.UserID, instance.ID, domain.Failed(runErr.Error()))
			return
		}
		s.writeStatus(context.Background(), instance.UserID, instance.ID, domain.Stopped())
	}()

	return nil
}

// Stop cancels the running instance identified by (userID, instanceID) and
// waits for its goroutine to exit. Stopping an instance that is not running
// is a no-op.
func (s *Supervisor) Stop(ctx context.Context, userID, instanceID string) error {
	key := runKey(userID, instanceID)

	s.mu.RLock()
	r, ok := s.runs[key]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// IsRunning reports whether (userID, instanceID) currently has a live task.
func (s *Supervisor) IsRunning(userID, instanceID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.runs[runKey(userID, instanceID)]
	return ok
}

// StopAll cancels every running instance and waits for each to exit,
// matching the shutdown-on-SIGINT path of the teacher's cmd/scanner.
func (s *Supervisor) StopAll(ctx context.Context) {
	s.mu.RLock()
	dones := make([]chan struct{}, 0, len(s.runs))
	for _, r := range s.runs {
		r.cancel()
		dones = append(dones, r.done)
	}
	s.mu.RUnlock()

	for _, done := range dones {
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Supervisor) writeStatus(ctx context.Context, userID, instanceID string, status domain.StrategyStatus) {
	if s.store == nil {
		return
	}
	if err := s.store.UpdateStatus(ctx, userID, instanceID, status); err != nil {
		slog.Error("failed to persist strategy status", "user_id", userID, "instance_id", instanceID, "status", status.State, "err", err)
	}
}
