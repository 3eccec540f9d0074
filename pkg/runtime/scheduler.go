package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tablechat/tablechat/pkg/session"
)

// queueEntry pairs a queued user message with its placeholder.
type queueEntry struct {
	userID        string
	placeholderID string
}

// Scheduler is the readiness tracker and turn queue. It owns the queue,
// the processing flag and the readiness snapshot, and mutates them only
// under its lock, so the single-flight and FIFO invariants hold without
// any UI harness.
//
// Turns submitted before every subsystem is ready are parked behind a
// placeholder message and replayed in order once readiness becomes true.
// At most one turn is processed at any instant.
type Scheduler struct {
	rt *Runtime

	mu         sync.Mutex
	state      session.SystemLoadingState
	queue      []queueEntry
	processing bool
}

func NewScheduler(rt *Runtime) *Scheduler {
	return &Scheduler{
		rt: rt,
		state: session.SystemLoadingState{
			ModelStatus:   session.StatusPending,
			SandboxStatus: session.StatusPending,
		},
	}
}

// LoadingState returns the current readiness snapshot.
func (s *Scheduler) LoadingState() session.SystemLoadingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SubmitTurn accepts one user turn. When every subsystem is ready and no
// turn is in flight it goes straight into the conversation loop;
// otherwise the turn is queued behind a placeholder message. SubmitTurn
// never blocks on model or sandbox work.
func (s *Scheduler) SubmitTurn(ctx context.Context, content string) {
	s.mu.Lock()

	sess := s.rt.Session()
	userID := sess.AddUserMessage(content)
	s.rt.emit(UserMessage(userID, content))

	if s.state.Ready() && !s.processing {
		s.processing = true
		assistantID := sess.AddAssistantMessage()
		s.mu.Unlock()

		go s.runTurn(ctx, userID, assistantID)
		return
	}

	placeholderID := sess.AddAssistantPlaceholder(s.state)
	s.queue = append(s.queue, queueEntry{userID: userID, placeholderID: placeholderID})
	state := s.state
	s.mu.Unlock()

	slog.Debug("Turn queued awaiting readiness", "placeholder_id", placeholderID)
	s.rt.emit(TurnQueued(placeholderID, state))
}

// UpdateReadiness records a readiness change. While not ready, queued
// placeholders get a fresh snapshot; when the change makes the system
// ready, queued turns are drained in FIFO order.
func (s *Scheduler) UpdateReadiness(ctx context.Context, state session.SystemLoadingState) {
	s.mu.Lock()
	s.state = state
	if !state.Ready() {
		s.rt.Session().RefreshLoadingSnapshots(state)
		s.mu.Unlock()
		s.rt.emit(LoadingState(state))
		return
	}
	s.mu.Unlock()

	s.rt.emit(LoadingState(state))
	s.drain(ctx)
}

// Processing reports whether a turn is currently in flight.
func (s *Scheduler) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Scheduler) runTurn(ctx context.Context, userID, assistantID string) {
	s.rt.ProcessTurn(ctx, userID, assistantID)

	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()

	s.drain(ctx)
}

// drain processes queued turns one at a time, strictly FIFO, for as long
// as the system stays ready. The processing flag is checked and set
// under the lock, so two drains can never run a turn concurrently.
func (s *Scheduler) drain(ctx context.Context) {
	for {
		s.mu.Lock()
		if s.processing || !s.state.Ready() || len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		entry := s.queue[0]
		s.queue = s.queue[1:]
		s.processing = true
		s.mu.Unlock()

		slog.Debug("Dequeuing turn", "placeholder_id", entry.placeholderID)
		s.rt.ProcessTurn(ctx, entry.userID, entry.placeholderID)

		s.mu.Lock()
		s.processing = false
		s.mu.Unlock()
	}
}
