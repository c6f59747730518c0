package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// RightAssignmentRepository rebuilds the derived right assignments from role assignments
type RightAssignmentRepository interface {
	RebuildRightAssignments(ctx context.Context) (int64, error)
}

// RightAssignmentService regenerates right assignments in the background. Triggers arriving while a
// run is in progress collapse into a single follow-up run
type RightAssignmentService struct {
	repo    RightAssignmentRepository
	ctx     context.Context
	logger  *slog.Logger
	running atomic.Bool
	pending atomic.Bool
	wg      sync.WaitGroup
}

func NewRightAssignmentService(ctx context.Context, repo RightAssignmentRepository, logger *slog.Logger) *RightAssignmentService {
	return &RightAssignmentService{repo: repo, ctx: ctx, logger: logger}
}

// RegenerateAsync schedules a rebuild and returns immediately
func (s *RightAssignmentService) RegenerateAsync() {
	s.pending.Store(true)
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

func (s *RightAssignmentService) loop() {
	defer s.wg.Done()
	for {
		for s.pending.Swap(false) {
			if s.ctx.Err() != nil {
				s.running.Store(false)
				return
			}
			_ = s.Regenerate(s.ctx)
		}
		s.running.Store(false)
		// a trigger may have landed between the last Swap and the Store above
		if !s.pending.Load() || !s.running.CompareAndSwap(false, true) {
			return
		}
	}
}

// Regenerate rebuilds right assignments synchronously
func (s *RightAssignmentService) Regenerate(ctx context.Context) error {
	start := time.Now()
	rows, err := s.repo.RebuildRightAssignments(ctx)
	if err != nil {
		s.logger.Error("Right assignment regeneration failed", "error", err)
		return err
	}
	s.logger.Info("Right assignments regenerated", "rows", rows, "duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Wait blocks until no regeneration is running
func (s *RightAssignmentService) Wait() {
	s.wg.Wait()
}
