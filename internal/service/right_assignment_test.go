package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

type blockingRebuild struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingRebuild) RebuildRightAssignments(context.Context) (int64, error) {
	b.calls.Add(1)
	b.once.Do(func() {
		close(b.started)
		<-b.release
	})
	return 3, nil
}

func TestRegenerateAsync_CoalescesTriggers(t *testing.T) {
	repo := &blockingRebuild{started: make(chan struct{}), release: make(chan struct{})}
	svc := NewRightAssignmentService(context.Background(), repo, discardLogger())

	svc.RegenerateAsync()
	<-repo.started
	for range 5 {
		svc.RegenerateAsync()
	}
	close(repo.release)
	svc.Wait()

	assert.Equal(t, int32(2), repo.calls.Load())
}

type failingRebuild struct{}

func (failingRebuild) RebuildRightAssignments(context.Context) (int64, error) {
	return 0, errors.New("deadlock detected")
}

func TestRegenerate_ReturnsError(t *testing.T) {
	svc := NewRightAssignmentService(context.Background(), failingRebuild{}, discardLogger())
	assert.Error(t, svc.Regenerate(context.Background()))

	// async failures are logged and do not wedge the service
	svc.RegenerateAsync()
	svc.Wait()
	svc.RegenerateAsync()
	svc.Wait()
}
