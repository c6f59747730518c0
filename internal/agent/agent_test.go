package agent

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Guizzs26/siglus-sync/internal/store/memory"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAgentService() *Service {
	return NewService(memory.NewStore(), 30*time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestIssueAndVerify(t *testing.T) {
	s := newAgentService()
	ctx := context.Background()
	machine, facility := uuid.New(), uuid.New()

	_, err := s.Activate(ctx, machine, facility, "NO010112", "ACT-123")
	require.NoError(t, err)

	token, err := s.IssueToken(ctx, machine)
	require.NoError(t, err)

	info, err := s.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, machine, info.MachineID)
	assert.Equal(t, facility, info.FacilityID)
}

func TestActivateTwiceFails(t *testing.T) {
	s := newAgentService()
	machine := uuid.New()

	_, err := s.Activate(context.Background(), machine, uuid.New(), "A", "1")
	require.NoError(t, err)
	_, err = s.Activate(context.Background(), machine, uuid.New(), "A", "1")
	assert.ErrorIs(t, err, ErrAlreadyActivated)
}

func TestVerify_ExpiredToken(t *testing.T) {
	s := newAgentService()
	ctx := context.Background()
	machine := uuid.New()
	_, err := s.Activate(ctx, machine, uuid.New(), "A", "1")
	require.NoError(t, err)

	token, err := s.IssueToken(ctx, machine)
	require.NoError(t, err)

	s.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err = s.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_TokenSignedByAnotherMachine(t *testing.T) {
	store := memory.NewStore()
	issuerSvc := NewService(store, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	machine := uuid.New()
	_, err := issuerSvc.Activate(ctx, machine, uuid.New(), "A", "1")
	require.NoError(t, err)
	token, err := issuerSvc.IssueToken(ctx, machine)
	require.NoError(t, err)

	// the receiver knows the machine id but with a different key pair
	other := newAgentService()
	_, err = other.Activate(ctx, machine, uuid.New(), "A", "1")
	require.NoError(t, err)

	_, err = other.Verify(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerify_UnknownAgent(t *testing.T) {
	issuerSvc := newAgentService()
	ctx := context.Background()
	machine := uuid.New()
	_, err := issuerSvc.Activate(ctx, machine, uuid.New(), "A", "1")
	require.NoError(t, err)
	token, err := issuerSvc.IssueToken(ctx, machine)
	require.NoError(t, err)

	_, err = newAgentService().Verify(ctx, token)
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestIssueToken_UnknownAgent(t *testing.T) {
	_, err := newAgentService().IssueToken(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrUnknownAgent)
}
