// Package replay applies received events to local state
package replay

import (
	"context"
	"fmt"
	"slices"

	"github.com/Guizzs26/siglus-sync/internal/event"
)

// Replayer applies one event type. Implementations must be idempotent: replaying an event that
// was already applied leaves state unchanged
type Replayer interface {
	Type() event.Type
	Replay(ctx context.Context, rc *ReplayContext) error
}

// ReplayContext is passed down the replay call chain of a single event
type ReplayContext struct {
	Event event.Event
	hooks []hook
}

type hook struct {
	name string
	fn   func(ctx context.Context) error
}

func NewReplayContext(evt event.Event) *ReplayContext {
	return &ReplayContext{Event: evt}
}

// AfterCommit registers a best-effort side effect that runs only once the replay committed
func (rc *ReplayContext) AfterCommit(name string, fn func(ctx context.Context) error) {
	rc.hooks = append(rc.hooks, hook{name: name, fn: fn})
}

// Registry maps event type tags to their replayer
type Registry struct {
	replayers map[event.Type]Replayer
}

func NewRegistry(replayers ...Replayer) (*Registry, error) {
	r := &Registry{replayers: make(map[event.Type]Replayer, len(replayers))}
	for _, rp := range replayers {
		if _, dup := r.replayers[rp.Type()]; dup {
			return nil, fmt.Errorf("duplicate replayer for %s", rp.Type())
		}
		r.replayers[rp.Type()] = rp
	}
	return r, nil
}

func (r *Registry) Lookup(t event.Type) (Replayer, bool) {
	rp, ok := r.replayers[t]
	return rp, ok
}

// Types returns the registered tags, sorted
func (r *Registry) Types() []event.Type {
	types := make([]event.Type, 0, len(r.replayers))
	for t := range r.replayers {
		types = append(types, t)
	}
	slices.Sort(types)
	return types
}
