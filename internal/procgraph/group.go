package procgraph

import (
	"context"
	"errors"
	"sync"
)

// Group records every handle spawned through it, so the owner of a unit of
// work can await processes its steps launched but never waited for.
//
// Processes spawned through a Group live as long as the Group's context,
// not the context of the step that launched them: a step may return while
// its process keeps running, and Wait picks it up.
type Group struct {
	ctx     context.Context
	starter Starter

	mu      sync.Mutex
	handles []*Handle
}

// NewGroup wraps a Starter. ctx bounds the lifetime of every process
// spawned through the group.
func NewGroup(ctx context.Context, s Starter) *Group {
	return &Group{ctx: ctx, starter: s}
}

// Spawn starts c and tracks the handle. ctx is the launching step's context:
// a cancelled ctx prevents the launch, but the process itself is bound to the
// group's context.
func (g *Group) Spawn(ctx context.Context, c Command) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, newSpawnError(c, err)
	}
	h, err := g.starter.Spawn(g.ctx, c)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
	return h, nil
}

// Handles returns the handles spawned so far.
func (g *Group) Handles() []*Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]*Handle, len(g.handles))
	copy(out, g.handles)
	return out
}

// Wait blocks until every tracked process has exited. Handles nobody has
// awaited yet are awaited here and their failures returned; handles already
// claimed by a step are only waited on for exit.
func (g *Group) Wait(ctx context.Context) error {
	var errs []error
	for _, h := range g.Handles() {
		if h.claim() {
			if _, err := h.await(ctx); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		select {
		case <-h.done:
		case <-ctx.Done():
			h.Stop(ctx.Err())
			<-h.done
		}
	}
	return errors.Join(errs...)
}

// Stop terminates every tracked process that is still running.
func (g *Group) Stop(reason error) {
	for _, h := range g.Handles() {
		select {
		case <-h.done:
		default:
			h.Stop(reason)
		}
	}
}
