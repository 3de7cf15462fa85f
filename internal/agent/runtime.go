package agent

import (
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"lifeledger/internal/cache"
	applog "lifeledger/internal/log"
)

// maxRunners bounds the runner cache. A new agent identity appears whenever
// the instruction changes, so old runners are evicted least recently used.
const maxRunners = 32

// Runtime owns the session store and the runner cache. One is built at
// startup and shared by every request.
//
// GetOrCreateSession reuses the oldest existing session for a pair. Concurrent
// first calls for the same pair are collapsed into a single look-then-create,
// so a pair never ends up with two sessions from racing requests.
type Runtime struct {
	sessions SessionService
	runners  *cache.LRUCache[*Runner]
	logger   *applog.Logger

	runnerGroup  singleflight.Group
	sessionGroup singleflight.Group
}

func NewRuntime(sessions SessionService, logger *applog.Logger) *Runtime {
	if logger == nil {
		logger = applog.Discard()
	}
	logger = logger.WithComponent(applog.ComponentAgent)
	runners := cache.NewLRUCache[*Runner](maxRunners, 0).
		OnEvict(func(id string, _ *Runner, reason cache.EvictReason) {
			logger.Debug("Evicted runner", applog.FieldAgent, id, "reason", reason.String())
		})
	return &Runtime{
		sessions: sessions,
		runners:  runners,
		logger:   logger,
	}
}

// Runner returns the runner for a's identity, building it on first use. The
// agent name doubles as the app name sessions are stored under.
func (rt *Runtime) Runner(a Agent, model Model) *Runner {
	id := a.Identity()
	if r, ok := rt.runners.Get(id); ok {
		return r
	}

	v, _, _ := rt.runnerGroup.Do(id, func() (any, error) {
		if r, ok := rt.runners.Get(id); ok {
			return r, nil
		}
		r := NewRunner(a, a.Name, rt.sessions, model)
		rt.runners.Set(id, r)
		rt.logger.Info("Created runner",
			applog.FieldAgent, id,
			applog.FieldModel, a.Model)
		return r, nil
	})
	return v.(*Runner)
}

// RunnerCount reports how many runners are cached.
func (rt *Runtime) RunnerCount() int {
	return rt.runners.Size()
}

// GetOrCreateSession returns the pair's first session or creates one.
// Store errors are returned unchanged in meaning.
//
// The shared lookup runs detached from any single caller's cancellation, so
// one caller giving up does not fail the others waiting on the same pair.
// Each caller still stops waiting when its own ctx is done.
func (rt *Runtime) GetOrCreateSession(ctx context.Context, appName, userID string) (*Session, error) {
	key := appName + "\x00" + userID
	lookupCtx := context.WithoutCancel(ctx)
	ch := rt.sessionGroup.DoChan(key, func() (any, error) {
		ctx := lookupCtx
		existing, err := rt.sessions.ListSessions(ctx, appName, userID)
		if err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		if len(existing) > 0 {
			rt.logger.DebugContext(ctx, "Reusing session",
				applog.NewFields().WithSession(appName, userID, existing[0].ID).ToSlice()...)
			return existing[0], nil
		}

		sess, err := rt.sessions.CreateSession(ctx, appName, userID)
		if err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		rt.logger.InfoContext(ctx, "Created session",
			applog.NewFields().WithSession(appName, userID, sess.ID).ToSlice()...)
		return sess, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			rt.logger.DebugContext(ctx, "Joined concurrent session lookup", applog.FieldUserID, userID)
		}
		return res.Val.(*Session), nil
	}
}

// ResetSessions deletes every session of the pair and returns how many went.
func (rt *Runtime) ResetSessions(ctx context.Context, appName, userID string) (int, error) {
	existing, err := rt.sessions.ListSessions(ctx, appName, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	for _, sess := range existing {
		if err := rt.sessions.DeleteSession(ctx, appName, userID, sess.ID); err != nil {
			return 0, fmt.Errorf("delete session %s: %w", sess.ID, err)
		}
	}
	rt.logger.InfoContext(ctx, "Sessions reset",
		applog.FieldAppName, appName,
		applog.FieldUserID, userID,
		"count", len(existing))
	return len(existing), nil
}
