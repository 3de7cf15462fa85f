package agent

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeModel struct {
	mu        sync.Mutex
	responses []*ModelResponse
	err       error
	requests  []*ModelRequest
}

func (m *fakeModel) Name() string { return "fake" }

func (m *fakeModel) GenerateContent(_ context.Context, req *ModelRequest) iter.Seq2[*ModelResponse, error] {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()
	return func(yield func(*ModelResponse, error) bool) {
		for _, r := range m.responses {
			if !yield(r, nil) {
				return
			}
		}
		if m.err != nil {
			yield(nil, m.err)
		}
	}
}

func modelText(text string) *ModelResponse {
	return &ModelResponse{Content: &Content{Role: RoleModel, Parts: []Part{NewTextPart(text)}}}
}

func collect(t *testing.T, seq iter.Seq2[*Event, error]) ([]*Event, error) {
	t.Helper()
	var events []*Event
	for ev, err := range seq {
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
	return events, nil
}

func TestAgentIdentity(t *testing.T) {
	a := Agent{Name: "ExpenseProcessor", Model: "m1", Instruction: "categories: Food"}
	same := a
	same.Description = "different description"
	otherInstruction := a
	otherInstruction.Instruction = "categories: Rent"
	otherModel := a
	otherModel.Model = "m2"

	assert.Equal(t, a.Identity(), same.Identity())
	assert.NotEqual(t, a.Identity(), otherInstruction.Identity())
	assert.NotEqual(t, a.Identity(), otherModel.Identity())
	assert.Contains(t, a.Identity(), "ExpenseProcessor@")
}

func TestEventAccessors(t *testing.T) {
	var nilEvent *Event
	assert.False(t, nilEvent.IsFinal())
	assert.Nil(t, nilEvent.TextParts())

	ev := &Event{Kind: EventFinal, Content: &Content{Parts: []Part{
		NewTextPart("a"), NewBlobPart(Blob{MIMEType: "image/jpeg"}), NewTextPart("b"),
	}}}
	assert.True(t, ev.IsFinal())
	assert.Equal(t, []string{"a", "", "b"}, ev.TextParts())
	assert.Equal(t, "ab", ev.Content.Text())
	assert.True(t, ev.Content.HasText())
	assert.Equal(t, "final", EventFinal.String())
	assert.Equal(t, "partial", EventPartial.String())
}

func TestInMemorySessionService_Lifecycle(t *testing.T) {
	svc := NewInMemorySessionService(0)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	require.NoError(t, svc.AppendContent(ctx, "app", "alice", sess.ID, NewUserContent(NewTextPart("hi"))))
	got, err := svc.GetSession(ctx, "app", "alice", sess.ID)
	require.NoError(t, err)
	require.Len(t, got.History, 1)
	assert.Equal(t, "hi", got.History[0].Text())

	// snapshots do not alias the stored history
	got.History = append(got.History, NewUserContent())
	again, err := svc.GetSession(ctx, "app", "alice", sess.ID)
	require.NoError(t, err)
	assert.Len(t, again.History, 1)

	_, err = svc.GetSession(ctx, "app", "bob", sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, svc.DeleteSession(ctx, "app", "alice", sess.ID))
	assert.ErrorIs(t, svc.DeleteSession(ctx, "app", "alice", sess.ID), ErrSessionNotFound)
	assert.ErrorIs(t, svc.AppendContent(ctx, "app", "alice", sess.ID, NewUserContent()), ErrSessionNotFound)
	assert.Equal(t, 0, svc.Count())

	_, err = svc.CreateSession(ctx, "", "alice")
	assert.Error(t, err)
}

func TestInMemorySessionService_CleanExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	svc := NewInMemorySessionService(time.Hour)
	svc.now = func() time.Time { return now }
	ctx := context.Background()

	idle, err := svc.CreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	now = now.Add(50 * time.Minute)
	active, err := svc.CreateSession(ctx, "app", "bob")
	require.NoError(t, err)

	now = now.Add(20 * time.Minute)
	assert.Equal(t, 1, svc.CleanExpired())

	_, err = svc.GetSession(ctx, "app", "alice", idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = svc.GetSession(ctx, "app", "bob", active.ID)
	assert.NoError(t, err)

	assert.Equal(t, 0, NewInMemorySessionService(0).CleanExpired())
}

func TestRuntime_SessionReuse(t *testing.T) {
	rt := NewRuntime(NewInMemorySessionService(0), nil)
	ctx := context.Background()

	first, err := rt.GetOrCreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	second, err := rt.GetOrCreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	bob, err := rt.GetOrCreateSession(ctx, "app", "bob")
	require.NoError(t, err)
	otherApp, err := rt.GetOrCreateSession(ctx, "other", "alice")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.NotEqual(t, first.ID, bob.ID)
	assert.NotEqual(t, first.ID, otherApp.ID)
}

func TestRuntime_ConcurrentFirstCallsShareOneSession(t *testing.T) {
	svc := NewInMemorySessionService(0)
	rt := NewRuntime(svc, nil)
	ctx := context.Background()

	const callers = 50
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := rt.GetOrCreateSession(ctx, "app", "carol")
			if err == nil {
				ids[i] = sess.ID
			}
		}(i)
	}
	wg.Wait()

	sessions, err := svc.ListSessions(ctx, "app", "carol")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	for _, id := range ids {
		assert.Equal(t, sessions[0].ID, id)
	}
}

type failingSessions struct{ SessionService }

func (failingSessions) ListSessions(context.Context, string, string) ([]*Session, error) {
	return nil, errors.New("store down")
}

// gatedSessions holds ListSessions until release is closed and records
// whether the context it was given had been cancelled.
type gatedSessions struct {
	SessionService
	entered chan struct{}
	release chan struct{}

	once    sync.Once
	mu      sync.Mutex
	ctxErrs []error
}

func (g *gatedSessions) ListSessions(ctx context.Context, appName, userID string) ([]*Session, error) {
	g.once.Do(func() { close(g.entered) })
	<-g.release
	g.mu.Lock()
	g.ctxErrs = append(g.ctxErrs, ctx.Err())
	g.mu.Unlock()
	return g.SessionService.ListSessions(ctx, appName, userID)
}

func TestRuntime_CancelledCallerDoesNotFailSharedLookup(t *testing.T) {
	svc := &gatedSessions{
		SessionService: NewInMemorySessionService(0),
		entered:        make(chan struct{}),
		release:        make(chan struct{}),
	}
	rt := NewRuntime(svc, nil)

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := rt.GetOrCreateSession(firstCtx, "app", "dana")
		firstErr <- err
	}()
	<-svc.entered

	type result struct {
		sess *Session
		err  error
	}
	second := make(chan result, 1)
	go func() {
		sess, err := rt.GetOrCreateSession(context.Background(), "app", "dana")
		second <- result{sess, err}
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	time.Sleep(20 * time.Millisecond)
	close(svc.release)

	got := <-second
	require.NoError(t, got.err)
	require.NotNil(t, got.sess)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, err := range svc.ctxErrs {
		assert.NoError(t, err, "session store saw a cancelled context")
	}
}

func TestRuntime_SessionStoreErrorPropagates(t *testing.T) {
	rt := NewRuntime(failingSessions{}, nil)

	_, err := rt.GetOrCreateSession(context.Background(), "app", "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")

	_, err = rt.ResetSessions(context.Background(), "app", "alice")
	assert.Error(t, err)
}

func TestRuntime_ResetSessions(t *testing.T) {
	rt := NewRuntime(NewInMemorySessionService(0), nil)
	ctx := context.Background()

	before, err := rt.GetOrCreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	keep, err := rt.GetOrCreateSession(ctx, "app", "bob")
	require.NoError(t, err)

	n, err := rt.ResetSessions(ctx, "app", "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	after, err := rt.GetOrCreateSession(ctx, "app", "alice")
	require.NoError(t, err)
	assert.NotEqual(t, before.ID, after.ID)

	stillBob, err := rt.GetOrCreateSession(ctx, "app", "bob")
	require.NoError(t, err)
	assert.Equal(t, keep.ID, stillBob.ID)

	n, err = rt.ResetSessions(ctx, "app", "nobody")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRuntime_RunnerCachedPerIdentity(t *testing.T) {
	rt := NewRuntime(NewInMemorySessionService(0), nil)
	model := &fakeModel{}
	a := Agent{Name: "ExpenseProcessor", Model: "m", Instruction: "v1"}

	r1 := rt.Runner(a, model)
	r2 := rt.Runner(a, model)
	assert.Same(t, r1, r2)
	assert.Equal(t, "ExpenseProcessor", r1.AppName())
	assert.Equal(t, 1, rt.RunnerCount())

	a.Instruction = "v2"
	r3 := rt.Runner(a, model)
	assert.NotSame(t, r1, r3)
	assert.Equal(t, 2, rt.RunnerCount())
}

func TestRuntime_ConcurrentRunnerConstruction(t *testing.T) {
	rt := NewRuntime(NewInMemorySessionService(0), nil)
	a := Agent{Name: "ExpenseProcessor", Model: "m", Instruction: "v1"}

	runners := make([]*Runner, 20)
	var wg sync.WaitGroup
	for i := range runners {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			runners[i] = rt.Runner(a, &fakeModel{})
		}(i)
	}
	wg.Wait()

	for _, r := range runners {
		assert.Same(t, runners[0], r)
	}
	assert.Equal(t, 1, rt.RunnerCount())
}

func TestRunner_RunRecordsHistory(t *testing.T) {
	svc := NewInMemorySessionService(0)
	rt := NewRuntime(svc, nil)
	ctx := context.Background()
	model := &fakeModel{responses: []*ModelResponse{
		{Content: &Content{Role: RoleModel, Parts: []Part{NewTextPart("thinking")}}, Partial: true},
		modelText(`{"entries":`),
		modelText(`[]}`),
	}}
	a := Agent{Name: "ExpenseProcessor", Model: "m", Instruction: "be terse"}
	runner := rt.Runner(a, model)

	sess, err := rt.GetOrCreateSession(ctx, a.Name, "alice")
	require.NoError(t, err)

	events, err := collect(t, runner.Run(ctx, "alice", sess.ID, NewUserContent(NewTextPart("lunch 12"))))
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventPartial, events[0].Kind)
	assert.True(t, events[1].IsFinal())
	assert.Equal(t, `{"entries":[]}`, events[1].Content.Text())
	assert.Equal(t, "ExpenseProcessor", events[1].Author)
	assert.Equal(t, events[0].InvocationID, events[1].InvocationID)

	require.Len(t, model.requests, 1)
	assert.Equal(t, "be terse", model.requests[0].SystemInstruction)
	assert.Equal(t, "m", model.requests[0].Model)
	require.Len(t, model.requests[0].Contents, 1)

	stored, err := svc.GetSession(ctx, a.Name, "alice", sess.ID)
	require.NoError(t, err)
	require.Len(t, stored.History, 2)
	assert.Equal(t, RoleUser, stored.History[0].Role)
	assert.Equal(t, RoleModel, stored.History[1].Role)

	// the second turn carries the first one as context
	_, err = collect(t, runner.Run(ctx, "alice", sess.ID, NewUserContent(NewTextPart("and 5 for bus"))))
	require.NoError(t, err)
	require.Len(t, model.requests, 2)
	assert.Len(t, model.requests[1].Contents, 3)
}

func TestRunner_RunFailures(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemorySessionService(0)
	sess, err := svc.CreateSession(ctx, "ExpenseProcessor", "alice")
	require.NoError(t, err)
	a := Agent{Name: "ExpenseProcessor", Model: "m"}

	t.Run("unknown session", func(t *testing.T) {
		r := NewRunner(a, a.Name, svc, &fakeModel{})
		_, err := collect(t, r.Run(ctx, "alice", "missing", NewUserContent(NewTextPart("x"))))
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("model error", func(t *testing.T) {
		r := NewRunner(a, a.Name, svc, &fakeModel{err: errors.New("quota exceeded")})
		events, err := collect(t, r.Run(ctx, "alice", sess.ID, NewUserContent(NewTextPart("x"))))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota exceeded")
		assert.Empty(t, events)
		assertHistoryLen(t, svc, sess, 0)
	})

	t.Run("no final response", func(t *testing.T) {
		r := NewRunner(a, a.Name, svc, &fakeModel{responses: []*ModelResponse{
			{Content: &Content{Parts: []Part{NewTextPart("partial only")}}, Partial: true},
		}})
		events, err := collect(t, r.Run(ctx, "alice", sess.ID, NewUserContent(NewTextPart("x"))))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.False(t, events[0].IsFinal())
		assertHistoryLen(t, svc, sess, 0)
	})
}

func assertHistoryLen(t *testing.T, svc SessionService, sess *Session, want int) {
	t.Helper()
	stored, err := svc.GetSession(context.Background(), sess.AppName, sess.UserID, sess.ID)
	require.NoError(t, err)
	assert.Len(t, stored.History, want)
}

func TestRunner_RetryAfterFailureSendsMessageOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemorySessionService(0)
	sess, err := svc.CreateSession(ctx, "ExpenseProcessor", "alice")
	require.NoError(t, err)
	a := Agent{Name: "ExpenseProcessor", Model: "m"}
	msg := NewUserContent(NewTextPart("lunch 12"))

	_, err = collect(t, NewRunner(a, a.Name, svc, &fakeModel{err: errors.New("503")}).Run(ctx, "alice", sess.ID, msg))
	require.Error(t, err)

	model := &fakeModel{responses: []*ModelResponse{modelText("ok")}}
	_, err = collect(t, NewRunner(a, a.Name, svc, model).Run(ctx, "alice", sess.ID, msg))
	require.NoError(t, err)

	require.Len(t, model.requests, 1)
	assert.Len(t, model.requests[0].Contents, 1)
	assertHistoryLen(t, svc, sess, 2)
}
