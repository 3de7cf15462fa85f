package extract

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lifeledger/internal/agent"
)

type runnerFunc func(ctx context.Context) iter.Seq2[*agent.Event, error]

func (f runnerFunc) Run(ctx context.Context, _, _ string, _ *agent.Content) iter.Seq2[*agent.Event, error] {
	return f(ctx)
}

func events(evs ...*agent.Event) runnerFunc {
	return func(context.Context) iter.Seq2[*agent.Event, error] {
		return func(yield func(*agent.Event, error) bool) {
			for _, ev := range evs {
				if !yield(ev, nil) {
					return
				}
			}
		}
	}
}

func textEvent(kind agent.EventKind, texts ...string) *agent.Event {
	parts := make([]agent.Part, 0, len(texts))
	for _, t := range texts {
		parts = append(parts, agent.NewTextPart(t))
	}
	return &agent.Event{Kind: kind, Content: &agent.Content{Role: agent.RoleModel, Parts: parts}}
}

func TestRunAgentFinalText(t *testing.T) {
	runner := events(
		textEvent(agent.EventPartial, "thinking"),
		textEvent(agent.EventFinal, `{"entries":`, `[]}`),
		textEvent(agent.EventFinal, "ignored"),
	)

	got := RunAgent(context.Background(), runner, "alice", "s1", nil, 0, nil)

	assert.Equal(t, `{"entries":[]}`, got)
}

func TestRunAgentSkipsFinalWithoutText(t *testing.T) {
	runner := events(
		&agent.Event{Kind: agent.EventFinal, Content: &agent.Content{Parts: []agent.Part{agent.NewBlobPart(agent.Blob{MIMEType: "image/png"})}}},
		textEvent(agent.EventFinal, "answer"),
	)

	assert.Equal(t, "answer", RunAgent(context.Background(), runner, "alice", "s1", nil, 0, nil))
}

func TestRunAgentNoResponse(t *testing.T) {
	tests := map[string]runnerFunc{
		"empty stream":  events(),
		"partials only": events(textEvent(agent.EventPartial, "a"), textEvent(agent.EventPartial, "b")),
		"empty final":   events(textEvent(agent.EventFinal)),
	}
	for name, runner := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, NoResponseText, RunAgent(context.Background(), runner, "alice", "s1", nil, 0, nil))
		})
	}
}

func TestRunAgentError(t *testing.T) {
	runner := runnerFunc(func(context.Context) iter.Seq2[*agent.Event, error] {
		return func(yield func(*agent.Event, error) bool) {
			yield(nil, errors.New("quota exceeded"))
		}
	})

	got := RunAgent(context.Background(), runner, "alice", "s1", nil, 0, nil)

	assert.Equal(t, "Error: quota exceeded", got)
}

func TestRunAgentTimeout(t *testing.T) {
	runner := runnerFunc(func(ctx context.Context) iter.Seq2[*agent.Event, error] {
		return func(yield func(*agent.Event, error) bool) {
			<-ctx.Done()
			yield(nil, ctx.Err())
		}
	})

	got := RunAgent(context.Background(), runner, "alice", "s1", nil, 20*time.Millisecond, nil)

	assert.Equal(t, "Error: agent timed out after 20ms", got)
}

func TestRunAgentPanic(t *testing.T) {
	runner := runnerFunc(func(context.Context) iter.Seq2[*agent.Event, error] {
		return func(yield func(*agent.Event, error) bool) {
			panic("boom")
		}
	})

	got := RunAgent(context.Background(), runner, "alice", "s1", nil, 0, nil)

	assert.True(t, strings.HasPrefix(got, "Error:"), got)
	assert.Contains(t, got, "boom")
}

func TestIsRunFailure(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Error: generate content: 503", true},
		{NoResponseText, true},
		{`{"entries":[]}`, false},
		{"Errors happen, here is the data", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsRunFailure(tt.text), "text %q", tt.text)
	}
}
