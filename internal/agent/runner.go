package agent

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Runner submits messages to one agent within sessions of one app. It holds
// no conversation state of its own.
type Runner struct {
	agent    Agent
	appName  string
	sessions SessionService
	model    Model
}

func NewRunner(a Agent, appName string, sessions SessionService, model Model) *Runner {
	return &Runner{
		agent:    a,
		appName:  appName,
		sessions: sessions,
		model:    model,
	}
}

func (r *Runner) Agent() Agent    { return r.agent }
func (r *Runner) AppName() string { return r.appName }

// Run asks the model for a turn on top of the session history plus msg and
// yields the resulting events: partial chunks as they arrive, then at most
// one final event. The turn is recorded only once a final response exists:
// msg and the answer are appended together before the final event is
// yielded, so a failed or empty turn leaves the history untouched and a
// retry does not send the same message twice. Failures are yielded as
// (nil, err) and end the stream.
func (r *Runner) Run(ctx context.Context, userID, sessionID string, msg *Content) iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		invocationID := uuid.NewString()

		sess, err := r.sessions.GetSession(ctx, r.appName, userID, sessionID)
		if err != nil {
			yield(nil, fmt.Errorf("load session: %w", err))
			return
		}

		history := slices.Clone(sess.History)
		if msg != nil {
			history = append(history, msg)
		}

		req := &ModelRequest{
			Model:             r.agent.Model,
			SystemInstruction: r.agent.Instruction,
			Contents:          history,
			Config:            r.agent.Config,
		}

		var final *Content
		for resp, err := range r.model.GenerateContent(ctx, req) {
			if err != nil {
				yield(nil, fmt.Errorf("generate content: %w", err))
				return
			}
			if resp == nil || resp.Content == nil {
				continue
			}
			if resp.Partial {
				if !yield(r.event(invocationID, EventPartial, resp.Content), nil) {
					return
				}
				continue
			}
			if final == nil {
				final = &Content{Role: RoleModel}
			}
			final.Parts = append(final.Parts, resp.Content.Parts...)
		}

		if final == nil {
			return
		}
		if msg != nil {
			if err := r.sessions.AppendContent(ctx, r.appName, userID, sessionID, msg); err != nil {
				yield(nil, fmt.Errorf("append user message: %w", err))
				return
			}
		}
		if err := r.sessions.AppendContent(ctx, r.appName, userID, sessionID, final); err != nil {
			yield(nil, fmt.Errorf("append model response: %w", err))
			return
		}
		yield(r.event(invocationID, EventFinal, final), nil)
	}
}

func (r *Runner) event(invocationID string, kind EventKind, content *Content) *Event {
	return &Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       r.agent.Name,
		Kind:         kind,
		Content:      content,
		Timestamp:    time.Now(),
	}
}
