// Package chatbot is the general-purpose conversational assistant. It shares
// the agent runtime with the expense extractor but keeps its own agent and
// its own per-user sessions.
package chatbot

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"lifeledger/internal/agent"
	"lifeledger/internal/core"
	"lifeledger/internal/extract"
	applog "lifeledger/internal/log"
)

const (
	// AgentName names the chatbot agent and the app its sessions live under.
	AgentName        = "Chatbot"
	AgentDescription = "Agent for general chatbot conversations"

	// EndOfMessage is the marker the instruction asks the model to end with.
	EndOfMessage = "[eom]"
)

const Instruction = `You are a helpful AI assistant for a personal life tracking application.

Your role is to help users with:
- General questions about their personal data
- Guidance on using the application features
- Simple calculations and analysis
- Friendly conversation and support

Keep your responses:
- Helpful and informative
- Conversational and friendly
- Concise but thorough (aim for 2-3 sentences)
- Focused on personal life tracking topics when relevant

You can help with questions about expenses, fitness tracking, travel, weather, and general life management topics.

ALWAYS add ` + EndOfMessage + ` at the end of your response, in a new line.

IMPORTANT: Keep responses concise and complete. Avoid long, rambling responses.
`

var (
	ErrEmptyMessage = errors.New("message required")
	// ErrChatFailed wraps model and runtime failures.
	ErrChatFailed = errors.New("chatbot processing failed")
)

type Config struct {
	ModelName        string
	APIKeyConfigured bool
	Timeout          time.Duration
	Generate         agent.GenerateConfig
}

// Reply is the answer to one message.
type Reply struct {
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

// Status describes whether the chatbot can answer.
type Status struct {
	Status           string `json:"status"`
	Model            string `json:"model,omitempty"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	ModelBreaker     string `json:"model_breaker,omitempty"`
}

type Service struct {
	runtime *agent.Runtime
	model   agent.Model
	cfg     Config
	logger  *applog.Logger
	now     func() time.Time
}

// New wires the chatbot. A nil model leaves it unconfigured: every call
// returns extract.ErrNotConfigured.
func New(runtime *agent.Runtime, model agent.Model, cfg Config, logger *applog.Logger) *Service {
	if logger == nil {
		logger = applog.Discard()
	}
	if cfg.ModelName == "" && model != nil {
		cfg.ModelName = model.Name()
	}
	return &Service{
		runtime: runtime,
		model:   model,
		cfg:     cfg,
		logger:  logger.WithComponent(applog.ComponentChatbot),
		now:     time.Now,
	}
}

func (s *Service) Agent() agent.Agent {
	return agent.Agent{
		Name:        AgentName,
		Model:       s.cfg.ModelName,
		Description: AgentDescription,
		Instruction: Instruction,
		Config:      s.cfg.Generate,
	}
}

// SendMessage asks the chatbot one question within the user's conversation.
func (s *Service) SendMessage(ctx context.Context, userID, message string) (Reply, error) {
	runner, sess, err := s.prepare(ctx, userID, message)
	if err != nil {
		return Reply{}, err
	}

	text := extract.RunAgent(ctx, runner, userID, sess.ID, userMessage(message), s.cfg.Timeout, s.logger)
	if extract.IsRunFailure(text) {
		return Reply{}, fmt.Errorf("%w: %s", ErrChatFailed, text)
	}

	response := StripEndOfMessage(text)
	s.logger.InfoContext(ctx, "Chat message answered",
		applog.NewFields().WithSession(AgentName, userID, sess.ID).ToSlice()...)
	return Reply{Response: response, Timestamp: s.now().UTC()}, nil
}

// SendMessageStream is SendMessage delivered in chunks as the model produces
// them. Validation and session errors are returned before any chunk; later
// failures end the sequence with an error wrapping ErrChatFailed. The end of
// message marker never reaches the caller, even when split across chunks.
func (s *Service) SendMessageStream(ctx context.Context, userID, message string) (iter.Seq2[string, error], error) {
	runner, sess, err := s.prepare(ctx, userID, message)
	if err != nil {
		return nil, err
	}
	msg := userMessage(message)

	return func(yield func(string, error) bool) {
		if s.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
			defer cancel()
		}

		var filter eomFilter
		streamed := false
		emit := func(text string) bool {
			chunk := filter.push(text)
			if chunk == "" {
				return true
			}
			streamed = true
			return yield(chunk, nil)
		}

		for ev, err := range runner.Run(ctx, userID, sess.ID, msg) {
			if err != nil {
				s.logger.ErrorContext(ctx, "Chat stream failed",
					applog.FieldUserID, userID,
					applog.FieldSessionID, sess.ID,
					applog.FieldError, err)
				yield("", fmt.Errorf("%w: %v", ErrChatFailed, err))
				return
			}
			switch {
			case ev.Kind == agent.EventPartial:
				if !emit(strings.Join(ev.TextParts(), "")) {
					return
				}
			case ev.IsFinal() && !streamed:
				if !emit(strings.Join(ev.TextParts(), "")) {
					return
				}
			}
		}

		if tail := filter.flush(); tail != "" {
			streamed = true
			if !yield(tail, nil) {
				return
			}
		}
		if !streamed {
			yield("", fmt.Errorf("%w: %s", ErrChatFailed, extract.NoResponseText))
		}
	}, nil
}

// ResetChat forgets the user's conversation with the chatbot.
func (s *Service) ResetChat(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, core.ErrEmptyUser
	}
	n, err := s.runtime.ResetSessions(ctx, AgentName, userID)
	if err != nil {
		return 0, fmt.Errorf("reset chat: %w", err)
	}
	return n, nil
}

func (s *Service) Status() Status {
	st := Status{
		Status:           extract.StatusUnconfigured,
		APIKeyConfigured: s.cfg.APIKeyConfigured,
	}
	if s.model == nil {
		return st
	}
	st.Status = extract.StatusHealthy
	st.Model = s.cfg.ModelName
	if b, ok := s.model.(interface{ BreakerState() string }); ok {
		st.ModelBreaker = b.BreakerState()
	}
	return st
}

func (s *Service) prepare(ctx context.Context, userID, message string) (*agent.Runner, *agent.Session, error) {
	if s.model == nil {
		return nil, nil, extract.ErrNotConfigured
	}
	if strings.TrimSpace(userID) == "" {
		return nil, nil, core.ErrEmptyUser
	}
	if strings.TrimSpace(message) == "" {
		return nil, nil, ErrEmptyMessage
	}

	runner := s.runtime.Runner(s.Agent(), s.model)
	sess, err := s.runtime.GetOrCreateSession(ctx, runner.AppName(), userID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve session: %w", err)
	}
	return runner, sess, nil
}

func userMessage(message string) *agent.Content {
	return agent.NewUserContent(agent.NewTextPart(message))
}
