// Package gemini adapts the Google Gen AI SDK to agent.Model.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"

	"lifeledger/internal/agent"
	applog "lifeledger/internal/log"
)

// generator is the slice of the SDK the model needs.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// BreakerConfig controls when repeated model failures stop further calls.
type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{ConsecutiveFailures: 5, OpenTimeout: 30 * time.Second}
}

// Model calls a Gemini model. Calls pass through a circuit breaker; while it
// is open they fail fast with gobreaker.ErrOpenState.
type Model struct {
	name    string
	models  generator
	breaker *gobreaker.CircuitBreaker
	logger  *applog.Logger
}

var _ agent.Model = (*Model)(nil)

// New builds a client for the Gemini API with the given key.
func New(ctx context.Context, apiKey, modelName string, logger *applog.Logger) (*Model, error) {
	if apiKey == "" {
		return nil, errors.New("missing GOOGLE_API_KEY")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newModel(client.Models, modelName, DefaultBreakerConfig(), logger), nil
}

func newModel(models generator, name string, bc BreakerConfig, logger *applog.Logger) *Model {
	if logger == nil {
		logger = applog.Discard()
	}
	logger = logger.WithComponent(applog.ComponentAgent)

	settings := gobreaker.Settings{
		Name:    "gemini:" + name,
		Timeout: bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		IsSuccessful: func(err error) bool {
			// a caller giving up says nothing about the model
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Model circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
	}

	return &Model{
		name:    name,
		models:  models,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

func (m *Model) Name() string { return m.name }

// BreakerState reports the circuit breaker state for diagnostics.
func (m *Model) BreakerState() string {
	return m.breaker.State().String()
}

// GenerateContent performs one non-streaming call and yields the answer as a
// single non-partial response.
func (m *Model) GenerateContent(ctx context.Context, req *agent.ModelRequest) iter.Seq2[*agent.ModelResponse, error] {
	return func(yield func(*agent.ModelResponse, error) bool) {
		model := req.Model
		if model == "" {
			model = m.name
		}

		start := time.Now()
		out, err := m.breaker.Execute(func() (interface{}, error) {
			return m.models.GenerateContent(ctx, model, toGenaiContents(req.Contents), generateConfig(req))
		})
		if err != nil {
			m.logger.ErrorContext(ctx, "Model call failed",
				applog.FieldModel, model,
				applog.FieldError, err,
				applog.FieldDuration, time.Since(start).Milliseconds())
			yield(nil, fmt.Errorf("gemini %s: %w", model, err))
			return
		}

		resp, _ := out.(*genai.GenerateContentResponse)
		content := fromGenaiResponse(resp)
		m.logger.DebugContext(ctx, "Model call completed",
			applog.FieldModel, model,
			applog.FieldDuration, time.Since(start).Milliseconds())
		if content == nil {
			return
		}
		yield(&agent.ModelResponse{Content: content}, nil)
	}
}

func generateConfig(req *agent.ModelRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:     req.Config.Temperature,
		TopP:            req.Config.TopP,
		TopK:            req.Config.TopK,
		MaxOutputTokens: req.Config.MaxOutputTokens,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

func toGenaiContents(contents []*agent.Content) []*genai.Content {
	out := make([]*genai.Content, 0, len(contents))
	for _, c := range contents {
		if c == nil {
			continue
		}
		role := genai.RoleUser
		if c.Role == agent.RoleModel {
			role = genai.RoleModel
		}
		parts := make([]*genai.Part, 0, len(c.Parts))
		for _, p := range c.Parts {
			switch {
			case p.Blob != nil:
				parts = append(parts, genai.NewPartFromBytes(p.Blob.Data, p.Blob.MIMEType))
			default:
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		out = append(out, genai.NewContentFromParts(parts, genai.Role(role)))
	}
	return out
}

// fromGenaiResponse keeps the text of the first candidate, skipping thought
// parts. It returns nil when there is no candidate content.
func fromGenaiResponse(resp *genai.GenerateContentResponse) *agent.Content {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil {
		return nil
	}
	content := &agent.Content{Role: agent.RoleModel}
	for _, p := range cand.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		content.Parts = append(content.Parts, agent.NewTextPart(p.Text))
	}
	return content
}
