// Package extract turns free-form expense descriptions and receipt images
// into structured ledger entries with a conversational model agent.
//
// A call to Pipeline.Process runs strictly in order: normalize images, read
// the category vocabulary, build the instruction, resolve the user's session,
// compose the message, run the agent, parse the answer and apply the category
// policy. Only session-store failures and invalid input are returned as
// errors; model failures and unusable answers produce a result with no
// entries and the diagnostic text in RawResponse.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"lifeledger/internal/agent"
	"lifeledger/internal/core"
	"lifeledger/internal/imaging"
	applog "lifeledger/internal/log"
)

var (
	// ErrNotConfigured is returned when no model is available.
	ErrNotConfigured = errors.New("AI service not configured: set GOOGLE_API_KEY")
	// ErrEmptyRequest is returned when there is neither prompt text nor images.
	ErrEmptyRequest = errors.New("prompt or images required")
)

// Vocabulary supplies the current category names. It must not fail.
type Vocabulary interface {
	Categories(ctx context.Context) []string
}

// Auditor records what the model answered. Failures are logged and ignored.
type Auditor interface {
	PublishExtractionAudit(ctx context.Context, a core.ExtractionAudit) error
}

type Config struct {
	ModelName        string
	APIKeyConfigured bool
	Timeout          time.Duration
	Generate         agent.GenerateConfig
	Policy           CategoryPolicy
	Image            imaging.Options
}

// Request is one extraction call.
type Request struct {
	Prompt string
	Images []imaging.Upload
	UserID string
}

type Pipeline struct {
	runtime *agent.Runtime
	model   agent.Model
	vocab   Vocabulary
	auditor Auditor
	cfg     Config
	logger  *applog.Logger
	events  *applog.StructuredLogger
}

type Option func(*Pipeline)

// WithAuditor publishes an audit record after every extraction.
func WithAuditor(a Auditor) Option {
	return func(p *Pipeline) { p.auditor = a }
}

// New wires a pipeline. A nil model leaves the pipeline unconfigured: Process
// returns ErrNotConfigured and Status reports "unconfigured".
func New(runtime *agent.Runtime, model agent.Model, vocab Vocabulary, cfg Config, logger *applog.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = applog.Discard()
	}
	if cfg.Policy == "" {
		cfg.Policy = PolicyPassthrough
	}
	if cfg.ModelName == "" && model != nil {
		cfg.ModelName = model.Name()
	}
	logger = logger.WithComponent(applog.ComponentExtract)

	p := &Pipeline{
		runtime: runtime,
		model:   model,
		vocab:   vocab,
		cfg:     cfg,
		logger:  logger,
		events:  applog.NewStructuredLogger(logger),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Agent returns the extraction agent for a vocabulary.
func (p *Pipeline) Agent(categories []string) agent.Agent {
	return agent.Agent{
		Name:        AgentName,
		Model:       p.cfg.ModelName,
		Description: AgentDescription,
		Instruction: BuildInstruction(categories),
		Config:      p.cfg.Generate,
	}
}

// Process extracts expense entries from req.
func (p *Pipeline) Process(ctx context.Context, req Request) (core.ExtractionResult, error) {
	if p.model == nil {
		return core.ExtractionResult{}, ErrNotConfigured
	}
	if strings.TrimSpace(req.UserID) == "" {
		return core.ExtractionResult{}, core.ErrEmptyUser
	}
	if strings.TrimSpace(req.Prompt) == "" && len(req.Images) == 0 {
		return core.ExtractionResult{}, ErrEmptyRequest
	}

	blobs, err := imaging.NormalizeAll(req.Images, p.cfg.Image)
	if err != nil {
		return core.ExtractionResult{}, err
	}

	categories := p.vocab.Categories(ctx)
	ag := p.Agent(categories)
	runner := p.runtime.Runner(ag, p.model)

	sess, err := p.runtime.GetOrCreateSession(ctx, runner.AppName(), req.UserID)
	if err != nil {
		p.events.LogError(ctx, "Session resolution failed", err, applog.ComponentExtract, applog.OpExtract,
			applog.NewFields().WithSession(runner.AppName(), req.UserID, ""))
		return core.ExtractionResult{}, fmt.Errorf("resolve session: %w", err)
	}

	msg := Compose(req.Prompt, blobs)
	raw := RunAgent(ctx, runner, req.UserID, sess.ID, msg, p.cfg.Timeout, p.logger)

	result := p.cfg.Policy.Apply(Parse(raw), categories)

	p.events.LogExtraction(ctx, runner.AppName(), req.UserID, sess.ID, result.Year, result.Month, len(result.Entries), len(raw))
	p.audit(ctx, req.UserID, sess.ID, result)
	return result, nil
}

// ResetChat forgets the user's conversation with the extraction agent.
func (p *Pipeline) ResetChat(ctx context.Context, userID string) (int, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, core.ErrEmptyUser
	}
	n, err := p.runtime.ResetSessions(ctx, AgentName, userID)
	if err != nil {
		return 0, fmt.Errorf("reset chat: %w", err)
	}
	return n, nil
}

func (p *Pipeline) audit(ctx context.Context, userID, sessionID string, result core.ExtractionResult) {
	if p.auditor == nil {
		return
	}
	err := p.auditor.PublishExtractionAudit(ctx, core.ExtractionAudit{
		UserID:      userID,
		SessionID:   sessionID,
		Year:        result.Year,
		Month:       result.Month,
		EntryCount:  len(result.Entries),
		RawResponse: result.RawResponse,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to publish extraction audit",
			applog.FieldUserID, userID,
			applog.FieldError, err)
	}
}
