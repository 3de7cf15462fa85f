package extract

const (
	StatusHealthy      = "healthy"
	StatusUnconfigured = "unconfigured"
)

// breakerReporter is implemented by dependencies guarded by a circuit
// breaker, such as the Gemini model and the AMQP client.
type breakerReporter interface {
	BreakerState() string
}

// Status describes whether the pipeline can serve extractions.
type Status struct {
	Status           string `json:"status"`
	ModelAvailable   bool   `json:"model_available"`
	APIKeyConfigured bool   `json:"api_key_configured"`
	Model            string `json:"model"`
	AgentReady       bool   `json:"agent_ready"`
	RunnerReady      bool   `json:"runner_ready"`
	CategoryPolicy   string `json:"category_policy"`
	ModelBreaker     string `json:"model_breaker,omitempty"`
	AuditBreaker     string `json:"audit_breaker,omitempty"`
}

// Status reads configuration and initialization state only.
func (p *Pipeline) Status() Status {
	s := Status{
		Status:           StatusUnconfigured,
		ModelAvailable:   p.model != nil,
		APIKeyConfigured: p.cfg.APIKeyConfigured,
		Model:            p.cfg.ModelName,
		AgentReady:       p.model != nil && p.runtime != nil,
		CategoryPolicy:   string(p.cfg.Policy),
		ModelBreaker:     breakerState(p.model),
		AuditBreaker:     breakerState(p.auditor),
	}
	if p.runtime != nil {
		s.RunnerReady = p.runtime.RunnerCount() > 0
	}
	if s.ModelAvailable {
		s.Status = StatusHealthy
	}
	return s
}

// breakerState returns "" when v has no breaker.
func breakerState(v any) string {
	if b, ok := v.(breakerReporter); ok {
		return b.BreakerState()
	}
	return ""
}
