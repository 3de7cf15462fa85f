package gemini

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"lifeledger/internal/agent"
)

type fakeGenerator struct {
	resp     *genai.GenerateContentResponse
	err      error
	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.model = model
	f.contents = contents
	f.config = config
	return f.resp, f.err
}

func textResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}},
	}}
}

func drain(m *Model, req *agent.ModelRequest) ([]*agent.ModelResponse, error) {
	var out []*agent.ModelResponse
	for resp, err := range m.GenerateContent(context.Background(), req) {
		if err != nil {
			return out, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func TestNew_RequiresAPIKey(t *testing.T) {
	_, err := New(context.Background(), "", "gemini-2.0-flash", nil)
	assert.Error(t, err)
}

func TestGenerateContent_TranslatesRequestAndResponse(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(
		&genai.Part{Text: "hidden reasoning", Thought: true},
		&genai.Part{Text: `{"entries":[]}`},
	)}
	m := newModel(gen, "gemini-2.0-flash", DefaultBreakerConfig(), nil)

	temp := float32(0.3)
	req := &agent.ModelRequest{
		SystemInstruction: "only JSON",
		Config:            agent.GenerateConfig{Temperature: &temp, MaxOutputTokens: 2000},
		Contents: []*agent.Content{
			agent.NewUserContent(
				agent.NewTextPart("receipt attached"),
				agent.NewBlobPart(agent.Blob{MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}}),
			),
			{Role: agent.RoleModel, Parts: []agent.Part{agent.NewTextPart("previous answer")}},
		},
	}

	got, err := drain(m, req)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.False(t, got[0].Partial)
	assert.Equal(t, `{"entries":[]}`, got[0].Content.Text())
	assert.Equal(t, agent.RoleModel, got[0].Content.Role)

	assert.Equal(t, "gemini-2.0-flash", gen.model)
	require.Len(t, gen.contents, 2)
	assert.Equal(t, "user", gen.contents[0].Role)
	require.Len(t, gen.contents[0].Parts, 2)
	assert.Equal(t, "receipt attached", gen.contents[0].Parts[0].Text)
	require.NotNil(t, gen.contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/jpeg", gen.contents[0].Parts[1].InlineData.MIMEType)
	assert.Equal(t, "model", gen.contents[1].Role)

	require.NotNil(t, gen.config.SystemInstruction)
	assert.Equal(t, "only JSON", gen.config.SystemInstruction.Parts[0].Text)
	assert.Equal(t, int32(2000), gen.config.MaxOutputTokens)
	require.NotNil(t, gen.config.Temperature)
	assert.Equal(t, float32(0.3), *gen.config.Temperature)
}

func TestGenerateContent_RequestModelOverridesDefault(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(&genai.Part{Text: "ok"})}
	m := newModel(gen, "default-model", DefaultBreakerConfig(), nil)

	_, err := drain(m, &agent.ModelRequest{Model: "other-model"})
	require.NoError(t, err)
	assert.Equal(t, "other-model", gen.model)
	assert.Nil(t, gen.config.SystemInstruction)
}

func TestGenerateContent_EmptyResponseYieldsNothing(t *testing.T) {
	for name, resp := range map[string]*genai.GenerateContentResponse{
		"nil response":  nil,
		"no candidates": {},
		"nil content":   {Candidates: []*genai.Candidate{{}}},
	} {
		t.Run(name, func(t *testing.T) {
			m := newModel(&fakeGenerator{resp: resp}, "m", DefaultBreakerConfig(), nil)
			got, err := drain(m, &agent.ModelRequest{})
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestGenerateContent_BreakerOpensAfterFailures(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("503 unavailable")}
	m := newModel(gen, "m", BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		_, err := drain(m, &agent.ModelRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "503 unavailable")
	}
	assert.Equal(t, "open", m.BreakerState())

	_, err := drain(m, &agent.ModelRequest{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, gen.calls)
}

func TestGenerateContent_CancellationDoesNotTrip(t *testing.T) {
	gen := &fakeGenerator{err: context.Canceled}
	m := newModel(gen, "m", BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 3; i++ {
		_, err := drain(m, &agent.ModelRequest{})
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", m.BreakerState())
	assert.Equal(t, 3, gen.calls)
}
