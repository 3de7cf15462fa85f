package agent

import (
	"context"
	"iter"
)

// ModelRequest is one turn sent to a hosted model.
type ModelRequest struct {
	Model             string
	SystemInstruction string
	Contents          []*Content
	Config            GenerateConfig
}

// ModelResponse is one chunk of a model turn. Partial chunks are streamed
// progress; the non-partial chunks together form the turn's answer.
type ModelResponse struct {
	Content *Content
	Partial bool
}

// Model generates content for a request.
type Model interface {
	Name() string
	GenerateContent(ctx context.Context, req *ModelRequest) iter.Seq2[*ModelResponse, error]
}
