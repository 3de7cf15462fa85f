package extract

import "lifeledger/internal/agent"

// Compose builds the user message: the prompt text first, then one part per
// image in the given order.
func Compose(prompt string, images []agent.Blob) *agent.Content {
	parts := make([]agent.Part, 0, 1+len(images))
	parts = append(parts, agent.NewTextPart(prompt))
	for _, img := range images {
		parts = append(parts, agent.NewBlobPart(img))
	}
	return agent.NewUserContent(parts...)
}
