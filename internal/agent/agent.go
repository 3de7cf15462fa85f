// Package agent is a small conversational agent runtime: agents bound to a
// hosted model, per-user sessions holding ordered history, and runners that
// submit one message against a session and stream back events.
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	RoleUser  = "user"
	RoleModel = "model"
)

// Agent is a named model configuration with a system instruction.
type Agent struct {
	Name        string
	Model       string
	Description string
	Instruction string
	Config      GenerateConfig
}

// GenerateConfig holds sampling settings passed to the model on every turn.
type GenerateConfig struct {
	Temperature     *float32
	TopP            *float32
	TopK            *float32
	MaxOutputTokens int32
}

// Identity distinguishes agents that share a name but differ in model or
// instruction, so a runner is never reused across them.
func (a Agent) Identity() string {
	sum := sha256.Sum256([]byte(a.Model + "\x00" + a.Instruction))
	return a.Name + "@" + hex.EncodeToString(sum[:6])
}

type (
	// Content is one message: a role and its ordered parts.
	Content struct {
		Role  string
		Parts []Part
	}

	// Part is either text or inline binary data.
	Part struct {
		Text string
		Blob *Blob
	}

	// Blob is inline binary data such as a normalized image.
	Blob struct {
		MIMEType string
		Data     []byte
	}
)

func NewTextPart(text string) Part {
	return Part{Text: text}
}

func NewBlobPart(b Blob) Part {
	return Part{Blob: &b}
}

func NewUserContent(parts ...Part) *Content {
	return &Content{Role: RoleUser, Parts: parts}
}

// Text concatenates the text parts of c. Non-text parts contribute nothing.
func (c *Content) Text() string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// HasText reports whether any part carries non-empty text.
func (c *Content) HasText() bool {
	if c == nil {
		return false
	}
	for _, p := range c.Parts {
		if p.Text != "" {
			return true
		}
	}
	return false
}

func (c *Content) clone() *Content {
	if c == nil {
		return nil
	}
	out := &Content{Role: c.Role, Parts: make([]Part, len(c.Parts))}
	copy(out.Parts, c.Parts)
	return out
}
