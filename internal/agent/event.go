package agent

import "time"

// EventKind tags what an Event carries.
type EventKind int

const (
	// EventPartial is an intermediate chunk of a model turn.
	EventPartial EventKind = iota
	// EventFinal carries the complete answer for the turn.
	EventFinal
)

func (k EventKind) String() string {
	switch k {
	case EventPartial:
		return "partial"
	case EventFinal:
		return "final"
	default:
		return "unknown"
	}
}

// Event is one unit of a runner's output stream.
type Event struct {
	ID           string
	InvocationID string
	Author       string
	Kind         EventKind
	Content      *Content
	Timestamp    time.Time
}

func (e *Event) IsFinal() bool {
	return e != nil && e.Kind == EventFinal
}

// TextParts returns the text of every part, empty strings included.
func (e *Event) TextParts() []string {
	if e == nil || e.Content == nil {
		return nil
	}
	out := make([]string, 0, len(e.Content.Parts))
	for _, p := range e.Content.Parts {
		out = append(out, p.Text)
	}
	return out
}
