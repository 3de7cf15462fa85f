package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifeledger/internal/core"
)

// MessageType tags every message on the queue so one consumer can serve both flows.
type MessageType string

const (
	TypeExtractionAudit MessageType = "extraction_audit"
	TypeLedgerSync      MessageType = "ledger_sync"
)

// ErrMalformedMessage marks deliveries that can never be processed and must not be requeued.
var ErrMalformedMessage = errors.New("malformed message")

// ExtractionAuditMessage carries what the model answered for one extraction.
type ExtractionAuditMessage struct {
	Type        MessageType `json:"type"`
	UserID      string      `json:"user_id"`
	SessionID   string      `json:"session_id"`
	Year        *int        `json:"year,omitempty"`
	Month       *int        `json:"month,omitempty"`
	EntryCount  int         `json:"entry_count"`
	RawResponse string      `json:"raw_response"`
	Timestamp   time.Time   `json:"timestamp"`
}

// LedgerSyncMessage is a lightweight pointer to a saved ledger batch.
// The worker loads the batch itself before mirroring it.
type LedgerSyncMessage struct {
	Type      MessageType `json:"type"`
	BatchID   int64       `json:"batch_id"`
	Timestamp time.Time   `json:"timestamp"`
}

func NewExtractionAuditMessage(a core.ExtractionAudit) *ExtractionAuditMessage {
	ts := a.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return &ExtractionAuditMessage{
		Type:        TypeExtractionAudit,
		UserID:      a.UserID,
		SessionID:   a.SessionID,
		Year:        a.Year,
		Month:       a.Month,
		EntryCount:  a.EntryCount,
		RawResponse: a.RawResponse,
		Timestamp:   ts,
	}
}

// Audit converts the message back into the domain record.
func (m *ExtractionAuditMessage) Audit() core.ExtractionAudit {
	return core.ExtractionAudit{
		UserID:      m.UserID,
		SessionID:   m.SessionID,
		Year:        m.Year,
		Month:       m.Month,
		EntryCount:  m.EntryCount,
		RawResponse: m.RawResponse,
		CreatedAt:   m.Timestamp,
	}
}

func NewLedgerSyncMessage(batchID int64) *LedgerSyncMessage {
	return &LedgerSyncMessage{
		Type:      TypeLedgerSync,
		BatchID:   batchID,
		Timestamp: time.Now(),
	}
}

// Handlers routes decoded messages. A nil handler drops messages of that type.
type Handlers struct {
	Audit      func(context.Context, *ExtractionAuditMessage) error
	LedgerSync func(context.Context, *LedgerSyncMessage) error
}

// Dispatch decodes body and hands it to the matching handler. Errors wrapping
// ErrMalformedMessage mean the body itself is unusable.
func (h Handlers) Dispatch(ctx context.Context, body []byte) error {
	var head struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(body, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	switch head.Type {
	case TypeExtractionAudit:
		var msg ExtractionAuditMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if h.Audit == nil {
			return nil
		}
		return h.Audit(ctx, &msg)
	case TypeLedgerSync:
		var msg LedgerSyncMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		if msg.BatchID <= 0 {
			return fmt.Errorf("%w: batch id %d", ErrMalformedMessage, msg.BatchID)
		}
		if h.LedgerSync == nil {
			return nil
		}
		return h.LedgerSync(ctx, &msg)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, head.Type)
	}
}
