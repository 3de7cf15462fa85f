package extract

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"lifeledger/internal/agent"
	applog "lifeledger/internal/log"
)

// NoResponseText is returned when the runner finishes without a final text answer.
const NoResponseText = "no response from agent"

// errorPrefix starts every failure text RunAgent returns.
const errorPrefix = "Error: "

// IsRunFailure reports whether text is a failure RunAgent substituted for an
// answer rather than something the model said.
func IsRunFailure(text string) bool {
	return strings.HasPrefix(text, errorPrefix) || text == NoResponseText
}

// EventRunner is the part of agent.Runner the adapter drives.
type EventRunner interface {
	Run(ctx context.Context, userID, sessionID string, msg *agent.Content) iter.Seq2[*agent.Event, error]
}

var _ EventRunner = (*agent.Runner)(nil)

// RunAgent submits msg and returns the text of the first final event that
// carries text. It never fails: runtime errors, panics and timeouts come back
// as text starting with "Error:", and a stream without a usable final event
// yields NoResponseText. A non-positive timeout means no deadline.
func RunAgent(ctx context.Context, runner EventRunner, userID, sessionID string, msg *agent.Content, timeout time.Duration, logger *applog.Logger) (text string) {
	if logger == nil {
		logger = applog.Discard()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Agent runner panicked",
				applog.FieldUserID, userID,
				applog.FieldSessionID, sessionID,
				"panic", r)
			text = fmt.Sprintf(errorPrefix+"agent runtime failure: %v", r)
		}
	}()

	for ev, err := range runner.Run(ctx, userID, sessionID, msg) {
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
				logger.ErrorContext(ctx, "Agent run timed out",
					applog.FieldUserID, userID,
					applog.FieldSessionID, sessionID,
					"timeout", timeout)
				return fmt.Sprintf(errorPrefix+"agent timed out after %s", timeout)
			}
			logger.ErrorContext(ctx, "Agent run failed",
				applog.FieldUserID, userID,
				applog.FieldSessionID, sessionID,
				applog.FieldError, err)
			return errorPrefix + err.Error()
		}
		if ev.IsFinal() && ev.Content.HasText() {
			return strings.Join(ev.TextParts(), "")
		}
	}

	logger.WarnContext(ctx, "Agent produced no final response",
		applog.FieldUserID, userID,
		applog.FieldSessionID, sessionID)
	return NoResponseText
}
