package http

import (
	"context"
	"errors"
	"net/http"

	"lifeledger/internal/chatbot"
	"lifeledger/internal/core"
	"lifeledger/internal/extract"
	applog "lifeledger/internal/log"
)

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := s.decodeChatMessage(w, r)
	if !ok {
		return
	}

	reply, err := s.chatbot.SendMessage(ctx, req.UserID, req.Message)
	if err != nil {
		s.writeChatError(ctx, w, err)
		return
	}
	NewJSONResponse().Body(reply).Write(w)
}

// handleChatStream writes answer chunks as they arrive. The body is plain
// text under a text/event-stream content type; a failure after the first
// chunk can only end the stream early.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, ok := s.decodeChatMessage(w, r)
	if !ok {
		return
	}

	chunks, err := s.chatbot.SendMessageStream(ctx, req.UserID, req.Message)
	if err != nil {
		s.writeChatError(ctx, w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	for chunk, err := range chunks {
		if err != nil {
			s.logger.ErrorContext(ctx, "Chat stream ended with error",
				applog.FieldUserID, req.UserID,
				applog.FieldError, err)
			return
		}
		if _, err := w.Write([]byte(chunk)); err != nil {
			s.logger.DebugContext(ctx, "Chat client went away", applog.FieldError, err)
			return
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			s.logger.DebugContext(ctx, "Chat flush failed", applog.FieldError, err)
			return
		}
	}
}

func (s *Server) handleChatHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.chatbot.Status()).Write(w)
}

func (s *Server) decodeChatMessage(w http.ResponseWriter, r *http.Request) (ChatMessageRequest, bool) {
	req, err := ParseChatMessage(w, r, maxChatBodyBytes)
	if err != nil {
		s.writeParseError(r.Context(), w, err)
		return req, false
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeValidationError(r.Context(), w, err)
		return req, false
	}
	return req, true
}

func (s *Server) writeChatError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extract.ErrNotConfigured):
		ServiceUnavailableError("chatbot service not configured: set GOOGLE_API_KEY").Write(w)
	case errors.Is(err, core.ErrEmptyUser),
		errors.Is(err, chatbot.ErrEmptyMessage):
		BadRequestError(err.Error()).Write(w)
	case errors.Is(err, chatbot.ErrChatFailed):
		s.logger.WarnContext(ctx, "Chatbot could not answer", applog.FieldError, err)
		ErrorResponse(http.StatusBadGateway, "chatbot processing failed").Write(w)
	default:
		s.logger.ErrorContext(ctx, "Chat message failed",
			applog.FieldOperation, applog.OpRun,
			applog.FieldError, err)
		InternalServerError("failed to process message").Write(w)
	}
}
