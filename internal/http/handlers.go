package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"lifeledger/internal/core"
	"lifeledger/internal/extract"
	"lifeledger/internal/imaging"
	applog "lifeledger/internal/log"
)

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.opts.Ready(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err)
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (s *Server) handleProcessExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := ParseProcessExpense(w, r, s.opts.MaxUploadBytes)
	if err != nil {
		s.writeParseError(ctx, w, err)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeValidationError(ctx, w, err)
		return
	}
	if len(req.Images) > s.opts.MaxImages {
		ValidationErrorResponse([]FieldError{{
			Field:   "images",
			Message: fmt.Sprintf("Must contain at most %d items", s.opts.MaxImages),
			Code:    "MAX",
		}}).Write(w)
		return
	}

	result, err := s.extractor.Process(ctx, extract.Request{
		Prompt: req.Prompt,
		Images: req.Images,
		UserID: req.UserID,
	})
	if err != nil {
		s.writeExtractError(ctx, w, err)
		return
	}

	NewJSONResponse().Body(result).Write(w)
}

func (s *Server) writeExtractError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, extract.ErrNotConfigured):
		ServiceUnavailableError(err.Error()).Write(w)
	case errors.Is(err, core.ErrEmptyUser),
		errors.Is(err, extract.ErrEmptyRequest),
		errors.Is(err, imaging.ErrUnsupportedType),
		errors.Is(err, imaging.ErrDecode):
		BadRequestError(err.Error()).Write(w)
	default:
		s.logger.ErrorContext(ctx, "Expense extraction failed",
			applog.FieldOperation, applog.OpExtract,
			applog.FieldError, err)
		InternalServerError("failed to process expense").Write(w)
	}
}

// handleReset clears the caller's conversation through reset.
func (s *Server) handleReset(reset func(ctx context.Context, userID string) (int, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		userID := sanitizeInput(r.Header.Get(UserIDHeader))
		if userID == "" {
			ValidationErrorResponse([]FieldError{{Field: UserIDHeader, Message: "This field is required", Code: "REQUIRED"}}).Write(w)
			return
		}

		removed, err := reset(ctx, userID)
		if err != nil {
			s.logger.ErrorContext(ctx, "Chat reset failed",
				applog.FieldUserID, userID,
				applog.FieldPath, r.URL.Path,
				applog.FieldOperation, applog.OpReset,
				applog.FieldError, err)
			InternalServerError("failed to reset chat session").Write(w)
			return
		}

		s.logger.InfoContext(ctx, "Chat reset",
			applog.FieldUserID, userID,
			applog.FieldPath, r.URL.Path,
			"sessions_removed", removed)
		NewJSONResponse().Body(map[string]string{"status": "reset"}).Write(w)
	}
}

func (s *Server) handleAssistantHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(s.extractor.Status()).Write(w)
}

func (s *Server) handleSaveEntries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := ParseLedgerEntries(w, r, maxLedgerBodyBytes)
	if err != nil {
		s.writeParseError(ctx, w, err)
		return
	}
	if err := s.validator.Validate(req); err != nil {
		s.writeValidationError(ctx, w, err)
		return
	}

	ref, err := s.ledger.SaveEntries(ctx, req.Batch())
	if err != nil {
		if isBatchValidationError(err) {
			BadRequestError(err.Error()).Write(w)
			return
		}
		s.logger.ErrorContext(ctx, "Saving ledger entries failed",
			applog.FieldUserID, req.UserID,
			applog.FieldOperation, applog.OpAppend,
			applog.FieldError, err)
		InternalServerError("failed to save entries").Write(w)
		return
	}

	NewJSONResponse().
		Status(http.StatusCreated).
		Body(map[string]string{"ref": ref}).
		Write(w)
}

func isBatchValidationError(err error) bool {
	for _, target := range []error{
		core.ErrEmptyUser,
		core.ErrInvalidYear,
		core.ErrInvalidMonth,
		core.ErrNoEntries,
		core.ErrTooManyEntries,
		core.ErrEmptyCategory,
		core.ErrInvalidAmount,
		core.ErrNotesTooLong,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func (s *Server) writeParseError(ctx context.Context, w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		RequestTooLargeError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)).Write(w)
		return
	}
	s.logger.DebugContext(ctx, "Malformed request", applog.FieldError, err)
	BadRequestError("malformed request body").Write(w)
}

func (s *Server) writeValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		ValidationErrorResponse(verrs.Fields).Write(w)
		return
	}
	s.logger.ErrorContext(ctx, "Request validation failed", applog.FieldOperation, applog.OpValidate, applog.FieldError, err)
	InternalServerError("request validation failed").Write(w)
}
