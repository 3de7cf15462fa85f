// Package http exposes the extraction pipeline and the ledger as a JSON API.
//
// This file implements request decoding and validation. Every handler turns
// its input into a DTO, validates it with struct tags and reports each
// invalid field separately.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"lifeledger/internal/core"
	"lifeledger/internal/imaging"
)

// UserIDHeader carries the caller identity set by the upstream gateway.
const UserIDHeader = "X-User-ID"

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationErrors is returned when a DTO fails validation.
type ValidationErrors struct {
	Fields []FieldError
}

func (v ValidationErrors) Error() string {
	parts := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		parts[i] = f.Field + ": " + f.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ProcessExpenseRequest is the decoded form of a process-expense call.
type ProcessExpenseRequest struct {
	UserID string           `json:"-" header:"X-User-ID" validate:"required,max=128"`
	Prompt string           `json:"prompt" validate:"required,max=4000"`
	Images []imaging.Upload `json:"-"`
}

// ChatMessageRequest is the JSON body of the chatbot endpoints.
type ChatMessageRequest struct {
	UserID  string `json:"-" header:"X-User-ID" validate:"required,max=128"`
	Message string `json:"message" validate:"required,max=4000"`
}

// LedgerEntryRequest is one confirmed entry in a ledger write.
type LedgerEntryRequest struct {
	Category string  `json:"category" validate:"required,max=100"`
	Amount   float64 `json:"amount" validate:"ne=0"`
	Notes    string  `json:"notes" validate:"max=500"`
}

// LedgerEntriesRequest is the JSON body of POST /ledger/entries.
type LedgerEntriesRequest struct {
	UserID     string               `json:"-" header:"X-User-ID" validate:"required,max=128"`
	Year       *int                 `json:"year" validate:"omitempty,gte=1900,lte=9999"`
	Month      *int                 `json:"month" validate:"omitempty,gte=1,lte=12"`
	CreditCard string               `json:"credit_card" validate:"max=64"`
	Entries    []LedgerEntryRequest `json:"entries" validate:"required,min=1,max=200,dive"`
}

// Batch converts the request into a ledger batch. Absent periods stay zero
// so the ledger service can default them.
func (r LedgerEntriesRequest) Batch() core.LedgerBatch {
	b := core.LedgerBatch{
		UserID:     r.UserID,
		CreditCard: r.CreditCard,
		Entries:    make([]core.ExpenseEntry, len(r.Entries)),
	}
	if r.Year != nil {
		b.Year = *r.Year
	}
	if r.Month != nil {
		b.Month = *r.Month
	}
	for i, e := range r.Entries {
		b.Entries[i] = core.ExpenseEntry{Category: e.Category, Amount: e.Amount, Notes: e.Notes}
	}
	return b
}

// RequestValidator validates DTOs with struct tags and reports JSON field
// paths such as "entries[0].category". Fields read from headers are reported
// under the header name.
type RequestValidator struct {
	validate *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Tag.Get("header")
		}
		return name
	})
	return &RequestValidator{validate: v}
}

// Validate returns ValidationErrors when i fails its struct tags.
func (v *RequestValidator) Validate(i any) error {
	err := v.validate.Struct(i)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := ValidationErrors{Fields: make([]FieldError, 0, len(verrs))}
	for _, e := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   fieldPath(e.Namespace()),
			Message: errorMessage(e.Tag(), e.Param(), e.Kind()),
			Code:    strings.ToUpper(e.Tag()),
		})
	}
	return out
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.IndexByte(namespace, '.'); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func errorMessage(tag, param string, kind reflect.Kind) string {
	unit := "characters"
	if kind == reflect.Slice {
		unit = "items"
	}
	switch tag {
	case "required":
		return "This field is required"
	case "min":
		return fmt.Sprintf("Must contain at least %s %s", param, unit)
	case "max":
		return fmt.Sprintf("Must contain at most %s %s", param, unit)
	case "gte":
		return fmt.Sprintf("Must be greater than or equal to %s", param)
	case "lte":
		return fmt.Sprintf("Must be less than or equal to %s", param)
	case "ne":
		return fmt.Sprintf("Must not be %s", param)
	default:
		return fmt.Sprintf("Failed %s validation", tag)
	}
}

// ParseProcessExpense decodes a multipart (or url-encoded) process-expense
// request. Bodies over maxBytes fail with an *http.MaxBytesError.
func ParseProcessExpense(w http.ResponseWriter, r *http.Request, maxBytes int64) (ProcessExpenseRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	req := ProcessExpenseRequest{UserID: sanitizeInput(r.Header.Get(UserIDHeader))}

	err := r.ParseMultipartForm(maxBytes)
	switch {
	case errors.Is(err, http.ErrNotMultipart):
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("parse form: %w", err)
		}
	case err != nil:
		return req, fmt.Errorf("parse multipart form: %w", err)
	}

	req.Prompt = sanitizeInput(r.FormValue("prompt"))

	if r.MultipartForm != nil {
		for _, fh := range r.MultipartForm.File["images"] {
			upload, err := readUpload(fh)
			if err != nil {
				return req, err
			}
			req.Images = append(req.Images, upload)
		}
	}
	return req, nil
}

func readUpload(fh *multipart.FileHeader) (imaging.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return imaging.Upload{}, fmt.Errorf("open upload %q: %w", fh.Filename, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return imaging.Upload{}, fmt.Errorf("read upload %q: %w", fh.Filename, err)
	}

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return imaging.Upload{Filename: fh.Filename, ContentType: contentType, Data: data}, nil
}

// ParseLedgerEntries decodes a JSON ledger write. Unknown fields are rejected.
func ParseLedgerEntries(w http.ResponseWriter, r *http.Request, maxBytes int64) (LedgerEntriesRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var req LedgerEntriesRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode ledger entries: %w", err)
	}

	req.UserID = sanitizeInput(r.Header.Get(UserIDHeader))
	req.CreditCard = sanitizeInput(req.CreditCard)
	for i := range req.Entries {
		req.Entries[i].Category = sanitizeInput(req.Entries[i].Category)
		req.Entries[i].Notes = sanitizeInput(req.Entries[i].Notes)
	}
	return req, nil
}

// ParseChatMessage decodes a chatbot message. Unknown fields are rejected.
func ParseChatMessage(w http.ResponseWriter, r *http.Request, maxBytes int64) (ChatMessageRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	var req ChatMessageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, fmt.Errorf("decode chat message: %w", err)
	}

	req.UserID = sanitizeInput(r.Header.Get(UserIDHeader))
	req.Message = sanitizeInput(req.Message)
	return req, nil
}

// sanitizeInput removes control characters except tab, newline and carriage
// return, and trims surrounding whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, s)
}
