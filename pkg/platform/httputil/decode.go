package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	dErrors "bnpl/pkg/domain-errors"
)

// DecodeOption adjusts how a request body is read.
type DecodeOption func(*decodeOptions)

type decodeOptions struct {
	allowEmpty bool
}

// AllowEmptyBody treats a missing body as the zero request (optional-body admin calls).
func AllowEmptyBody() DecodeOption {
	return func(o *decodeOptions) { o.allowEmpty = true }
}

// DecodeJSON decodes a JSON request body into the target type. Unknown fields
// are rejected and a body over the configured limit answers 413.
// On failure, writes an error response and returns nil, false.
//
// Usage:
//
//	req, ok := httputil.DecodeJSON[CreatePlanRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeJSON[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string, opts ...DecodeOption) (*T, bool) {
	var o decodeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var req T
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(&req)
	if err == nil || (o.allowEmpty && errors.Is(err, io.EOF)) {
		return &req, true
	}

	logger.WarnContext(ctx, "failed to decode request body",
		"error", err,
		"request_id", requestID,
	)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		WriteJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:       "request_too_large",
			Description: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
		})
		return nil, false
	}
	WriteError(w, dErrors.New(dErrors.CodeBadRequest, decodeMessage(err)))
	return nil, false
}

// decodeMessage keeps client-facing decode errors short and free of Go type names.
func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return "request body required"
	case errors.As(err, &typeErr) && typeErr.Field != "":
		return fmt.Sprintf("%s has the wrong type", typeErr.Field)
	case isUnknownField(err):
		return err.Error()[len("json: "):]
	default:
		return "invalid request body"
	}
}

func isUnknownField(err error) bool {
	const prefix = "json: unknown field "
	msg := err.Error()
	return len(msg) > len(prefix) && msg[:len(prefix)] == prefix
}

// Validatable is implemented by request types that support validation.
type Validatable interface {
	Validate() error
}

// Normalizable is implemented by request types that support normalization.
type Normalizable interface {
	Normalize()
}

// PrepareRequest normalizes then validates a request.
func PrepareRequest(req any) error {
	if n, ok := req.(Normalizable); ok {
		n.Normalize()
	}
	if v, ok := req.(Validatable); ok {
		return v.Validate()
	}
	return nil
}

// DecodeAndPrepare combines JSON decoding with request preparation: Normalize()
// then Validate() when the target type implements them.
//
// Usage:
//
//	req, ok := httputil.DecodeAndPrepare[CreatePlanRequest](w, r, h.logger, ctx, requestID)
//	if !ok {
//	    return
//	}
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string, opts ...DecodeOption) (*T, bool) {
	req, ok := DecodeJSON[T](w, r, logger, ctx, requestID, opts...)
	if !ok {
		return nil, false
	}

	if err := PrepareRequest(req); err != nil {
		logger.WarnContext(ctx, "invalid request",
			"error", err,
			"request_id", requestID,
		)
		// domain errors keep their code; anything else is a validation failure
		var domainErr *dErrors.Error
		if errors.As(err, &domainErr) {
			WriteError(w, err)
		} else {
			WriteError(w, dErrors.New(dErrors.CodeValidation, err.Error()))
		}
		return nil, false
	}

	return req, true
}
