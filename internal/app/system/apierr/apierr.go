// Package apierr is the error taxonomy of the JSON API. Services return
// *Error values for anything a client should see; Write maps them to status
// codes and bodies and logs everything else as an internal fault.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"
)

// Kind classifies an error for the client.
type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	Auth
	Forbidden
	Expired
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case Auth:
		return "auth"
	case Forbidden:
		return "forbidden"
	case Expired:
		return "expired"
	case RateLimited:
		return "rate_limited"
	default:
		return "internal"
	}
}

// Status returns the HTTP status for the kind. Expired codes are a business
// rule rejection, not a missing resource, so they map to 400.
func (k Kind) Status() int {
	switch k {
	case Validation, Expired:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Auth:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case RateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// FieldError is a per-field validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is a client-facing error. Err, when set, is logged but never sent.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldError
	// Redirect tells the client to send the user back to the previous step.
	Redirect bool
	// Status overrides Kind.Status when non-zero.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus returns the response status for e.
func (e *Error) HTTPStatus() int {
	if e.Status != 0 {
		return e.Status
	}
	return e.Kind.Status()
}

func newErr(k Kind, msg string, cause error) *Error {
	return &Error{Kind: k, Message: msg, Err: cause}
}

// ValidationFields builds a validation error from field messages.
func ValidationFields(fields []FieldError) *Error {
	return &Error{Kind: Validation, Message: "invalid input", Fields: fields}
}

func NewValidation(msg string) *Error          { return newErr(Validation, msg, nil) }
func NewNotFound(msg string) *Error            { return newErr(NotFound, msg, nil) }
func NewConflict(msg string, err error) *Error { return newErr(Conflict, msg, err) }
func NewAuth(msg string) *Error                { return newErr(Auth, msg, nil) }
func NewForbidden(msg string) *Error           { return newErr(Forbidden, msg, nil) }
func NewExpired(msg string) *Error             { return newErr(Expired, msg, nil) }
func NewRateLimited(msg string) *Error         { return newErr(RateLimited, msg, nil) }
func NewInternal(err error) *Error             { return newErr(Internal, "internal server error", err) }

// KindOf returns the kind of err, or Internal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err is an *Error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

type body struct {
	Error    string       `json:"error"`
	Kind     string       `json:"kind"`
	Errors   []FieldError `json:"errors,omitempty"`
	Redirect bool         `json:"redirect,omitempty"`
}

// Write sends err as a JSON error response. Errors that are not *Error, and
// *Error values of kind Internal, are logged and reported generically.
func Write(w http.ResponseWriter, log *zap.Logger, err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = NewInternal(err)
	}

	if e.Kind == Internal {
		if log != nil {
			log.Error("internal error", zap.Error(e.Err))
		}
		WriteJSON(w, http.StatusInternalServerError, body{Error: "internal server error", Kind: Internal.String()})
		return
	}

	WriteJSON(w, e.HTTPStatus(), body{
		Error:    e.Message,
		Kind:     e.Kind.String(),
		Errors:   e.Fields,
		Redirect: e.Redirect,
	})
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// DecodeJSON reads a JSON request body into v, limited to maxBytes.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return NewValidation("malformed JSON body")
	}
	return nil
}
