package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/nuwan94/leaf/pkg/types"
)

// Error kinds. Every *Error wraps exactly one of these, so callers branch
// with errors.Is.
var (
	// ErrUnauthenticated covers bad credentials and expired or invalid
	// refresh tokens. Only this kind escalates to a forced logout.
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	// ErrConflict is a 409, e.g. a duplicate email on register.
	ErrConflict = errors.New("conflict")
	// ErrValidation carries per-field messages in Error.Fields.
	ErrValidation   = errors.New("validation failed")
	ErrBusinessRule = errors.New("request rejected")
	ErrServer       = errors.New("server error")
	// ErrNetwork wraps transport failures (DNS, refused, timeouts).
	ErrNetwork = errors.New("network error")
)

// Error describes a failed API call.
type Error struct {
	Method string
	Path   string
	// Status is the HTTP status, 0 for transport failures.
	Status  int
	Message string
	// Fields maps form field names to messages for validation and conflict
	// errors.
	Fields map[string]string

	kind  error
	cause error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: ", e.Method, e.Path)
	if e.Status != 0 {
		fmt.Fprintf(&b, "%d ", e.Status)
	}
	b.WriteString(e.kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.cause != nil {
		b.WriteString(": ")
		b.WriteString(e.cause.Error())
	}
	return b.String()
}

// Unwrap exposes the error kind and, for transport failures, the cause.
func (e *Error) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// FieldErrors returns the per-field messages carried by err, if any.
func FieldErrors(err error) map[string]string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Fields
	}
	return nil
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage renders err for display. Transport failures get a generic
// message; everything else keeps the server's wording.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNetwork) {
		return "Unable to reach the server. Check your connection and try again."
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if len(apiErr.Fields) > 0 {
			keys := make([]string, 0, len(apiErr.Fields))
			for k := range apiErr.Fields {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			return apiErr.Fields[keys[0]]
		}
		return apiErr.kind.Error()
	}
	return err.Error()
}

func kindForStatus(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrUnauthenticated
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusConflict:
		return ErrConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return ErrValidation
	case status >= 500:
		return ErrServer
	default:
		return ErrBusinessRule
	}
}

func networkError(method, path string, cause error) *Error {
	return &Error{Method: method, Path: path, kind: ErrNetwork, cause: cause}
}

// maxRawMessage caps how many bytes of a non-JSON error body are kept.
const maxRawMessage = 200

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// parseError builds an *Error from a non-2xx response body.
func parseError(method, path string, status int, body []byte) *Error {
	e := &Error{
		Method: method,
		Path:   path,
		Status: status,
		kind:   kindForStatus(status),
	}

	var resp types.ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		e.Message = truncate(strings.TrimSpace(string(body)), maxRawMessage)
		return e
	}

	e.Message = resp.Error
	if len(resp.Errors) > 0 {
		e.Fields = resp.Errors
	}
	if len(resp.Detail) > 0 {
		var msg string
		var list []types.FieldError
		switch {
		case json.Unmarshal(resp.Detail, &msg) == nil:
			if e.Message == "" {
				e.Message = msg
			}
		case json.Unmarshal(resp.Detail, &list) == nil:
			if e.Fields == nil {
				e.Fields = make(map[string]string, len(list))
			}
			for _, fe := range list {
				e.Fields[fieldName(fe.Loc)] = fe.Msg
			}
		}
	}
	return e
}

// fieldName returns the last string element of a location path
// (["body", "email"] -> "email").
func fieldName(loc []any) string {
	for i := len(loc) - 1; i >= 0; i-- {
		if s, ok := loc[i].(string); ok && s != "body" && s != "query" {
			return s
		}
	}
	return "_"
}
