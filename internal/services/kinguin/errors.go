package kinguin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/cockroachdb/errors"
)

// ErrNotFound matches any NotFoundError via errors.Is.
var ErrNotFound = errors.New("kinguin: not found")

// ConfigurationError reports a client set up in a way that cannot work,
// e.g. signing without a secret or an unknown environment.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "kinguin: configuration error: " + e.Reason
}

// TransportError means no response was received at all.
type TransportError struct {
	Op     string
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("kinguin: %s %s %s: transport failure: %v", e.Op, e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// APIError is a non-2xx answer from the gateway.
type APIError struct {
	StatusCode int
	Kind       string
	Code       string
	Message    string
	Body       []byte
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kinguin: api error %d", e.StatusCode)
	if e.Kind != "" {
		fmt.Fprintf(&b, " (%s)", e.Kind)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " code=%s", e.Code)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Retryable reports whether repeating a read-only call might succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// NotFoundError is the 404 flavour of APIError returned by product and
// order lookups.
type NotFoundError struct {
	APIError
}

func (e *NotFoundError) Unwrap() error { return &e.APIError }

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// errorCode accepts both `"code": "E100"` and `"code": 100`.
type errorCode string

func (c *errorCode) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = errorCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = errorCode(n.String())
	return nil
}

type errorBody struct {
	Kind    string    `json:"kind"`
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
	Detail  string    `json:"detail"`
	Error   string    `json:"error"`
}

func newAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: body}

	var payload errorBody
	if err := json.Unmarshal(body, &payload); err == nil {
		apiErr.Kind = payload.Kind
		apiErr.Code = string(payload.Code)
		switch {
		case payload.Message != "":
			apiErr.Message = payload.Message
		case payload.Detail != "":
			apiErr.Message = payload.Detail
		default:
			apiErr.Message = payload.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// classifyStatus builds the error for a non-2xx response. lookup marks
// single-resource reads whose 404 becomes a NotFoundError.
func classifyStatus(status int, body []byte, lookup bool) error {
	apiErr := newAPIError(status, body)
	if lookup && status == http.StatusNotFound {
		return &NotFoundError{APIError: *apiErr}
	}
	return apiErr
}

// IsRetryable reports whether err is worth another attempt of an idempotent
// read. Configuration problems, 404s and other 4xx answers are final.
func IsRetryable(err error) bool {
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
