// Package apierr provides unified error handling for the control plane.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the canonical error kinds named by every component
// contract (spec §7) — a string label, not a distinct Go type per site.
type Kind string

const (
	KindInvalidCredentials Kind = "invalid_credentials"
	KindTooManyAttempts    Kind = "too_many_attempts"
	KindTokenExpired       Kind = "token_expired"
	KindInvalidToken       Kind = "invalid_token"
	KindSessionExpired     Kind = "session_expired"
	KindUnauthorized       Kind = "unauthorized"
	KindRateLimited        Kind = "rate_limited"
	KindCircuitOpen        Kind = "circuit_open"
	KindTimeout            Kind = "timeout"
	KindInvalidResponse    Kind = "invalid_response"
	KindServerError        Kind = "server_error"
	KindRequestFailed      Kind = "request_failed"
	KindBlockedHost        Kind = "blocked_host"
	KindInvalidURL         Kind = "invalid_url"
	KindContentTooLarge    Kind = "content_too_large"
	KindRedirectBlocked    Kind = "redirect_blocked"
	KindUnsupportedContent Kind = "unsupported_content_type"
	KindNotFound           Kind = "not_found"
	KindPermissionDenied   Kind = "permission_denied"
	KindStorageError       Kind = "storage_error"
	KindAllProvidersFailed Kind = "all_providers_failed"
	KindInvalidInput       Kind = "invalid_input"
	KindInternal           Kind = "internal"
)

// httpStatusByKind drives the HTTP mapping: auth -> 401/403, rate -> 429,
// validation -> 400, upstream exhaustion -> 503, not-found -> 404.
var httpStatusByKind = map[Kind]int{
	KindInvalidCredentials: http.StatusUnauthorized,
	KindTooManyAttempts:    http.StatusTooManyRequests,
	KindTokenExpired:       http.StatusUnauthorized,
	KindInvalidToken:       http.StatusUnauthorized,
	KindSessionExpired:     http.StatusUnauthorized,
	KindUnauthorized:       http.StatusUnauthorized,
	KindRateLimited:        http.StatusTooManyRequests,
	KindCircuitOpen:        http.StatusServiceUnavailable,
	KindTimeout:            http.StatusGatewayTimeout,
	KindInvalidResponse:    http.StatusBadGateway,
	KindServerError:        http.StatusBadGateway,
	KindRequestFailed:      http.StatusBadGateway,
	KindBlockedHost:        http.StatusBadRequest,
	KindInvalidURL:         http.StatusBadRequest,
	KindContentTooLarge:    http.StatusBadRequest,
	KindRedirectBlocked:    http.StatusBadRequest,
	KindUnsupportedContent: http.StatusUnsupportedMediaType,
	KindNotFound:           http.StatusNotFound,
	KindPermissionDenied:   http.StatusForbidden,
	KindStorageError:       http.StatusInternalServerError,
	KindAllProvidersFailed: http.StatusServiceUnavailable,
	KindInvalidInput:       http.StatusBadRequest,
	KindInternal:           http.StatusInternalServerError,
}

// ServiceError is a structured error carrying a canonical kind, a message,
// and whatever details help the caller react.
type ServiceError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails attaches additional structured context to the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// HTTPStatus returns the status this error's kind maps to.
func (e *ServiceError) HTTPStatus() int {
	if status, ok := httpStatusByKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// New creates a ServiceError of the given kind.
func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

// Transient reports whether a kind is recovered locally by a fallback/retry
// chain rather than surfaced to the caller immediately (spec §7).
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindTimeout, KindInvalidResponse, KindCircuitOpen:
		return true
	default:
		return false
	}
}

func InvalidCredentials() *ServiceError {
	return New(KindInvalidCredentials, "invalid username or password")
}

func TooManyAttempts() *ServiceError {
	return New(KindTooManyAttempts, "too many authentication attempts")
}

func TokenExpired() *ServiceError {
	return New(KindTokenExpired, "token has expired")
}

func InvalidToken(err error) *ServiceError {
	return Wrap(KindInvalidToken, "invalid authentication token", err)
}

func SessionExpired() *ServiceError {
	return New(KindSessionExpired, "session has expired")
}

func Unauthorized(message string) *ServiceError {
	return New(KindUnauthorized, message)
}

func RateLimited(budget, subject string) *ServiceError {
	return New(KindRateLimited, "rate limited").
		WithDetails("budget", budget).
		WithDetails("subject", subject)
}

func CircuitOpen(serviceID string) *ServiceError {
	return New(KindCircuitOpen, "circuit breaker is open").WithDetails("service_id", serviceID)
}

func Timeout(operation string) *ServiceError {
	return New(KindTimeout, "operation timed out").WithDetails("operation", operation)
}

func InvalidResponse(err error) *ServiceError {
	return Wrap(KindInvalidResponse, "invalid upstream response", err)
}

func ServerError(err error) *ServiceError {
	return Wrap(KindServerError, "upstream server error", err)
}

func RequestFailed(err error) *ServiceError {
	return Wrap(KindRequestFailed, "request failed", err)
}

func BlockedHost(host string) *ServiceError {
	return New(KindBlockedHost, "host is blocked").WithDetails("host", host)
}

func InvalidURL(raw string) *ServiceError {
	return New(KindInvalidURL, "invalid url").WithDetails("url", raw)
}

func ContentTooLarge(limit int64) *ServiceError {
	return New(KindContentTooLarge, "content exceeds size limit").WithDetails("limit_bytes", limit)
}

func RedirectBlocked(status int) *ServiceError {
	return New(KindRedirectBlocked, "redirect blocked").WithDetails("status", status)
}

func UnsupportedContentType(contentType string) *ServiceError {
	return New(KindUnsupportedContent, "unsupported content type").WithDetails("content_type", contentType)
}

func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, "resource not found").
		WithDetails("resource", resource).
		WithDetails("id", id)
}

func PermissionDenied(resource, action string) *ServiceError {
	return New(KindPermissionDenied, "permission denied").
		WithDetails("resource", resource).
		WithDetails("action", action)
}

func StorageError(operation string, err error) *ServiceError {
	return Wrap(KindStorageError, "storage operation failed", err).WithDetails("operation", operation)
}

func AllProvidersFailed() *ServiceError {
	return New(KindAllProvidersFailed, "all providers in the fallback chain failed")
}

func InvalidInput(field, reason string) *ServiceError {
	return New(KindInvalidInput, "invalid input").
		WithDetails("field", field).
		WithDetails("reason", reason)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, err)
}

func Forbidden(message string) *ServiceError {
	return New(KindPermissionDenied, message)
}

func InvalidFormat(field, requirement string) *ServiceError {
	return New(KindInvalidInput, "invalid field format").
		WithDetails("field", field).
		WithDetails("requirement", requirement)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return New(KindRateLimited, "rate limit exceeded").
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// GetServiceError is an alias of As, named to match call sites that treat
// error classification as an accessor rather than a type assertion.
func GetServiceError(err error) *ServiceError {
	return As(err)
}

// As extracts a *ServiceError from an error chain.
func As(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// GetHTTPStatus returns the HTTP status code for an error, defaulting to 500
// for errors that are not a *ServiceError.
func GetHTTPStatus(err error) int {
	if svcErr := As(err); svcErr != nil {
		return svcErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}
