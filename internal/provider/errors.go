package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

// ProviderError describes a failed provider call. Message holds the provider's own
// diagnostic text when one was returned.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
	Cause      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "provider error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Reason is the best available human-readable cause: the provider message, then the
// transport error, then the HTTP status.
func (e *ProviderError) Reason() string {
	if e == nil {
		return ""
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		return msg
	}
	if e.Cause != nil {
		return e.Cause.Error()
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return "unknown provider error"
}

// Reason maps any send error to the text recorded against the recipient.
func Reason(err error) string {
	if err == nil {
		return ""
	}

	var providerErr *ProviderError
	switch {
	case errors.Is(err, domain.ErrInvalidAddress):
		return domain.ErrInvalidAddress.Error()
	case errors.Is(err, domain.ErrNotConfigured):
		return domain.ErrNotConfigured.Error()
	case errors.As(err, &providerErr):
		return providerErr.Reason()
	default:
		return err.Error()
	}
}

// Code returns the provider-specific error code, if any.
func Code(err error) string {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr.Code
	}
	return ""
}

// IsTransient reports whether a failure is likely to succeed on a later attempt. Sends are
// never retried here; callers use it to classify failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var providerErr *ProviderError
	if errors.As(err, &providerErr) && providerErr.StatusCode > 0 {
		return isTransientHTTPStatus(providerErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func isSuccessStatus(statusCode int) bool {
	return statusCode >= http.StatusOK && statusCode < http.StatusMultipleChoices
}
