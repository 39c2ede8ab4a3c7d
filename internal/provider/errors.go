package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindTransient Kind = iota
	KindValidation
	KindPermanent
	KindQuota
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindValidation:
		return "validation"
	case KindPermanent:
		return "permanent"
	case KindQuota:
		return "quota_exceeded"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the categorized failure every adapter surfaces.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	Message    string
	// RetryAfter is the vendor-announced time until quota or rate limits
	// clear. Zero when unknown.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Provider != "" {
		sb.WriteString(e.Provider)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Kind.String())
	if e.StatusCode != 0 {
		fmt.Fprintf(&sb, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil && e.Message == "" {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Transient(providerID string, err error) *Error {
	return &Error{Kind: KindTransient, Provider: providerID, Err: err}
}

func Permanent(providerID string, err error) *Error {
	return &Error{Kind: KindPermanent, Provider: providerID, Err: err}
}

// Classify returns the taxonomy kind for any error an adapter call can
// produce. Unrecognized errors are treated as transient.
func Classify(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	// Deadlines, dial failures and resets are all worth another try.
	return KindTransient
}

// RetryAfter returns the vendor-announced delay carried by err, if any.
func RetryAfter(err error) time.Duration {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.RetryAfter
	}
	return 0
}

// quotaMarkers are substrings vendors put in 429 bodies when the account
// quota, not the request rate, is exhausted.
var quotaMarkers = []string{
	"insufficient_quota",
	"quota",
	"resource_exhausted",
	"billing",
	"credit balance",
}

// StatusError maps a non-2xx HTTP response to the failure taxonomy.
func StatusError(providerID string, status int, body []byte, header http.Header) *Error {
	msg := strings.TrimSpace(string(body))
	msg = truncateRunes(msg, 512)
	e := &Error{
		Provider:   providerID,
		StatusCode: status,
		Message:    msg,
		RetryAfter: parseRetryAfter(header),
	}
	switch {
	case status == http.StatusPaymentRequired:
		e.Kind = KindQuota
	case status == http.StatusTooManyRequests:
		e.Kind = KindTransient
		lower := strings.ToLower(msg)
		for _, m := range quotaMarkers {
			if strings.Contains(lower, m) {
				e.Kind = KindQuota
				break
			}
		}
	case status == http.StatusRequestTimeout:
		e.Kind = KindTransient
	case status >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

// parseRetryAfter reads Retry-After (seconds or HTTP date) and falls back
// to the smallest value of X-RateLimit-Reset.
func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	if raw := strings.TrimSpace(h.Get("Retry-After")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
		if t, err := http.ParseTime(raw); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	raw := h.Get("X-RateLimit-Reset")
	if raw == "" {
		return 0
	}
	minReset := -1
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || n <= 0 {
			continue
		}
		if minReset < 0 || n < minReset {
			minReset = n
		}
	}
	if minReset <= 0 {
		return 0
	}
	return time.Duration(minReset) * time.Second
}
