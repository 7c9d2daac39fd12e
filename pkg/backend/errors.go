package backend

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrBackend matches every *Failure via errors.Is.
var ErrBackend = errors.New("backend failure")

// Kind classifies a backend failure.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindConnection Kind = "connection"
	KindBadRequest Kind = "bad_request"
	KindRateLimit  Kind = "rate_limit"
	KindServer     Kind = "server"
	KindTimeout    Kind = "timeout"
	KindUnknown    Kind = "unknown"
)

// Failure is a classified provider error.
type Failure struct {
	Kind       Kind
	Provider   string
	StatusCode int // zero when no HTTP response was received
	Cause      error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("%s backend %s (status %d): %v", f.Provider, f.Kind, f.StatusCode, f.Cause)
	}
	return fmt.Sprintf("%s backend %s: %v", f.Provider, f.Kind, f.Cause)
}

func (f *Failure) Unwrap() error {
	return f.Cause
}

// Is reports true for ErrBackend.
func (f *Failure) Is(target error) bool {
	return target == ErrBackend
}

// Classify wraps err into a *Failure. Nil stays nil, an existing *Failure is
// returned unchanged and caller cancellation passes through untouched.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	failure := &Failure{Kind: KindUnknown, Provider: provider, Cause: err}

	var oaErr *openai.Error
	var anErr *anthropic.Error
	var netErr net.Error
	switch {
	case errors.As(err, &oaErr):
		failure.StatusCode = oaErr.StatusCode
		failure.Kind = kindForStatus(oaErr.StatusCode)
	case errors.As(err, &anErr):
		failure.StatusCode = anErr.StatusCode
		failure.Kind = kindForStatus(anErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		failure.Kind = KindTimeout
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			failure.Kind = KindTimeout
		} else {
			failure.Kind = KindConnection
		}
	}

	return failure
}

// KindOf returns the failure kind of err, or KindUnknown when err is not a
// backend failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnknown
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindBadRequest
	}
	return KindUnknown
}
