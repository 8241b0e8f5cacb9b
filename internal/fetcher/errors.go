package fetcher

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"

	"github.com/pkg/errors"
)

// Failure categories. None of them is fatal: the caller skips the school
// for the current cycle.
var (
	ErrTimeout    = errors.New("timeout")
	ErrTransport  = errors.New("transport error")
	ErrUnexpected = errors.New("unexpected error")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %s", e.Status)
}

type categorized struct {
	cat error
	err error
}

func (e *categorized) Error() string { return e.cat.Error() + ": " + e.err.Error() }
func (e *categorized) Unwrap() error { return e.err }
func (e *categorized) Is(target error) bool {
	return target == e.cat
}

// classify tags err with its failure category and the url.
func classify(rawURL string, err error) error {
	if err == nil {
		return nil
	}
	cat := ErrUnexpected
	var (
		netErr    net.Error
		urlErr    *url.Error
		statusErr *StatusError
	)
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		cat = ErrTimeout
	case stderrors.As(err, &netErr) && netErr.Timeout():
		cat = ErrTimeout
	case stderrors.As(err, &statusErr):
		cat = ErrTransport
	case stderrors.As(err, &urlErr):
		cat = ErrTransport
	}
	return errors.WithMessagef(&categorized{cat: cat, err: err}, "fetch %s", rawURL)
}

// Category maps err to ErrTimeout, ErrTransport or ErrUnexpected.
// It returns nil for a nil error.
func Category(err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, ErrTimeout):
		return ErrTimeout
	case stderrors.Is(err, ErrTransport):
		return ErrTransport
	default:
		return ErrUnexpected
	}
}

// Label is Category as a metrics label.
func Label(err error) string {
	switch Category(err) {
	case nil:
		return "ok"
	case ErrTimeout:
		return "timeout"
	case ErrTransport:
		return "transport"
	default:
		return "unexpected"
	}
}
