package posts

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a failed page fetch for the sync engine.
type ErrorKind int

const (
	KindOther ErrorKind = iota
	KindTimeout
	KindRateLimited
	KindExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindExhausted:
		return "exhausted"
	default:
		return "other"
	}
}

// FetchError is returned by FetchPage for every failure except a cancelled
// context. RetryAfter is only set for KindRateLimited, and may be zero when
// the server gave no hint.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	msg := "fetch " + e.Kind.String()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter.Round(time.Second))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a FetchError anywhere in err's chain, and false
// when err is not a FetchError.
func KindOf(err error) (ErrorKind, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return KindOther, false
}

func IsRateLimited(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindRateLimited
}

func IsTimeout(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindTimeout
}

func IsExhausted(err error) bool {
	kind, ok := KindOf(err)
	return ok && kind == KindExhausted
}
