package store

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/aws/smithy-go"
)

// ErrorKind classifies store failures by how callers must react to them.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindTransient covers throttling, timeouts and network hiccups; retried.
	KindTransient
	// KindNotFound means the path vanished; it contributes nothing.
	KindNotFound
	// KindAccessDenied aborts the affected subtree only.
	KindAccessDenied
	// KindInvalid covers malformed tokens and corrupt pages.
	KindInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindNotFound:
		return "not found"
	case KindAccessDenied:
		return "access denied"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is a classified store failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind.
func NewError(kind ErrorKind, op, path string, err error) error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// KindOf returns the kind of err, classifying raw SDK and network errors on
// the fly.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return classify(err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound reports whether err means the path no longer exists.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

var apiErrorKinds = map[string]ErrorKind{
	"NoSuchBucket":          KindNotFound,
	"NoSuchKey":             KindNotFound,
	"NotFound":              KindNotFound,
	"AccessDenied":          KindAccessDenied,
	"AllAccessDisabled":     KindAccessDenied,
	"InvalidAccessKeyId":    KindAccessDenied,
	"SignatureDoesNotMatch": KindAccessDenied,
	"AccountProblem":        KindAccessDenied,
	"ExpiredToken":          KindAccessDenied,
	"SlowDown":              KindTransient,
	"Throttling":            KindTransient,
	"ThrottlingException":   KindTransient,
	"RequestTimeout":        KindTransient,
	"RequestTimeTooSkewed":  KindTransient,
	"InternalError":         KindTransient,
	"ServiceUnavailable":    KindTransient,
	"InvalidArgument":       KindInvalid,
	"InvalidToken":          KindInvalid,
	"MalformedXML":          KindInvalid,
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.Canceled) {
		return KindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if kind, ok := apiErrorKinds[apiErr.ErrorCode()]; ok {
			return kind
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) {
		code := status.HTTPStatusCode()
		switch {
		case code == 404:
			return KindNotFound
		case code == 401 || code == 403:
			return KindAccessDenied
		case code == 400:
			return KindInvalid
		case code == 429 || code >= 500:
			return KindTransient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindTransient
	}
	return KindUnknown
}
