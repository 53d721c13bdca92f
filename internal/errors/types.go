package errors

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Kind is the retry class of an error.
type Kind int

const (
	KindTransient Kind = iota // may succeed on retry
	KindPermanent             // will fail again
	KindDegraded              // dependency switched off by a circuit breaker
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	case KindDegraded:
		return "degraded"
	}
	return "unknown"
}

// TransientError marks a failure worth retrying, typically a rate limit or a
// 5xx from a generation backend.
type TransientError struct {
	Err        error
	StatusCode int
	RetryAfter int // seconds, from a Retry-After header
	Message    string
}

func (e *TransientError) Error() string { return describe("transient", e.Message, e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError marks a failure that retrying cannot fix.
type PermanentError struct {
	Err        error
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string { return describe("permanent", e.Message, e.Err) }
func (e *PermanentError) Unwrap() error { return e.Err }

// DegradedError is returned without calling a dependency while its circuit
// is open.
type DegradedError struct {
	Err     error
	Message string
}

func (e *DegradedError) Error() string { return describe("degraded", e.Message, e.Err) }
func (e *DegradedError) Unwrap() error { return e.Err }

func describe(kind, message string, err error) string {
	if message != "" {
		return message
	}
	return fmt.Sprintf("%s error: %v", kind, err)
}

func NewTransientError(err error, message string) error {
	return &TransientError{Err: err, Message: message}
}

func NewPermanentError(err error, message string) error {
	return &PermanentError{Err: err, Message: message}
}

func NewDegradedError(err error, message string) error {
	return &DegradedError{Err: err, Message: message}
}

func as[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
}

// IsTransient reports whether err is worth retrying. Explicitly classified
// errors win; otherwise HTTP status codes found in the message and network
// faults count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := as[*TransientError](err); ok {
		return true
	}
	if _, ok := as[*PermanentError](err); ok {
		return false
	}
	if IsDegraded(err) {
		return false
	}
	if code := StatusCode(err); code > 0 {
		return retryableStatus(code)
	}
	return isNetworkFault(err)
}

// IsPermanent reports whether err is neither transient nor degraded.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if _, ok := as[*PermanentError](err); ok {
		return true
	}
	return !IsTransient(err) && !IsDegraded(err)
}

func IsDegraded(err error) bool {
	_, ok := as[*DegradedError](err)
	return ok
}

// KindOf classifies err. nil counts as permanent.
func KindOf(err error) Kind {
	switch {
	case IsDegraded(err):
		return KindDegraded
	case IsTransient(err):
		return KindTransient
	}
	return KindPermanent
}

// RetryAfter returns the first Retry-After hint found in err's chain, or zero.
func RetryAfter(err error) time.Duration {
	for ; err != nil; err = errors.Unwrap(err) {
		if t, ok := err.(*TransientError); ok && t.RetryAfter > 0 {
			return time.Duration(t.RetryAfter) * time.Second
		}
	}
	return 0
}

var statusPattern = regexp.MustCompile(`(?i)(?:status|http|error)[ :]*([45]\d\d)\b`)

// StatusCode returns the HTTP status carried by a typed error or mentioned in
// the message ("status 429", "API error 503: ..."), or zero.
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	if t, ok := as[*TransientError](err); ok && t.StatusCode > 0 {
		return t.StatusCode
	}
	if p, ok := as[*PermanentError](err); ok && p.StatusCode > 0 {
		return p.StatusCode
	}
	if m := statusPattern.FindStringSubmatch(err.Error()); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return code
	}
	return 0
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || code >= 500 && code != http.StatusNotImplemented
}

var networkFaults = []string{"connection refused", "connection reset", "broken pipe", "timeout", "no such host", "eof"}

func isNetworkFault(err error) bool {
	if netErr, ok := as[net.Error](err); ok && netErr.Timeout() {
		return true
	}
	if _, ok := as[*net.OpError](err); ok {
		return true
	}
	if errno, ok := as[syscall.Errno](err); ok {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, fault := range networkFaults {
		if strings.Contains(msg, fault) {
			return true
		}
	}
	return false
}
