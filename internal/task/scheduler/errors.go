package scheduler

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnknownJob     = errors.New("unknown job")
	ErrAlreadyRunning = errors.New("job already running")
)

// ConfigError reports invalid registration input. It is fatal at setup time.
type ConfigError struct {
	Job   string
	Field string
	Value string
	Err   error
}

func (e *ConfigError) Error() string {
	msg := "invalid " + e.Field
	if e.Job != "" {
		msg = fmt.Sprintf("job %q: %s", e.Job, msg)
	}
	if e.Value != "" {
		msg += fmt.Sprintf(" %q", e.Value)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CallbackError is a failure raised by a job callback, either a returned
// error or a recovered panic.
type CallbackError struct {
	Job   string
	Err   error
	Panic any
	Stack string
}

func (e *CallbackError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("job %s panicked: %v", e.Job, e.Panic)
	}
	return fmt.Sprintf("job %s: %v", e.Job, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }

// Kinder is implemented by errors that know their failure kind
// (storage.Error reports "storage", publish.Error reports "publish").
type Kinder interface {
	ErrorKind() string
}

// Kind classifies a job failure for logs and metrics:
// "panic", "timeout", "canceled", an ErrorKind from the chain, or "callback".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var ce *CallbackError
	if errors.As(err, &ce) && ce.Panic != nil {
		return "panic"
	}
	var k Kinder
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "callback"
}
