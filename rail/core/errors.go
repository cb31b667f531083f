package core

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// ErrMissingBackpressure is signalled when a producer delivers more
// elements than its consumer requested and the consumer's bounded
// queue overflows.
var ErrMissingBackpressure = errors.New("rail: queue overflow, producer ignored requested amount")

// ConfigError reports an invalid construction argument: non-positive
// parallelism or prefetch, a missing collaborator, or an empty
// publisher array. It is returned synchronously, before anything is
// subscribed.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "rail: " + e.Reason
}

// NewConfigError creates a ConfigError with a formatted reason.
func NewConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// MismatchError reports that the number of subscribers offered to a
// rail stage does not match its parallelism. Every offered subscriber
// receives this error individually and nothing is subscribed.
type MismatchError struct {
	Parallelism int
	Subscribers int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("rail: parallelism = %d, subscribers = %d", e.Parallelism, e.Subscribers)
}

// Composite collapses the errors accumulated under deferred error
// delivery into a single error. Returns nil for an empty slice and the
// sole error unchanged for a singleton.
func Composite(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return errors.Join(errs...)
}

// PanicError wraps a value recovered from a panicking user callback so
// it can be routed as the affected rail's error signal. It includes a
// stack trace cleaned of internal min-rail frames.
//
// Conditions the Go runtime treats as non-recoverable (memory or stack
// exhaustion) never reach a recover and therefore are never wrapped.
type PanicError struct {
	Value any
	Stack string
}

func (e PanicError) Error() string {
	if e.Stack != "" {
		return fmt.Sprintf("panic: %v\n%s", e.Value, e.Stack)
	}
	return fmt.Sprintf("panic: %v", e.Value)
}

// NewPanicError creates a PanicError from a recovered value with a
// cleaned stack trace, keeping user and standard library frames only.
func NewPanicError(recovered any) PanicError {
	return PanicError{
		Value: recovered,
		Stack: cleanStack(captureStack(4)), // skip: runtime.Callers, captureStack, NewPanicError, defer func
	}
}

// captureStack returns the current stack trace as a string.
func captureStack(skip int) string {
	const maxFrames = 32
	var pcs [maxFrames]uintptr
	n := runtime.Callers(skip, pcs[:])
	if n == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs[:n])
	var sb strings.Builder

	for {
		frame, more := frames.Next()
		fmt.Fprintf(&sb, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}

	return sb.String()
}

// cleanStack removes internal min-rail frames from a stack trace.
func cleanStack(stack string) string {
	lines := strings.Split(stack, "\n")
	var result []string
	var skipNext bool

	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}

		if !strings.HasPrefix(line, "\t") {
			if strings.Contains(line, "github.com/lguimbarda/min-rail/rail") {
				skipNext = true
				continue
			}
			skipNext = false
		} else if skipNext {
			continue
		}

		result = append(result, line)
	}

	return strings.Join(result, "\n")
}
