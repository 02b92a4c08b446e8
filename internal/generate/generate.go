// Package generate turns a function's signature and body into documentation
// text. The core only depends on the Generator interface; the OpenAI-backed
// client and its wrappers (cache, rate limit, truncation) live here too.
package generate

import (
	"context"
	"errors"
	"fmt"
)

// ErrGeneration is matched by every failure returned from a Generator.
var ErrGeneration = errors.New("generation failure")

// Generator produces documentation text for one function. Calls must not
// touch the source tree and may be issued concurrently.
type Generator interface {
	Generate(ctx context.Context, signature, body string) (string, error)
}

// Func adapts a plain function to the Generator interface.
type Func func(ctx context.Context, signature, body string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, signature, body string) (string, error) {
	return f(ctx, signature, body)
}

// Error describes a failed generation. It matches ErrGeneration with errors.Is.
type Error struct {
	Op         string // what was being attempted (ex: "request", "response")
	StatusCode int    // HTTP status from the service, 0 if none
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("generate %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("generate %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrGeneration.
func (e *Error) Is(target error) bool {
	return target == ErrGeneration
}

// Stub returns the same text for every function.
type Stub struct {
	Text string
}

// Generate returns s.Text, or an error if it is empty.
func (s Stub) Generate(ctx context.Context, _, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Op: "stub", Err: err}
	}
	if s.Text == "" {
		return "", &Error{Op: "stub", Err: errors.New("no stub text configured")}
	}
	return s.Text, nil
}
