// Package fallback runs an ordered list of named providers until one
// succeeds. It replaces the per-caller try/catch chains that otherwise grow
// around every external collaborator (completion models, image APIs).
package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider is one candidate in an ordered chain.
type Provider[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Result carries the first successful value and the provider that produced it.
type Result[T any] struct {
	Provider string
	Value    T
}

// ErrNoProviders is returned when TryInOrder is called with an empty chain.
var ErrNoProviders = errors.New("no providers configured")

// Failure records why one provider was rejected.
type Failure struct {
	Provider string
	Err      error
}

// AggregateError is returned when every provider in the chain failed.
type AggregateError struct {
	Failures []Failure
}

func (e *AggregateError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Provider, f.Err)
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// Unwrap exposes the individual causes to errors.Is/As.
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// ErrInvalidResult marks a provider response rejected by the validity check.
var ErrInvalidResult = errors.New("provider returned an invalid result")

// TryInOrder invokes providers strictly in order and short-circuits on the
// first success. A provider fails when its call errors or when valid (if
// non-nil) rejects the value. Each provider gets exactly one attempt; there
// is no per-provider retry. When every provider fails, the returned error is
// an *AggregateError naming each one.
//
// Callers that must never fail are expected to end the chain with a provider
// that cannot fail (e.g. a locally synthesized placeholder).
func TryInOrder[T any](ctx context.Context, providers []Provider[T], valid func(T) bool) (Result[T], error) {
	var zero Result[T]
	if len(providers) == 0 {
		return zero, ErrNoProviders
	}

	agg := &AggregateError{Failures: make([]Failure, 0, len(providers))}
	for _, p := range providers {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		value, err := p.Call(ctx)
		if err != nil {
			agg.Failures = append(agg.Failures, Failure{Provider: p.Name, Err: err})
			continue
		}
		if valid != nil && !valid(value) {
			agg.Failures = append(agg.Failures, Failure{Provider: p.Name, Err: ErrInvalidResult})
			continue
		}
		return Result[T]{Provider: p.Name, Value: value}, nil
	}
	return zero, agg
}
