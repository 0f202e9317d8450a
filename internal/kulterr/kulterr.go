/*
Copyright 2025 The llm-d Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package kulterr defines the error kinds of §7 ("Error Handling Design").
// Every error the reconciliation engine produces carries a Kind, a message,
// and the component that produced it, so callers can branch on
// errors.Is(err, kulterr.Conflict) without string matching.
package kulterr

import (
	"errors"
	"fmt"
)

// Kind is a sentinel error identifying one of the seven error kinds of §7.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

var (
	// ValidationError: the spec is malformed; terminal, sets phase=Failed.
	ValidationError = Kind{"ValidationError"}
	// TransientAPIError: orchestrator returned 5xx/network error; requeue with backoff.
	TransientAPIError = Kind{"TransientAPIError"}
	// NotFound: an expected object is absent; recovered locally by creating it.
	NotFound = Kind{"NotFound"}
	// Conflict: optimistic-concurrency loss on a status patch; immediate requeue.
	Conflict = Kind{"Conflict"}
	// MetricsUnavailable: a metrics backend query failed. An empty query
	// result is read as 0 by internal/health and does not produce this kind.
	MetricsUnavailable = Kind{"MetricsUnavailable"}
	// EventDeliveryError: non-fatal event-sink delivery failure.
	EventDeliveryError = Kind{"EventDeliveryError"}
	// LeaderLost: the current reconcile must abort at the next suspension point.
	LeaderLost = Kind{"LeaderLost"}
)

// Error is a typed error carrying a Kind, the producing component's name,
// and an optional wrapped cause.
type Error struct {
	Kind      Kind
	Component string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Component, e.Kind.name, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Component, e.Kind.name, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the same Kind as e, so that
// errors.Is(err, kulterr.Conflict) works against a wrapped *Error.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// New constructs an *Error of the given kind, produced by component, with message.
func New(kind Kind, component, message string) *Error {
	return &Error{Kind: kind, Component: component, Message: message}
}

// Wrap constructs an *Error of the given kind that wraps cause.
func Wrap(kind Kind, component, message string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Message: message, Err: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *kulterr.Error, and ok=true. Otherwise returns the zero Kind and false.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Kind{}, false
}

// IsTerminal reports whether err should surface as phase=Failed per the
// propagation policy of §7 ("only ValidationError and explicit rollback
// decisions surface as phase=Failed").
func IsTerminal(err error) bool {
	k, ok := KindOf(err)
	return ok && k == ValidationError
}
