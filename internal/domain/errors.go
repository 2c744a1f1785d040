// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict (optimistic locking).
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates malformed input rejected before any state change.
var ErrValidation = errors.New("validation failed")

// ErrInvalidTransition indicates an illegal HITL state change.
var ErrInvalidTransition = errors.New("invalid transition")

// ErrPolicyUnavailable indicates the phase policy table could not be loaded.
// Evaluation fails closed while it is set.
var ErrPolicyUnavailable = errors.New("policy unavailable")

// ErrThresholdMisconfigured indicates a counter limit <= 0.
var ErrThresholdMisconfigured = errors.New("threshold misconfigured")

// ErrUpstreamExecutor indicates the external agent executor failed.
var ErrUpstreamExecutor = errors.New("upstream executor failure")

// ErrUnauthorized indicates the actor is not a registered reviewer.
var ErrUnauthorized = errors.New("unauthorized")
