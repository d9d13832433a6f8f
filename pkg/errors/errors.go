// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package errors provides structured error handling for the gateway.
package errors

import (
	"errors"
	"fmt"
)

// Common error types
var (
	// ErrInvalidState indicates a lifecycle operation was attempted in the
	// wrong state (double start, stop while stopped).
	ErrInvalidState = errors.New("invalid server state")

	// ErrInvalidConfig indicates invalid bind configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBlacklisted indicates the sender address is on a blacklist.
	ErrBlacklisted = errors.New("source blacklisted")

	// ErrRateLimited indicates the sender exceeded its request budget.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrUnknownTag indicates a payload root tag with no registered type.
	ErrUnknownTag = errors.New("unknown message tag")

	// ErrDecodeFailed indicates a payload could not be decoded into its type.
	ErrDecodeFailed = errors.New("message decode failed")

	// ErrValidationFailed indicates a decoded payload failed validation.
	ErrValidationFailed = errors.New("message validation failed")

	// ErrEmptyPayload indicates a zero-length payload.
	ErrEmptyPayload = errors.New("empty payload")

	// ErrNoEndpoint indicates the sender address could not be resolved.
	ErrNoEndpoint = errors.New("no remote endpoint")
)

// GatewayError wraps an error with additional context.
type GatewayError struct {
	Op         string // Operation that failed
	Protocol   string // Protocol (tcp, udp)
	MessageID  string // Message identifier
	RemoteAddr string // Sender address
	Err        error  // Underlying error
}

// Error implements the error interface.
func (e *GatewayError) Error() string {
	if e.MessageID != "" {
		return fmt.Sprintf("%s %s [%s] %s: %v", e.Protocol, e.Op, e.MessageID, e.RemoteAddr, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Protocol, e.Op, e.RemoteAddr, e.Err)
}

// Unwrap returns the underlying error.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// New creates a new GatewayError.
func New(op, protocol, messageID, remoteAddr string, err error) error {
	if err == nil {
		return nil
	}
	return &GatewayError{
		Op:         op,
		Protocol:   protocol,
		MessageID:  messageID,
		RemoteAddr: remoteAddr,
		Err:        err,
	}
}

// Wrap wraps an error with context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
