// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package handler defines the capability the gateway produces for its
// external collaborator: one operation per known payload type, each
// receiving the decoded and validated message plus the sender endpoint.
//
// The mapping from payload type to operation is fixed one-to-one; a
// contactinfo payload always reaches HandleContactInfo and nothing else.
// Implementations own all business logic for what happens to a message and
// must not block the calling goroutine indefinitely.
//
// NoopHandler discards everything and is useful for tests or for embedding
// when only a subset of operations matters. WithBreaker wraps any Handler
// with a circuit breaker for failure shedding.
package handler
