// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package tcp implements the TCP listener for the gateway.
//
// # Overview
//
// The accept loop hands each connection to its own goroutine. A connection
// carries one logical message: the handler reads into a single rented
// buffer until the stream ends or the buffer is full, then routes the
// bytes exactly as the UDP path does.
//
// There is no framing or length prefix on the wire. A message larger than
// the configured buffer is truncated with a warning and the partial data
// is still forwarded; multiple logical messages written to one connection
// are not separated. Senders are expected to open a connection, write one
// message, and close.
//
// Blacklisted sources and connections without a resolvable remote endpoint
// are closed without reading. TCP has no per-source rate limiter; the cost
// of establishing a connection is the gate.
package tcp
