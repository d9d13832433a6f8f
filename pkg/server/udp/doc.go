// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package udp implements the UDP listener for the gateway.
//
// # Overview
//
// Each datagram is one candidate message. The receive loop rents a buffer,
// receives one datagram plus its sender address, and gates the sender
// before any decoding happens:
//
//	┌────────┐       ┌───────────┐      ┌─────────────┐      ┌────────┐
//	│ Logger │ ─UDP─→│ Blacklist │ ───→ │ RateLimiter │ ───→ │ Router │
//	└────────┘       └───────────┘      └─────────────┘      └────────┘
//
// Rejected datagrams are logged and dropped; no response is ever sent to
// the sender. Accepted payloads are copied into a right-sized buffer and
// routed on a detached goroutine so a slow handler never stalls the next
// receive.
//
// # Gating order
//
//	1. Sender address present
//	2. Sender not on the blacklist
//	3. Sender under its requests-per-minute budget
//	4. Payload non-empty
//	5. Payload within the configured buffer size (oversize is dropped)
//
// # Lifecycle
//
// The socket is bound at construction so configuration errors surface
// before Start. Start/Stop/Dispose semantics are provided by
// server.Lifecycle; cancellation unblocks a pending receive by setting an
// immediate read deadline.
package udp
