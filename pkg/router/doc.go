// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

// Package router decodes tagged byte payloads into typed messages and
// dispatches them to the handler operation matching each type.
//
// # Pipeline
//
//	Raw bytes → Tag Extraction → Type Resolution → Decode → Validate → Dispatch
//
// Every stage exits early on failure: the drop is logged (and counted when
// metrics are enabled) and Route returns an error describing the reason.
// Nothing a sender puts on the wire (malformed XML, unknown tags, decode
// failures, even a panic inside a handler) propagates into the listener
// loop that invoked Route.
//
// # Registries
//
// The tag registry maps a lowercase root element name to a decoder for its
// payload type; the validator registry maps a tag to an optional semantic
// check (absence means always valid). Both are populated at construction
// and immutable afterwards; WithDecoder and WithValidator allow
// per-instance overrides at construction time only.
package router
