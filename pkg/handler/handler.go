// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"
	"fmt"
	"net"

	"github.com/KC3PIB/HamLoggerGateway/pkg/messages"
)

// Endpoint identifies the sender of a message: resolved remote address plus
// port. It is always present when a message is handed downstream.
type Endpoint struct {
	IP   net.IP
	Port int
}

// String returns the endpoint in host:port form.
func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.IP, e.Port)
}

// EndpointFromAddr extracts an Endpoint from a network address.
// Returns false if the address carries no resolvable IP.
func EndpointFromAddr(addr net.Addr) (Endpoint, bool) {
	switch a := addr.(type) {
	case *net.UDPAddr:
		if a == nil || a.IP == nil {
			return Endpoint{}, false
		}
		return Endpoint{IP: a.IP, Port: a.Port}, true
	case *net.TCPAddr:
		if a == nil || a.IP == nil {
			return Endpoint{}, false
		}
		return Endpoint{IP: a.IP, Port: a.Port}, true
	default:
		return Endpoint{}, false
	}
}

// Handler receives decoded and validated messages from the router. There is
// one operation per payload type; the router dispatches each message to the
// operation matching its type.
//
// Implementations own all business logic for what happens to a message and
// must not block the calling goroutine indefinitely. Errors returned from
// handler operations are logged by the router but never propagate into a
// listener loop.
type Handler interface {
	// HandleAppInfo receives application announcement messages.
	HandleAppInfo(ctx context.Context, msg *messages.AppInfo, sender Endpoint) error

	// HandleContactInfo receives newly logged contacts.
	HandleContactInfo(ctx context.Context, msg *messages.ContactInfo, sender Endpoint) error

	// HandleContactReplace receives corrections to previously logged contacts.
	HandleContactReplace(ctx context.Context, msg *messages.ContactReplace, sender Endpoint) error

	// HandleContactDelete receives contact removal requests.
	HandleContactDelete(ctx context.Context, msg *messages.ContactDelete, sender Endpoint) error

	// HandleLookupInfo receives callsign lookup notifications.
	HandleLookupInfo(ctx context.Context, msg *messages.LookupInfo, sender Endpoint) error

	// HandleRadioInfo receives radio state reports.
	HandleRadioInfo(ctx context.Context, msg *messages.RadioInfo, sender Endpoint) error

	// HandleSpot receives DX cluster spots.
	HandleSpot(ctx context.Context, msg *messages.Spot, sender Endpoint) error
}

// NoopHandler is a Handler implementation that accepts and discards all
// messages. Useful for testing or for embedding when only a subset of
// operations is of interest.
type NoopHandler struct{}

var _ Handler = (*NoopHandler)(nil)

func (h *NoopHandler) HandleAppInfo(ctx context.Context, msg *messages.AppInfo, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleContactInfo(ctx context.Context, msg *messages.ContactInfo, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleContactReplace(ctx context.Context, msg *messages.ContactReplace, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleContactDelete(ctx context.Context, msg *messages.ContactDelete, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleLookupInfo(ctx context.Context, msg *messages.LookupInfo, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleRadioInfo(ctx context.Context, msg *messages.RadioInfo, sender Endpoint) error {
	return nil
}

func (h *NoopHandler) HandleSpot(ctx context.Context, msg *messages.Spot, sender Endpoint) error {
	return nil
}
