// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package handler

import (
	"context"

	"github.com/KC3PIB/HamLoggerGateway/pkg/breaker"
	"github.com/KC3PIB/HamLoggerGateway/pkg/messages"
)

// BreakerHandler wraps a Handler with a circuit breaker. When the inner
// handler fails repeatedly, further messages are rejected with
// breaker.ErrCircuitOpen until the breaker resets, so a broken downstream
// never accumulates in-flight dispatch goroutines.
type BreakerHandler struct {
	inner Handler
	cb    *breaker.CircuitBreaker
}

var _ Handler = (*BreakerHandler)(nil)

// WithBreaker wraps h with the given circuit breaker.
func WithBreaker(h Handler, cb *breaker.CircuitBreaker) *BreakerHandler {
	return &BreakerHandler{inner: h, cb: cb}
}

func (b *BreakerHandler) HandleAppInfo(ctx context.Context, msg *messages.AppInfo, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleAppInfo(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleContactInfo(ctx context.Context, msg *messages.ContactInfo, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleContactInfo(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleContactReplace(ctx context.Context, msg *messages.ContactReplace, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleContactReplace(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleContactDelete(ctx context.Context, msg *messages.ContactDelete, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleContactDelete(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleLookupInfo(ctx context.Context, msg *messages.LookupInfo, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleLookupInfo(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleRadioInfo(ctx context.Context, msg *messages.RadioInfo, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleRadioInfo(ctx, msg, sender) })
}

func (b *BreakerHandler) HandleSpot(ctx context.Context, msg *messages.Spot, sender Endpoint) error {
	return b.cb.Execute(func() error { return b.inner.HandleSpot(ctx, msg, sender) })
}
