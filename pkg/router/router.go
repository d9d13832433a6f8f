// Copyright (c) KC3PIB
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/KC3PIB/HamLoggerGateway/pkg/errors"
	"github.com/KC3PIB/HamLoggerGateway/pkg/handler"
	"github.com/KC3PIB/HamLoggerGateway/pkg/messages"
	"github.com/KC3PIB/HamLoggerGateway/pkg/metrics"
)

// Decoder parses a raw payload into its typed message.
type Decoder func(data []byte) (messages.Message, error)

// Validator checks a decoded message for minimum semantic content.
// A tag without a registered validator is always considered valid.
type Validator func(msg messages.Message) error

// Router drives a message through tag extraction, type resolution, decode,
// validation, and dispatch to the handler operation matching its type.
// Every stage drops-and-logs on failure; no fault in the pipeline ever
// propagates into the listener loop that invoked it.
type Router struct {
	handler    handler.Handler
	logger     *slog.Logger
	metrics    *metrics.Metrics
	decoders   map[string]Decoder
	validators map[string]Validator
}

// Option configures a Router at construction time. The registries are not
// mutable after New returns.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) { r.logger = logger }
}

// WithMetrics enables Prometheus instrumentation of the pipeline.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithDecoder overrides or adds a decoder for a tag.
func WithDecoder(tag string, dec Decoder) Option {
	return func(r *Router) { r.decoders[strings.ToLower(tag)] = dec }
}

// WithValidator overrides or adds a validator for a tag.
func WithValidator(tag string, val Validator) Option {
	return func(r *Router) { r.validators[strings.ToLower(tag)] = val }
}

// New creates a router dispatching to h, with the built-in tag registry and
// validators. Options may extend or override both, at construction only.
func New(h handler.Handler, opts ...Option) *Router {
	r := &Router{
		handler:    h,
		logger:     slog.Default(),
		decoders:   defaultDecoders(),
		validators: defaultValidators(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func defaultDecoders() map[string]Decoder {
	return map[string]Decoder{
		messages.TagAppInfo:        decodeInto[messages.AppInfo](),
		messages.TagContactInfo:    decodeInto[messages.ContactInfo](),
		messages.TagContactReplace: decodeInto[messages.ContactReplace](),
		messages.TagContactDelete:  decodeInto[messages.ContactDelete](),
		messages.TagLookupInfo:     decodeInto[messages.LookupInfo](),
		messages.TagRadioInfo:      decodeInto[messages.RadioInfo](),
		messages.TagSpot:           decodeInto[messages.Spot](),
	}
}

// decodeInto builds a Decoder for a concrete message type.
func decodeInto[T any, PT interface {
	*T
	messages.Message
}]() Decoder {
	return func(data []byte) (messages.Message, error) {
		msg := PT(new(T))
		if err := xml.Unmarshal(data, msg); err != nil {
			return nil, err
		}
		return msg, nil
	}
}

func defaultValidators() map[string]Validator {
	return map[string]Validator{
		messages.TagContactInfo: func(msg messages.Message) error {
			m := msg.(*messages.ContactInfo)
			if strings.TrimSpace(m.Call) == "" {
				return fmt.Errorf("contactinfo requires a call sign")
			}
			return nil
		},
		messages.TagContactReplace: func(msg messages.Message) error {
			m := msg.(*messages.ContactReplace)
			if strings.TrimSpace(m.Call) == "" {
				return fmt.Errorf("contactreplace requires a call sign")
			}
			return nil
		},
		messages.TagContactDelete: func(msg messages.Message) error {
			m := msg.(*messages.ContactDelete)
			if strings.TrimSpace(m.Call) == "" && strings.TrimSpace(m.ID) == "" {
				return fmt.Errorf("contactdelete requires a call sign or contact ID")
			}
			return nil
		},
		messages.TagSpot: func(msg messages.Message) error {
			m := msg.(*messages.Spot)
			if strings.TrimSpace(m.DXCall) == "" {
				return fmt.Errorf("spot requires a DX call")
			}
			if strings.TrimSpace(m.SpotterCall) == "" {
				return fmt.Errorf("spot requires a spotter call")
			}
			return nil
		},
	}
}

// ExtractTag reads just enough of the payload to return the lowercase name
// of its root element.
func ExtractTag(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("no root element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return strings.ToLower(start.Name.Local), nil
		}
	}
}

// Route processes one raw payload from the given sender. It returns an
// error describing why a message was dropped; callers log it and continue.
// No panic anywhere in the pipeline escapes Route.
func (r *Router) Route(ctx context.Context, data []byte, sender handler.Endpoint) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("message pipeline panic from %s: %v", sender, rec)
			r.logger.Error("message pipeline panic",
				slog.String("sender", sender.String()),
				slog.Any("panic", rec))
			r.drop("panic")
		}
	}()

	if r.metrics != nil {
		r.metrics.MessagesReceived.Inc()
	}

	// Stage 1: tag extraction
	tag, err := ExtractTag(data)
	if err != nil {
		r.logger.Debug("malformed payload, cannot extract tag",
			slog.String("sender", sender.String()),
			slog.String("error", err.Error()))
		r.drop("malformed")
		return errors.Wrap(err, "tag extraction failed")
	}

	// Stage 2: type resolution
	decode, ok := r.decoders[tag]
	if !ok {
		r.logger.Debug("unknown message tag",
			slog.String("tag", tag),
			slog.String("sender", sender.String()))
		r.drop("unknown_tag")
		return fmt.Errorf("%w: %q", errors.ErrUnknownTag, tag)
	}

	// Stage 3: decode
	msg, err := decode(data)
	if err != nil {
		r.logger.Debug("message decode failed",
			slog.String("tag", tag),
			slog.String("sender", sender.String()),
			slog.String("error", err.Error()))
		r.drop("decode")
		return fmt.Errorf("%w: %s: %v", errors.ErrDecodeFailed, tag, err)
	}

	// Stage 4: validate
	if validate, ok := r.validators[tag]; ok {
		if err := validate(msg); err != nil {
			r.logger.Warn("message failed validation",
				slog.String("tag", tag),
				slog.String("sender", sender.String()),
				slog.String("message", string(data)),
				slog.String("error", err.Error()))
			r.drop("validation")
			return fmt.Errorf("%w: %v", errors.ErrValidationFailed, err)
		}
	}

	// Stage 5: dispatch
	start := time.Now()
	err = r.dispatch(ctx, msg, sender)
	if r.metrics != nil {
		r.metrics.HandlerDuration.WithLabelValues(tag).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		r.logger.Warn("handler error",
			slog.String("tag", tag),
			slog.String("sender", sender.String()),
			slog.String("error", err.Error()))
		r.drop("handler")
		return errors.Wrap(err, "handler failed")
	}

	if r.metrics != nil {
		r.metrics.MessagesDispatched.WithLabelValues(tag).Inc()
	}
	return nil
}

// dispatch routes the typed message to the one handler operation matching
// its type.
func (r *Router) dispatch(ctx context.Context, msg messages.Message, sender handler.Endpoint) error {
	switch m := msg.(type) {
	case *messages.AppInfo:
		return r.handler.HandleAppInfo(ctx, m, sender)
	case *messages.ContactInfo:
		return r.handler.HandleContactInfo(ctx, m, sender)
	case *messages.ContactReplace:
		return r.handler.HandleContactReplace(ctx, m, sender)
	case *messages.ContactDelete:
		return r.handler.HandleContactDelete(ctx, m, sender)
	case *messages.LookupInfo:
		return r.handler.HandleLookupInfo(ctx, m, sender)
	case *messages.RadioInfo:
		return r.handler.HandleRadioInfo(ctx, m, sender)
	case *messages.Spot:
		return r.handler.HandleSpot(ctx, m, sender)
	default:
		// A decoder registered at construction can produce a type with no
		// matching handler operation; drop rather than fail.
		r.logger.Debug("no handler operation for resolved type",
			slog.String("tag", msg.Tag()),
			slog.String("sender", sender.String()))
		r.drop("no_handler")
		return nil
	}
}

func (r *Router) drop(reason string) {
	if r.metrics != nil {
		r.metrics.MessagesDropped.WithLabelValues(reason).Inc()
	}
}
