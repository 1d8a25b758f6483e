// Package send turns a send request into exactly one outcome: it validates
// the request, gates it on session readiness, and dispatches it through the
// chat client under a bounded wait.
package send

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/broadcastio/wagateway/pkg/attachment"
	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/delivery"
	"github.com/broadcastio/wagateway/pkg/events"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/whatsapp"
)

const (
	// Provider is the network name reported in responses and records.
	Provider = "whatsapp"

	// ForcedFailureMarker in metadata.reference_id makes a request fail
	// logically without touching the session or client.
	ForcedFailureMarker = "FORCE_LOGICAL_FAIL"

	ForcedFailureMessage     = "Forced logical failure for testing"
	MissingFieldsMessage     = "recipient and content are required"
	InvalidAttachmentMessage = "attachment.path is required"
	NotReadyMessage          = "WhatsApp client not ready"

	DefaultTimeout = 30 * time.Second

	previewLen = 80
)

// Metadata is caller-supplied request context.
type Metadata struct {
	ReferenceID string
}

// Request is one inbound send.
type Request struct {
	Recipient  string
	Content    string
	Attachment *attachment.Ref
	Metadata   Metadata
}

// Readiness reports whether the session currently allows sends.
type Readiness interface {
	IsReady() bool
}

// Dispatcher is the part of the chat client the pipeline drives.
type Dispatcher interface {
	SendText(ctx context.Context, address, text string) (string, error)
	SendMedia(ctx context.Context, address string, media *whatsapp.Media, opts whatsapp.MediaOptions) (string, error)
}

// Recorder persists delivery records.
type Recorder interface {
	Record(ctx context.Context, d delivery.Delivery) error
}

// Options configures a Pipeline. Zero values are usable.
type Options struct {
	Timeout  time.Duration
	Resolver attachment.Resolver
	Recorder Recorder
	Bus      *bus.MessageBus
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	ready    Readiness
	client   Dispatcher
	resolver attachment.Resolver
	timeout  time.Duration
	recorder Recorder
	bus      *bus.MessageBus
}

// NewPipeline builds a pipeline over an explicitly provided readiness source
// and client.
func NewPipeline(ready Readiness, client Dispatcher, opts Options) *Pipeline {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Pipeline{
		ready:    ready,
		client:   client,
		resolver: opts.Resolver,
		timeout:  opts.Timeout,
		recorder: opts.Recorder,
		bus:      opts.Bus,
	}
}

// Send runs req through the pipeline. It never returns an error or panics;
// every failure is an Outcome.
func (p *Pipeline) Send(ctx context.Context, req Request) Outcome {
	started := time.Now().UTC()
	out := p.evaluate(ctx, req)
	p.finish(ctx, req, out, started)
	return out
}

func (p *Pipeline) evaluate(ctx context.Context, req Request) Outcome {
	if req.Metadata.ReferenceID == ForcedFailureMarker {
		return ValidationFailure{Kind: WhatsAppRejected, Detail: ForcedFailureMessage}
	}

	if req.Recipient == "" || req.Content == "" {
		return ValidationFailure{Kind: MissingFields, Detail: MissingFieldsMessage}
	}

	var path attachment.ValidatedPath
	if req.Attachment != nil {
		var err error
		path, err = p.resolver.Resolve(*req.Attachment)
		if err != nil {
			return ValidationFailure{Kind: InvalidAttachment, Detail: InvalidAttachmentMessage, Reason: err.Error()}
		}
	}

	// Readiness is re-read for every request; a session that drops between
	// this check and the dispatch surfaces as a DispatchFailure.
	if !p.ready.IsReady() {
		return NotReady{Detail: NotReadyMessage}
	}

	address := whatsapp.NormalizeAddress(req.Recipient)

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messageID, err := p.dispatch(dctx, address, req.Content, path)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return DispatchFailure{Detail: fmt.Sprintf("send timed out after %s", p.timeout)}
		}
		return DispatchFailure{Detail: err.Error()}
	}
	return Success{MessageID: messageID}
}

func (p *Pipeline) dispatch(ctx context.Context, address, content string, path attachment.ValidatedPath) (messageID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("whatsapp client panic: %v", r)
		}
	}()

	if path == "" {
		return p.client.SendText(ctx, address, content)
	}

	media, err := whatsapp.LoadMedia(string(path))
	if err != nil {
		return "", err
	}
	return p.client.SendMedia(ctx, address, media, whatsapp.MediaOptions{Caption: content})
}

// finish logs, records and publishes the outcome.
func (p *Pipeline) finish(ctx context.Context, req Request, out Outcome, started time.Time) {
	finished := time.Now().UTC()
	d := delivery.Delivery{
		ID:          uuid.NewString(),
		Provider:    Provider,
		Recipient:   req.Recipient,
		ReferenceID: req.Metadata.ReferenceID,
		Kind:        Kind(out),
		Attachment:  req.Attachment != nil,
		StartedAt:   started,
		FinishedAt:  finished,
		DurationMS:  finished.Sub(started).Milliseconds(),
	}

	fields := map[string]interface{}{
		"delivery_id": d.ID,
		"recipient":   req.Recipient,
		"outcome":     d.Kind,
		"duration_ms": d.DurationMS,
	}
	if d.ReferenceID != "" {
		fields["reference_id"] = d.ReferenceID
	}

	eventType := events.MessageFailed
	switch v := out.(type) {
	case Success:
		d.Success = true
		d.MessageID = v.MessageID
		fields["message_id"] = v.MessageID
		eventType = events.MessageOutbound
		logger.InfoCF("send", "Message sent", fields)
	case ValidationFailure:
		d.ErrorCode = string(v.Kind)
		d.ErrorMessage = v.Detail
		if v.Reason != "" {
			d.ErrorMessage = v.Reason
		}
		fields["error"] = d.ErrorMessage
		eventType = events.MessageRejected
		logger.WarnCF("send", "Send rejected", fields)
	case NotReady:
		d.ErrorMessage = v.Detail
		fields["error"] = v.Detail
		logger.WarnCF("send", "Send refused, session not ready", fields)
	case DispatchFailure:
		d.ErrorMessage = v.Detail
		fields["error"] = v.Detail
		logger.ErrorCF("send", "Send failed", fields)
	}

	if p.recorder != nil {
		// detached so a cancelled request still leaves a record
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if err := p.recorder.Record(rctx, d); err != nil {
			logger.WarnCF("send", "Failed to record delivery", map[string]interface{}{
				"delivery_id": d.ID,
				"error":       err.Error(),
			})
		}
		cancel()
	}

	if p.bus != nil {
		p.bus.PublishOutbound(events.New(eventType, "send", events.MessageEventData{
			DeliveryID:  d.ID,
			MessageID:   d.MessageID,
			Recipient:   req.Recipient,
			ReferenceID: d.ReferenceID,
			Preview:     events.Truncate(strings.TrimSpace(req.Content), previewLen),
			Attachment:  d.Attachment,
			Code:        d.ErrorCode,
			Error:       d.ErrorMessage,
			Timestamp:   finished,
		}))
	}
}
