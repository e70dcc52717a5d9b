// Package activitymap flattens gateway activity into audit records.
package activitymap

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-gateway"
)

// MetadataKeyActorType stores auth.ActorRef.Type on the record.
const MetadataKeyActorType = "actor_type"

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "anonymous"
)

// redactedKeys never leave the process in an audit record.
var redactedKeys = map[string]struct{}{
	"password": {},
	"pin":      {},
	"token":    {},
}

// Record is the audit shape written for every activity event.
type Record struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Option func(*options)

type options struct {
	channel       string
	actorFallback string
}

// WithChannel overrides the "auth" channel.
func WithChannel(channel string) Option {
	return func(o *options) {
		if channel = strings.TrimSpace(channel); channel != "" {
			o.channel = channel
		}
	}
}

// WithActorFallback sets the actor used when the event has neither an
// actor nor a user id, such as a failed login.
func WithActorFallback(actorID string) Option {
	return func(o *options) {
		if actorID = strings.TrimSpace(actorID); actorID != "" {
			o.actorFallback = actorID
		}
	}
}

// Normalize converts an event into a Record.
func Normalize(event auth.ActivityEvent, opts ...Option) Record {
	o := options{channel: defaultChannel, actorFallback: defaultActorID}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	return Record{
		ActorID:    firstNonEmpty(strings.TrimSpace(event.Actor.ID), strings.TrimSpace(event.UserID), o.actorFallback),
		Verb:       string(event.EventType),
		ObjectType: defaultObjectType,
		ObjectID:   strings.TrimSpace(event.UserID),
		Channel:    o.channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt.UTC(),
	}
}

// Sink writes a Record per event through an auth.Logger.
type Sink struct {
	logger auth.Logger
	opts   []Option
}

var _ auth.ActivitySink = (*Sink)(nil)

func NewSink(logger auth.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = auth.NewSlogLogger(nil)
	}
	return &Sink{logger: logger, opts: opts}
}

// Record implements auth.ActivitySink.
func (s *Sink) Record(_ context.Context, event auth.ActivityEvent) error {
	r := Normalize(event, s.opts...)
	s.logger.Info("audit",
		"verb", r.Verb,
		"actor_id", r.ActorID,
		"object_id", r.ObjectID,
		"channel", r.Channel,
		"metadata", r.Metadata,
		"occurred_at", r.OccurredAt,
	)
	return nil
}

func metadata(event auth.ActivityEvent) map[string]any {
	var out map[string]any
	for key, value := range event.Metadata {
		if _, secret := redactedKeys[strings.ToLower(key)]; secret {
			continue
		}
		if out == nil {
			out = make(map[string]any, len(event.Metadata)+1)
		}
		out[key] = value
	}

	if actorType := strings.TrimSpace(event.Actor.Type); actorType != "" {
		if out == nil {
			out = map[string]any{}
		}
		if _, exists := out[MetadataKeyActorType]; !exists {
			out[MetadataKeyActorType] = actorType
		}
	}

	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
