// Package pubsub publishes run notifications to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
)

// Publisher wraps a Pub/Sub topic handle.
type Publisher struct {
	topic *pubsub.Topic
}

// New creates a Publisher bound to topic.
func New(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals payload to JSON and publishes it on the bound topic. The
// kind is recorded as the "kind" attribute next to the trace context.
func (p *Publisher) Publish(ctx context.Context, kind string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	if kind != "" {
		msg.Attributes["kind"] = kind
	}
	otel.GetTextMapPropagator().Inject(ctx, &carrier{attrs: msg.Attributes})

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages and releases publish goroutines.
func (p *Publisher) Stop() {
	if p != nil && p.topic != nil {
		p.topic.Stop()
	}
}

// carrier implements propagation.TextMapCarrier for message attributes.
type carrier struct {
	attrs map[string]string
}

func (c *carrier) Get(key string) string {
	return c.attrs[key]
}

func (c *carrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *carrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
