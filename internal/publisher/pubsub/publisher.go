// Package pubsub implements a Google Cloud Pub/Sub publisher for
// stored-item events.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects a client and resolves the topic handle.
func New(ctx context.Context, projectID, topicName string) (*Publisher, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{
		client: client,
		topic:  client.Topic(topicName),
	}, nil
}

// Publish marshals the payload to JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if p == nil || p.topic == nil {
		return "", fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": topic},
	})
	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes the topic and releases the client.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}
