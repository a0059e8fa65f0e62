// Package pubsub announces accepted catalog items on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/JakeFAU/catalog-crawler/internal/crawler"
)

// Config names the topic accepted items are published to.
type Config struct {
	ProjectID string
	TopicName string
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
	Stop()
}

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	topic  topic
	client *pubsub.Client
}

// New wraps an existing topic. The caller keeps ownership of its client.
func New(t *pubsub.Topic) *Publisher {
	if t == nil {
		return &Publisher{}
	}
	return &Publisher{topic: t}
}

// Open connects to cfg.ProjectID and returns a publisher for cfg.TopicName.
func Open(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.TopicName == "" {
		return nil, errors.New("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{topic: client.Topic(cfg.TopicName), client: client}, nil
}

// Publish marshals the payload to JSON and waits for the server-assigned ID.
// The topic argument is informational; the publisher is bound to one topic.
func (p *Publisher) Publish(ctx context.Context, _ string, payload any) (string, error) {
	if p.topic == nil {
		return "", errors.New("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	msg := &pubsub.Message{Data: data, Attributes: attributes(payload)}
	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Close flushes pending messages and releases the client if Open created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client == nil {
		return nil
	}
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("close pubsub client: %w", err)
	}
	return nil
}

// attributes lifts routing fields out of catalog items so subscribers can filter.
func attributes(payload any) map[string]string {
	var item crawler.CatalogItem
	switch v := payload.(type) {
	case crawler.CatalogItem:
		item = v
	case *crawler.CatalogItem:
		if v == nil {
			return nil
		}
		item = *v
	default:
		return nil
	}
	return map[string]string{
		"hash":     item.Hash,
		"category": item.Category,
		"filename": item.ImageFilename,
	}
}
