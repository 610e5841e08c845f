package main

import (
	"context"
	"errors"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/sethvargo/go-retry"
)

const (
	jitterWindow = 250 * time.Millisecond
	maxBackoff   = 10 * time.Second
)

type pubSubClient interface {
	Ping(context.Context) error
	Publisher(name string) *gcppubsub.Publisher
}

type publisherFactory func(topic string) publisher

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
	// ResumePublish lifts the pause Pub/Sub puts on an ordering key once a
	// publish under that key fails.
	ResumePublish(orderingKey string)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// topicPublishers hands out one ordering-enabled publisher per topic.
type topicPublishers struct {
	client pubSubClient

	mu    sync.Mutex
	byTop map[string]publisher
}

func newTopicPublishers(client pubSubClient) *topicPublishers {
	return &topicPublishers{client: client, byTop: make(map[string]publisher)}
}

func (t *topicPublishers) get(topic string) publisher {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.byTop[topic]; ok {
		return p
	}
	raw := t.client.Publisher(topic)
	if raw == nil {
		return nil
	}
	// without this the client rejects messages carrying an ordering key
	raw.EnableMessageOrdering = true
	p := orderedPublisher{raw}
	t.byTop[topic] = p
	return p
}

type orderedPublisher struct {
	raw *gcppubsub.Publisher
}

func (p orderedPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	return ackHandle{p.raw.Publish(ctx, msg)}
}

func (p orderedPublisher) ResumePublish(key string) { p.raw.ResumePublish(key) }

type ackHandle struct {
	res *gcppubsub.PublishResult
}

func (h ackHandle) Get(ctx context.Context) (string, error) {
	if h.res == nil {
		return "", errors.New("pubsub returned no publish result")
	}
	return h.res.Get(ctx)
}

// failureBackoff spaces out consecutive failed batches, doubling from base
// and never waiting longer than maxBackoff plus jitter.
func failureBackoff(base time.Duration) retry.Backoff {
	return retry.WithJitter(jitterWindow, retry.WithCappedDuration(maxBackoff, retry.NewExponential(base)))
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
