package notify

import (
	"context"

	"github.com/mmdatafocus/restore_backend/config"
	"github.com/mmdatafocus/restore_backend/restore"
)

// PublishFunc matches config.PublishJSON.
type PublishFunc func(ctx context.Context, topic string, obj any, attrs map[string]string) (string, error)

// PubSubSink publishes every event as JSON to one topic.
type PubSubSink struct {
	Topic   string
	Publish PublishFunc
}

func NewPubSubSink(topic string) *PubSubSink {
	return &PubSubSink{Topic: topic, Publish: config.PublishJSON}
}

func (s *PubSubSink) Name() string { return "pubsub" }

func (s *PubSubSink) Emit(ctx context.Context, ev restore.Event) error {
	_, err := s.Publish(ctx, s.Topic, ev, map[string]string{
		"kind":      string(ev.Kind),
		"client_id": ev.ClientId,
	})
	return err
}
