package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/campaign-dispatcher/internal/domain"
)

// Publisher publishes run events to the events exchange.
type Publisher interface {
	Publish(ctx context.Context, event RunEvent) error
	Close() error
}

const (
	// EventsExchange is the topic exchange every run event is published to.
	EventsExchange = "dispatch.events"

	ProgressQueue  = "dispatch.run.progress"
	CompletedQueue = "dispatch.run.completed"
)

var eventQueues = map[string]EventKind{
	ProgressQueue:  EventKindProgress,
	CompletedQueue: EventKindCompleted,
}

// RoutingKey returns the topic key for an event, e.g. run.completed.twilio.
func RoutingKey(kind EventKind, provider domain.Provider) string {
	return fmt.Sprintf("run.%s.%s", kind, strings.ToLower(provider.String()))
}

// bindingKey matches every provider for one event kind.
func bindingKey(kind EventKind) string {
	return fmt.Sprintf("run.%s.*", kind)
}

// DLQName returns the dead-letter queue name for an event queue, e.g. dlq.dispatch.run.progress.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// EventQueueNames returns the durable queues bound to the events exchange.
func EventQueueNames() []string {
	return []string{ProgressQueue, CompletedQueue}
}
