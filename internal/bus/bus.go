// Package bus delivers check progress to subscribers without blocking the
// check itself.
package bus

import (
	eventbus "github.com/asaskevich/EventBus"
)

// TopicProgress carries progress status strings.
const TopicProgress = "check.progress"

type Subscriber interface {
	Subscribe(topic string, fn any) error
	SubscribeAsync(topic string, fn any, transactional bool) error
	Unsubscribe(topic string, handler any) error
}

type Publisher interface {
	Publish(topic string, args ...any)
}

type Bus interface {
	Subscriber
	Publisher
	// WaitAsync blocks until all asynchronous handlers have returned.
	WaitAsync()
}

func New() Bus {
	return &EventBus{eventbus.New()}
}

type EventBus struct {
	bus eventbus.Bus
}

func (e *EventBus) Publish(topic string, args ...any) {
	e.bus.Publish(topic, args...)
}

func (e *EventBus) Subscribe(topic string, handler any) error {
	return e.bus.Subscribe(topic, handler)
}

func (e *EventBus) SubscribeAsync(topic string, handler any, transactional bool) error {
	return e.bus.SubscribeAsync(topic, handler, transactional)
}

func (e *EventBus) Unsubscribe(topic string, handler any) error {
	return e.bus.Unsubscribe(topic, handler)
}

func (e *EventBus) WaitAsync() {
	e.bus.WaitAsync()
}

// ProgressReporter publishes check progress on TopicProgress.
type ProgressReporter struct {
	pub Publisher
}

func NewProgressReporter(pub Publisher) *ProgressReporter {
	return &ProgressReporter{pub: pub}
}

func (r *ProgressReporter) PublishProgress(status string) {
	r.pub.Publish(TopicProgress, status)
}
