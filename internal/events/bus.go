// Package events provides the publish/subscribe backbone for backtest
// lifecycle, progress, and portfolio notifications. Publishers (the
// simulation engine, the performance tracker, the scheduler) stay
// transport-agnostic: anything interested in an event subscribes to a topic.
package events

import (
	"github.com/asaskevich/EventBus"

	"github.com/openbt/openbt/internal/logger"
)

// Topic names published by the core components.
const (
	TopicBacktestStarted   = "backtest:started"
	TopicBacktestStep      = "backtest:step"
	TopicBacktestProgress  = "backtest:progress"
	TopicBacktestCompleted = "backtest:completed"
	TopicBacktestStopped   = "backtest:stopped"
	TopicBacktestError     = "backtest:error"
	TopicSweepProgress     = "backtest:sweep_progress"
	TopicPortfolioUpdated  = "portfolio:updated"
	TopicTradeAdded        = "portfolio:trade_added"
	TopicJobUpdated        = "scheduler:job_updated"
)

// Bus is an instance-owned event bus. One Bus is constructed per scheduler
// (or per standalone engine) and injected into the components that publish
// or subscribe; there is no package-level singleton.
type Bus struct {
	bus EventBus.Bus
	log *logger.Logger
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		bus: EventBus.New(),
		log: logger.Component("events"),
	}
}

// Publish delivers an event to every subscriber of the topic.
func (b *Bus) Publish(topic string, args ...interface{}) {
	b.bus.Publish(topic, args...)
}

// Subscribe registers a synchronous handler for a topic.
func (b *Bus) Subscribe(topic string, handler interface{}) error {
	if err := b.bus.Subscribe(topic, handler); err != nil {
		return err
	}
	b.log.Debug("subscribed", "topic", topic)
	return nil
}

// SubscribeAsync registers a handler that runs in its own goroutine.
// Handlers for the same topic are not serialized.
func (b *Bus) SubscribeAsync(topic string, handler interface{}) error {
	if err := b.bus.SubscribeAsync(topic, handler, false); err != nil {
		return err
	}
	b.log.Debug("subscribed async", "topic", topic)
	return nil
}

// Unsubscribe removes a previously registered handler.
func (b *Bus) Unsubscribe(topic string, handler interface{}) error {
	return b.bus.Unsubscribe(topic, handler)
}

// WaitAsync blocks until all async handlers have finished.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}
