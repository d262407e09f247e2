package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventRequestReceived  EventType = "request_received"
	EventRouteNotFound    EventType = "route_not_found"
	EventUpstreamError    EventType = "upstream_error"
	EventDuplexOpened     EventType = "duplex_opened"
	EventDuplexClosed     EventType = "duplex_closed"
	EventSessionCompleted EventType = "session_completed"
)

type Event struct {
	Type       EventType
	Timestamp  time.Time
	Route      string
	Mode       string
	Duration   time.Duration
	StatusCode int
	Reason     string
}

type Collector struct {
	eventCh chan Event
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan Event, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

func (c *Collector) EventChannel() chan<- Event {
	return c.eventCh
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event Event) {
	switch event.Type {
	case EventRequestReceived:
		c.metrics.IncrementRequests()

	case EventRouteNotFound:
		c.metrics.IncrementRouteNotFound()

	case EventUpstreamError:
		c.metrics.IncrementUpstreamErrors()

	case EventDuplexOpened:
		c.metrics.DuplexOpened()

	case EventDuplexClosed:
		c.metrics.DuplexClosed(event.Reason)

	case EventSessionCompleted:
		c.metrics.RecordSession(event.Route, event.Mode, event.Duration, event.StatusCode)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot() Snapshot {
	return c.metrics.Snapshot()
}
