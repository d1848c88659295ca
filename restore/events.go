package restore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type EventKind string

const (
	EventProcessing EventKind = "processing"
	EventSuccess    EventKind = "success"
	EventError      EventKind = "error"
)

const (
	DefaultDispatchBuffer = 256
	DefaultSinkTimeout    = 10 * time.Second
)

// Event describes one lifecycle transition of a client request. Payload holds
// the raw upstream entitlement document for success events.
type Event struct {
	Kind       EventKind       `json:"kind"`
	ClientId   string          `json:"client_id"`
	Username   string          `json:"username"`
	IP         string          `json:"ip,omitempty"`
	Uid        string          `json:"uid,omitempty"`
	ProductId  string          `json:"product_identifier,omitempty"`
	Note       string          `json:"note,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Sink delivers events somewhere outside the process.
type Sink interface {
	Name() string
	Emit(ctx context.Context, ev Event) error
}

// Dispatcher fans events out to sinks on its own goroutine. Emit never blocks
// the caller; events are dropped when the buffer is full.
type Dispatcher struct {
	sinks   []Sink
	events  chan Event
	timeout time.Duration
	logger  *logrus.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	start  sync.Once
}

func NewDispatcher(logger *logrus.Logger, buffer int, sinkTimeout time.Duration, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultDispatchBuffer
	}
	if sinkTimeout <= 0 {
		sinkTimeout = DefaultSinkTimeout
	}
	return &Dispatcher{
		sinks:   sinks,
		events:  make(chan Event, buffer),
		timeout: sinkTimeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Start launches the delivery goroutine. Calling it more than once is a no-op.
func (d *Dispatcher) Start() {
	d.start.Do(func() {
		go d.run()
	})
}

func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.events <- ev:
	default:
		d.logger.WithFields(logrus.Fields{
			"field":     "dispatcher",
			"kind":      ev.Kind,
			"client_id": ev.ClientId,
		}).Warn("notification buffer full; event dropped")
	}
}

// Close stops accepting events, delivers what is already buffered and waits
// for the delivery goroutine to exit or ctx to be done.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	d.Start()
	select {
	case <-d.done:
	case <-ctx.Done():
		d.logger.WithField("field", "dispatcher").Warn("dispatcher close timed out with events pending")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for ev := range d.events {
		for _, s := range d.sinks {
			d.deliver(s, ev)
		}
	}
}

func (d *Dispatcher) deliver(s Sink, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logrus.Fields{
				"field": "dispatcher",
				"sink":  s.Name(),
			}).Errorf("sink panicked: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := s.Emit(ctx, ev); err != nil {
		d.logger.WithFields(logrus.Fields{
			"field":     "dispatcher",
			"sink":      s.Name(),
			"kind":      ev.Kind,
			"client_id": ev.ClientId,
		}).Error("notification delivery failed: " + err.Error())
	}
}
