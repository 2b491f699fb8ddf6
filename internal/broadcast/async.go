package broadcast

import (
	"context"
	"sync"

	"ripeness-monitor/internal/metrics"

	"go.uber.org/zap"
)

// DefaultQueueSize bounds the async broadcast queue
const DefaultQueueSize = 256

type message struct {
	topic   string
	payload interface{}
}

// Async decouples callers from a slow broadcaster. Publish never blocks: when
// the queue is full the message is dropped and logged.
type Async struct {
	next   Broadcaster
	name   string
	queue  chan message
	logger *zap.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// NewAsync starts a worker relaying queued messages to next
func NewAsync(next Broadcaster, name string, size int, logger *zap.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &Async{
		next:   next,
		name:   name,
		queue:  make(chan message, size),
		logger: logger,
	}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *Async) run() {
	defer a.wg.Done()
	for m := range a.queue {
		if err := a.next.Publish(context.Background(), m.topic, m.payload); err != nil {
			metrics.BroadcastErrorTotal.WithLabelValues(a.name).Inc()
			a.logger.Warn("broadcast failed",
				zap.String("sink", a.name),
				zap.String("topic", m.topic),
				zap.Error(err),
			)
		}
	}
}

// Publish enqueues the message; it always returns nil
func (a *Async) Publish(_ context.Context, topic string, payload interface{}) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return nil
	}

	select {
	case a.queue <- message{topic: topic, payload: payload}:
	default:
		metrics.BroadcastDroppedTotal.Inc()
		a.logger.Warn("broadcast queue full, dropping message",
			zap.String("sink", a.name),
			zap.String("topic", topic),
		)
	}
	return nil
}

// Close stops accepting messages and waits for the queue to drain
func (a *Async) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	a.wg.Wait()
}
