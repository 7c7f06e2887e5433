package graduation

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"agent-launchpad/internal/domain"
)

// Publisher announces graduation events to follow-up consumers.
type Publisher interface {
	Publish(ctx context.Context, e *domain.GraduationEvent) error
}

// Handler processes one delivered graduation event.
type Handler func(ctx context.Context, e *domain.GraduationEvent) error

// Consumer delivers published events to a handler until ctx is done.
type Consumer interface {
	Consume(ctx context.Context, workers int, handler Handler) error
}

// ErrQueueFull is returned by ChannelQueue.Publish when the buffer is full.
var ErrQueueFull = errors.New("graduation event queue full")

// ChannelQueue is an in-process Publisher and Consumer.
type ChannelQueue struct {
	events chan *domain.GraduationEvent
	logger *zap.Logger
}

// NewChannelQueue creates an in-process queue holding up to size events.
func NewChannelQueue(size int, logger *zap.Logger) *ChannelQueue {
	if size <= 0 {
		size = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChannelQueue{events: make(chan *domain.GraduationEvent, size), logger: logger}
}

// Publish enqueues e without blocking.
func (q *ChannelQueue) Publish(_ context.Context, e *domain.GraduationEvent) error {
	select {
	case q.events <- e:
		return nil
	default:
		return ErrQueueFull
	}
}

// Consume runs workers goroutines until ctx is done.
func (q *ChannelQueue) Consume(ctx context.Context, workers int, handler Handler) error {
	if workers <= 0 {
		workers = 1
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case e := <-q.events:
					if err := handler(ctx, e); err != nil {
						q.logger.Warn("graduation follow-up failed",
							zap.String("agent_id", e.AgentID),
							zap.String("event_id", e.EventID),
							zap.Error(err))
					}
				}
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Fanout publishes every event to all publishers and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, e *domain.GraduationEvent) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
