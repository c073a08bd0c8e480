package events

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// FailureRecorder counts handler failures.
type FailureRecorder interface {
	RecordHandlerFailure(handler, topic string)
}

type subscription struct {
	name    string
	handler Handler
}

// Router fans one delivered event out to every handler subscribed to its topic.
// Handlers run concurrently and in isolation: a failing handler is logged and
// counted but neither stops its siblings nor fails the delivery.
type Router struct {
	mu       sync.RWMutex
	subs     map[string][]subscription
	logger   *slog.Logger
	failures FailureRecorder
}

// NewRouter builds an empty router.
func NewRouter(logger *slog.Logger, failures FailureRecorder) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{subs: make(map[string][]subscription), logger: logger, failures: failures}
}

// Subscribe registers handler under name for topics.
func (r *Router) Subscribe(name string, handler Handler, topics ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range topics {
		r.subs[topic] = append(r.subs[topic], subscription{name: name, handler: handler})
	}
}

// Topics returns every topic with at least one subscriber.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics := make([]string, 0, len(r.subs))
	for topic := range r.subs {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Dispatch runs every subscriber of event.Type and waits for all of them.
func (r *Router) Dispatch(ctx context.Context, event Event) error {
	r.mu.RLock()
	subs := append([]subscription(nil), r.subs[event.Type]...)
	r.mu.RUnlock()

	if len(subs) == 0 {
		r.logger.Debug("no subscribers", slog.String("topic", event.Type))
		return nil
	}

	var g errgroup.Group
	for _, sub := range subs {
		g.Go(func() error {
			if err := sub.handler(ctx, event); err != nil {
				r.logger.Warn("event handler failed",
					slog.String("handler", sub.name),
					slog.String("topic", event.Type),
					slog.String("event_id", event.ID),
					slog.Any("error", err))
				if r.failures != nil {
					r.failures.RecordHandlerFailure(sub.name, event.Type)
				}
			}
			return nil
		})
	}
	return g.Wait()
}
