package storage

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ericfisherdev/hairscope-lab/internal/metrics"
)

const subscriberBuffer = 16

// hub is an in-process publish/subscribe fan-out used by backends that have
// no native notification channel.
type hub struct {
	mu       sync.RWMutex
	channels map[string]map[*hubSubscriber]struct{}
	logger   *slog.Logger
	live     prometheus.Gauge
}

type hubSubscriber struct {
	ch     chan Change
	closed bool
}

func newHub(backend string, logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{
		channels: make(map[string]map[*hubSubscriber]struct{}),
		logger:   logger,
		live:     metrics.StorageSubscribers.WithLabelValues(backend),
	}
}

func (h *hub) publish(channel string, change Change) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.channels[channel] {
		select {
		case sub.ch <- change:
		default:
			// Drop if receiver is slow
			h.logger.Debug("Dropped change notice for slow subscriber", "channel", channel, "kind", change.Kind)
		}
	}
}

func (h *hub) subscribe(ctx context.Context, channel string) *Subscription {
	sub := &hubSubscriber{ch: make(chan Change, subscriberBuffer)}

	h.mu.Lock()
	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*hubSubscriber]struct{})
	}
	h.channels[channel][sub] = struct{}{}
	h.live.Inc()
	h.mu.Unlock()

	subCtx, cancel := context.WithCancel(ctx)
	go func() {
		<-subCtx.Done()
		h.remove(channel, sub)
	}()

	return newSubscription(sub.ch, func() error {
		cancel()
		h.remove(channel, sub)
		return nil
	})
}

func (h *hub) remove(channel string, sub *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sub.closed {
		return
	}
	sub.closed = true
	h.live.Dec()
	delete(h.channels[channel], sub)
	if len(h.channels[channel]) == 0 {
		delete(h.channels, channel)
	}
	close(sub.ch)
}

// closeAll ends every subscription.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for channel, subs := range h.channels {
		for sub := range subs {
			if !sub.closed {
				sub.closed = true
				h.live.Dec()
				close(sub.ch)
			}
		}
		delete(h.channels, channel)
	}
}

