package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/adminboard/pkg/observability"
)

// Event is one change notification
type Event struct {
	Topic  string          `json:"topic"`
	Type   string          `json:"type"`
	ID     string          `json:"id,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
	At     int64           `json:"at"`
}

// Event types
const (
	TypeCreated      = "created"
	TypeUpdated      = "updated"
	TypeDeleted      = "deleted"
	TypeBoardUpdated = "board.updated"
)

const subscriberBuffer = 16

// HeartbeatInterval keeps idle streams open through proxies
var HeartbeatInterval = 25 * time.Second

// Bridge relays events between hubs of different instances
type Bridge interface {
	Publish(ctx context.Context, payload []byte) error
	// Run delivers remote payloads until ctx is done
	Run(ctx context.Context, deliver func([]byte)) error
	Close() error
}

// Hub is an in-process topic fan-out
type Hub struct {
	mu         sync.RWMutex
	subs       map[string]map[chan Event]struct{}
	bridge     Bridge
	instanceID string
	metrics    *observability.Metrics
	logger     *observability.Logger
}

// NewHub creates a hub. metrics may be nil.
func NewHub(metrics *observability.Metrics, logger *observability.Logger) *Hub {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Hub{
		subs:       make(map[string]map[chan Event]struct{}),
		instanceID: uuid.NewString(),
		metrics:    metrics,
		logger:     logger.WithField("component", "realtime"),
	}
}

// Subscribe returns a channel of events for topic and a cancel func that
// must be called to release it
func (h *Hub) Subscribe(topic string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan Event]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()
	h.gauge(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subs, ok := h.subs[topic]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(h.subs, topic)
				}
			}
			h.mu.Unlock()
			close(ch)
			h.gauge(-1)
		})
	}
}

// SubscribeFunc calls fn for each event on topic until cancel is called
func (h *Hub) SubscribeFunc(topic string, fn func(Event)) func() {
	ch, cancel := h.Subscribe(topic)
	go func() {
		for ev := range ch {
			fn(ev)
		}
	}()
	return cancel
}

// Publish delivers ev locally and forwards it to the bridge when attached.
// Bridge failures are logged; local delivery has already happened.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.At == 0 {
		ev.At = time.Now().UnixMilli()
	}
	ev.Origin = h.instanceID
	h.deliver(ev)

	h.mu.RLock()
	bridge := h.bridge
	h.mu.RUnlock()
	if bridge == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("failed to encode realtime event")
		return
	}
	if err := bridge.Publish(ctx, payload); err != nil {
		h.logger.WithError(err).WithField("topic", ev.Topic).Warn("failed to forward realtime event")
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[ev.Topic] {
		select {
		case ch <- ev:
		default:
			if h.metrics != nil {
				h.metrics.RealtimeDroppedMessages.Inc()
			}
		}
	}
}

// AttachBridge starts relaying remote events from b until ctx is done
func (h *Hub) AttachBridge(ctx context.Context, b Bridge) {
	h.mu.Lock()
	h.bridge = b
	h.mu.Unlock()

	go func() {
		defer observability.RecoverPanic(h.logger, "realtime bridge")
		err := b.Run(ctx, func(payload []byte) {
			var ev Event
			if err := json.Unmarshal(payload, &ev); err != nil {
				h.logger.WithError(err).Warn("dropping malformed realtime payload")
				return
			}
			if ev.Origin == h.instanceID {
				return
			}
			h.deliver(ev)
		})
		if err != nil && ctx.Err() == nil {
			h.logger.WithError(err).Error("realtime bridge stopped")
		}
	}()
}

// Subscribers returns the number of subscribers on topic
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

func (h *Hub) gauge(delta float64) {
	if h.metrics != nil {
		h.metrics.RealtimeSubscribers.Add(delta)
	}
}

// ServeSSE streams topic to one client until it disconnects
func (h *Hub) ServeSSE(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cancel := h.Subscribe(topic)
	defer cancel()

	_, _ = w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("event: " + ev.Type + "\ndata: "))
			_, _ = w.Write(data)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
