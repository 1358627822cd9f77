package server

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/MarcoPoloResearchLab/shortcuts/internal/shortcuts"
)

const (
	RealtimeEventShortcutsChanged = "shortcuts-changed"
	RealtimeEventFavoritesChanged = "favorites-changed"
	realtimeEventReady            = "ready"
	realtimeEventHeartbeat        = "heartbeat"
)

// RealtimeMessage is one change event. An empty UserEmail addresses every subscriber.
type RealtimeMessage struct {
	UserEmail string
	EventType string
	Operation string
	Version   int64
	Keys      []string
	Timestamp time.Time
}

type realtimePayload struct {
	Operation string   `json:"operation"`
	Version   int64    `json:"version"`
	Keys      []string `json:"keys"`
	Timestamp int64    `json:"timestamp"`
}

type RealtimeDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*realtimeSubscriber
	nextID      int64
	bufferSize  int
	clock       func() time.Time
}

type realtimeSubscriber struct {
	id     int64
	stream chan RealtimeMessage
}

func NewRealtimeDispatcher() *RealtimeDispatcher {
	return &RealtimeDispatcher{
		subscribers: make(map[string]map[int64]*realtimeSubscriber),
		bufferSize:  16,
		clock:       time.Now,
	}
}

func (d *RealtimeDispatcher) Subscribe(ctx context.Context, userEmail string) (<-chan RealtimeMessage, func()) {
	if userEmail == "" {
		ch := make(chan RealtimeMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &realtimeSubscriber{
		id:     d.nextSequence(),
		stream: make(chan RealtimeMessage, d.bufferSize),
	}
	d.registerSubscriber(userEmail, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userEmail, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish never blocks; a subscriber with a full buffer misses the message.
func (d *RealtimeDispatcher) Publish(message RealtimeMessage) {
	if message.EventType == "" {
		return
	}
	d.mu.RLock()
	var targets []*realtimeSubscriber
	if message.UserEmail == "" {
		for _, subscribers := range d.subscribers {
			for _, subscriber := range subscribers {
				targets = append(targets, subscriber)
			}
		}
	} else {
		for _, subscriber := range d.subscribers[message.UserEmail] {
			targets = append(targets, subscriber)
		}
	}
	d.mu.RUnlock()

	for _, subscriber := range targets {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

// NotifyChange turns committed mutations into realtime messages. Favorite changes stay with their owner.
func (d *RealtimeDispatcher) NotifyChange(event shortcuts.ChangeEvent) {
	eventType := RealtimeEventShortcutsChanged
	if event.UserEmail != "" {
		eventType = RealtimeEventFavoritesChanged
	}
	d.Publish(RealtimeMessage{
		UserEmail: event.UserEmail,
		EventType: eventType,
		Operation: event.Operation,
		Version:   event.Version,
		Keys:      event.Keys,
		Timestamp: d.clock().UTC(),
	})
}

func (d *RealtimeDispatcher) subscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	count := 0
	for _, subscribers := range d.subscribers {
		count += len(subscribers)
	}
	return count
}

func (d *RealtimeDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *RealtimeDispatcher) registerSubscriber(userEmail string, subscriber *realtimeSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userEmail]; !ok {
		d.subscribers[userEmail] = make(map[int64]*realtimeSubscriber)
	}
	d.subscribers[userEmail][subscriber.id] = subscriber
}

func (d *RealtimeDispatcher) unregisterSubscriber(userEmail string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userEmail]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userEmail)
		}
	}
	d.mu.Unlock()
}

// handleEvents streams change events until the client goes away. The first event carries the current version.
func (h *httpHandler) handleEvents(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, c.GetString(userEmailContextKey))
	defer cleanup()

	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.SSEvent(realtimeEventReady, realtimePayload{Version: h.shortcuts.Version(), Keys: []string{}})
	c.Writer.Flush()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			keys := message.Keys
			if keys == nil {
				keys = []string{}
			}
			c.SSEvent(message.EventType, realtimePayload{
				Operation: message.Operation,
				Version:   message.Version,
				Keys:      keys,
				Timestamp: message.Timestamp.UnixMilli(),
			})
			return true
		case now := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, realtimePayload{Version: h.shortcuts.Version(), Keys: []string{}, Timestamp: now.UnixMilli()})
			return true
		}
	})
}
