package ws

import (
	"log/slog"
	"sort"
	"sync"
)

// Event is one frame received on a topic.
type Event struct {
	Topic          Topic
	SubscriptionID uint64
	Body           []byte
}

// Subscription is the active interest in one topic. Its event channel is
// closed once the subscription is cancelled or replaced.
type Subscription struct {
	ID    uint64
	Topic Topic

	stream Stream
	events chan Event
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *Subscription) Events() <-chan Event {
	return s.events
}

func (s *Subscription) pump() {
	defer close(s.events)
	for {
		select {
		case body, ok := <-s.stream.C():
			if !ok {
				return
			}
			select {
			case s.events <- Event{Topic: s.Topic, SubscriptionID: s.ID, Body: body}:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) cancel(log *slog.Logger) {
	s.once.Do(func() {
		close(s.done)
		if err := s.stream.Unsubscribe(); err != nil {
			log.Debug("unsubscribe failed", "topic", s.Topic.String(), "error", err)
		}
	})
	s.wg.Wait()
}

// Registry tracks at most one subscription per topic.
type Registry struct {
	broker func() (Broker, bool)
	log    *slog.Logger

	subs   map[Topic]*Subscription
	nextID uint64
	mu     sync.Mutex
}

func newRegistry(broker func() (Broker, bool), log *slog.Logger) *Registry {
	return &Registry{
		broker: broker,
		log:    log.With("component", "registry"),
		subs:   make(map[Topic]*Subscription),
	}
}

// Subscribe starts delivering events for topic. An existing subscription to
// the same topic is cancelled first. When there is no live connection it
// logs, leaves the registry untouched and returns ErrNotConnected.
func (r *Registry) Subscribe(topic Topic) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.broker()
	if !ok {
		r.log.Error("subscribe while disconnected", "topic", topic.String())
		return nil, ErrNotConnected
	}

	if old, ok := r.subs[topic]; ok {
		delete(r.subs, topic)
		old.cancel(r.log)
	}

	stream, err := b.Subscribe(topic.Destination())
	if err != nil {
		r.log.Error("subscribe failed", "topic", topic.String(), "error", err)
		return nil, err
	}

	r.nextID++
	sub := &Subscription{
		ID:     r.nextID,
		Topic:  topic,
		stream: stream,
		events: make(chan Event),
		done:   make(chan struct{}),
	}
	sub.wg.Go(sub.pump)
	r.subs[topic] = sub

	r.log.Debug("subscribed", "topic", topic.String(), "subscription_id", sub.ID)
	return sub, nil
}

// Unsubscribe cancels the subscription to topic, if any.
func (r *Registry) Unsubscribe(topic Topic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[topic]; ok {
		delete(r.subs, topic)
		sub.cancel(r.log)
		r.log.Debug("unsubscribed", "topic", topic.String())
	}
}

// UnsubscribeAll cancels every tracked subscription and clears the registry.
func (r *Registry) UnsubscribeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic, sub := range r.subs {
		sub.cancel(r.log)
		delete(r.subs, topic)
	}
}

// Current returns the id of the active subscription to topic.
func (r *Registry) Current(topic Topic) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[topic]
	if !ok {
		return 0, false
	}
	return sub.ID, true
}

// IsCurrent reports whether an event from subscription id on topic may still
// be applied.
func (r *Registry) IsCurrent(topic Topic, id uint64) bool {
	current, ok := r.Current(topic)
	return ok && current == id
}

func (r *Registry) Topics() []Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	topics := make([]Topic, 0, len(r.subs))
	for t := range r.subs {
		topics = append(topics, t)
	}
	sort.Slice(topics, func(i, j int) bool {
		return topics[i].String() < topics[j].String()
	})
	return topics
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}
