// Package bus fans inbound auction frames out to their subscribers.
//
// The set of kinds is closed. Delivery within one kind follows publish order;
// nothing is promised across kinds.
package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Kind names an inbound push channel
type Kind string

// Inbound push channels
const (
	KindStateUpdate    Kind = "stateUpdate"
	KindTimerUpdate    Kind = "timerUpdate"
	KindBidPlaced      Kind = "bidPlaced"
	KindPlayerSold     Kind = "playerSold"
	KindAuctionStarted Kind = "auctionStarted"
	KindAuctionEnded   Kind = "auctionEnded"
	KindError          Kind = "error"
)

// Kinds lists every inbound channel
var Kinds = []Kind{
	KindStateUpdate,
	KindTimerUpdate,
	KindBidPlaced,
	KindPlayerSold,
	KindAuctionStarted,
	KindAuctionEnded,
	KindError,
}

// ErrUnknownKind is returned when subscribing to a channel outside the closed set
var ErrUnknownKind = errors.New("unknown message kind")

// Frame is one inbound push message, undecoded
type Frame struct {
	Kind       Kind
	Payload    json.RawMessage
	ReceivedAt time.Time
}

// Subscription cancels a handler registration. Unsubscribe is idempotent
// and may be called from inside the handler itself.
type Subscription interface {
	Unsubscribe()
}

type subscriber[T any] struct {
	handler func(T)
	active  atomic.Bool
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Topic is a typed fan-out list
type Topic[T any] struct {
	mu          sync.Mutex
	subscribers []*subscriber[T]
}

// NewTopic creates an empty topic
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// Subscribe registers a handler for every future value
func (t *Topic[T]) Subscribe(handler func(T)) Subscription {
	sub := &subscriber[T]{handler: handler}
	sub.active.Store(true)

	t.mu.Lock()
	t.subscribers = append(t.subscribers, sub)
	t.mu.Unlock()

	return &subscription{cancel: func() { t.remove(sub) }}
}

func (t *Topic[T]) remove(sub *subscriber[T]) {
	sub.active.Store(false)

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subscribers {
		if s == sub {
			t.subscribers = append(t.subscribers[:i:i], t.subscribers[i+1:]...)
			return
		}
	}
}

// Publish delivers value to every subscriber registered at call time.
// A subscriber cancelled mid-delivery is skipped.
func (t *Topic[T]) Publish(value T) {
	t.mu.Lock()
	snapshot := make([]*subscriber[T], len(t.subscribers))
	copy(snapshot, t.subscribers)
	t.mu.Unlock()

	for _, sub := range snapshot {
		if !sub.active.Load() {
			continue
		}
		sub.handler(value)
	}
}

// Len returns the number of live subscribers
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subscribers)
}

// Bus routes frames by kind
type Bus struct {
	topics  map[Kind]*Topic[Frame]
	dropped atomic.Int64
}

// New creates a bus with one topic per known kind
func New() *Bus {
	topics := make(map[Kind]*Topic[Frame], len(Kinds))
	for _, kind := range Kinds {
		topics[kind] = NewTopic[Frame]()
	}
	return &Bus{topics: topics}
}

// Subscribe registers handler for one kind
func (b *Bus) Subscribe(kind Kind, handler func(Frame)) (Subscription, error) {
	topic, ok := b.topics[kind]
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", kind, ErrUnknownKind)
	}
	return topic.Subscribe(handler), nil
}

// Publish dispatches a frame. Only the channel's inbound dispatcher calls this.
func (b *Bus) Publish(frame Frame) {
	topic, ok := b.topics[frame.Kind]
	if !ok {
		b.dropped.Add(1)
		log.Warn().Str("kind", string(frame.Kind)).Msg("dropping frame of unknown kind")
		return
	}
	topic.Publish(frame)
}

// Dropped returns how many frames of unknown kind were discarded
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}

// IsKnown reports whether kind belongs to the closed set
func IsKnown(kind Kind) bool {
	for _, k := range Kinds {
		if k == kind {
			return true
		}
	}
	return false
}
