// Package reconcile merges pushed auction state into the canonical view.
//
// Every inbound handler runs on the channel's reader goroutine, so frames of
// one kind are applied strictly in arrival order.
package reconcile

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/shared/models"
	"github.com/linluma/gavel/shared/observable"
	"github.com/rs/zerolog/log"
)

var (
	// ErrProtocol marks a payload that fits neither known shape
	ErrProtocol = errors.New("protocol error")
	// ErrStale marks a message older than the view it would replace
	ErrStale = errors.New("stale message")
)

// Stats counts how inbound state messages were handled
type Stats struct {
	Applied   int64
	Discarded int64 // protocol errors
	Stale     int64
}

// Reconciler owns the canonical AuctionView
type Reconciler struct {
	clock clock.Clock

	mu       sync.Mutex
	view     models.AuctionView
	revision *int64
	rebased  bool // next snapshot is taken as is
	stats    Stats
	subs     []bus.Subscription

	current *observable.Value[models.AuctionView]

	// SnapshotApplied carries every snapshot accepted into the view
	SnapshotApplied *bus.Topic[models.AuctionView]

	BidPlaced      *bus.Topic[models.BidPlacedEvent]
	PlayerSold     *bus.Topic[models.PlayerSoldEvent]
	AuctionStarted *bus.Topic[models.AuctionStartedEvent]
	AuctionEnded   *bus.Topic[models.AuctionEndedEvent]
	Errors         *bus.Topic[models.AuctionErrorEvent]
}

// New creates a reconciler holding an empty view
func New(clk clock.Clock) *Reconciler {
	if clk == nil {
		clk = clock.New()
	}
	return &Reconciler{
		clock:           clk,
		current:         observable.New(models.AuctionView{}),
		SnapshotApplied: bus.NewTopic[models.AuctionView](),
		BidPlaced:       bus.NewTopic[models.BidPlacedEvent](),
		PlayerSold:      bus.NewTopic[models.PlayerSoldEvent](),
		AuctionStarted:  bus.NewTopic[models.AuctionStartedEvent](),
		AuctionEnded:    bus.NewTopic[models.AuctionEndedEvent](),
		Errors:          bus.NewTopic[models.AuctionErrorEvent](),
	}
}

// Attach subscribes the reconciler to every inbound kind on b
func (r *Reconciler) Attach(b *bus.Bus) error {
	handlers := map[bus.Kind]func(bus.Frame){
		bus.KindStateUpdate:    r.onSnapshot,
		bus.KindTimerUpdate:    r.onTick,
		bus.KindBidPlaced:      r.onBidPlaced,
		bus.KindPlayerSold:     r.onPlayerSold,
		bus.KindAuctionStarted: r.onAuctionStarted,
		bus.KindAuctionEnded:   r.onAuctionEnded,
		bus.KindError:          r.onError,
	}

	subs := make([]bus.Subscription, 0, len(handlers))
	for _, kind := range bus.Kinds {
		sub, err := b.Subscribe(kind, handlers[kind])
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("attach reconciler: %w", err)
		}
		subs = append(subs, sub)
	}

	r.mu.Lock()
	r.subs = append(r.subs, subs...)
	r.mu.Unlock()
	return nil
}

// Detach drops every bus subscription made by Attach
func (r *Reconciler) Detach() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, s := range subs {
		s.Unsubscribe()
	}
}

// View returns a private copy of the canonical view
func (r *Reconciler) View() models.AuctionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view.Clone()
}

// Watch registers fn for every replacement of the view. fn receives a copy.
func (r *Reconciler) Watch(fn func(models.AuctionView)) bus.Subscription {
	return r.current.Watch(func(v models.AuctionView) { fn(v.Clone()) })
}

// Stats returns the message counters
func (r *Reconciler) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Reset empties the view so stale winning state is never shown as current
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.view = models.AuctionView{}
	r.revision = nil
	r.mu.Unlock()

	r.current.Set(models.AuctionView{})
	log.Info().Msg("auction view reset")
}

// Rebase drops the ordering baseline so the next snapshot is accepted
// whatever its revision or bid. Called when a new connection opens: the
// server may have moved on, or restarted its revision counter, meanwhile.
func (r *Reconciler) Rebase() {
	r.mu.Lock()
	r.revision = nil
	r.rebased = true
	r.mu.Unlock()
}

// ApplySnapshot replaces the view wholesale with the decoded snapshot.
// On error the view is left untouched.
func (r *Reconciler) ApplySnapshot(raw []byte) error {
	snap, err := decodeSnapshot(raw)
	if err != nil {
		r.count(func(s *Stats) { s.Discarded++ })
		return err
	}

	r.mu.Lock()
	if !r.rebased {
		if err := r.checkStaleLocked(snap); err != nil {
			r.stats.Stale++
			r.mu.Unlock()
			return err
		}
	}
	r.rebased = false
	r.view = snap.view
	if snap.revision != nil {
		rev := *snap.revision
		r.revision = &rev
	}
	r.stats.Applied++
	next := r.view.Clone()
	r.mu.Unlock()

	r.current.Set(next)
	r.SnapshotApplied.Publish(next.Clone())
	return nil
}

// checkStaleLocked rejects snapshots that would move the view backwards.
// A revision, when both sides carry one, decides alone. Otherwise a lower
// bid is stale only while the same player's auction is still running on
// both sides; a stopped auction may legitimately clear its bid.
func (r *Reconciler) checkStaleLocked(snap snapshot) error {
	if snap.revision != nil && r.revision != nil {
		if *snap.revision < *r.revision {
			return fmt.Errorf("%w: revision %d behind %d", ErrStale, *snap.revision, *r.revision)
		}
		return nil
	}

	prev := r.view
	if prev.IsRunning && snap.view.IsRunning &&
		prev.CurrentPlayerID() != "" &&
		prev.CurrentPlayerID() == snap.view.CurrentPlayerID() &&
		snap.view.HighestBid < prev.HighestBid {
		return fmt.Errorf("%w: highestBid %d below %d for player %s",
			ErrStale, snap.view.HighestBid, prev.HighestBid, prev.CurrentPlayerID())
	}
	return nil
}

// ApplyTick updates only timerSeconds. Ticks for another player, or while
// nothing is running, are discarded as stale.
func (r *Reconciler) ApplyTick(raw []byte) error {
	update, err := decodeTick(raw)
	if err != nil {
		r.count(func(s *Stats) { s.Discarded++ })
		return err
	}

	r.mu.Lock()
	current := r.view.CurrentPlayerID()
	if !r.view.IsRunning || (update.PlayerID != "" && update.PlayerID != current) {
		r.stats.Stale++
		r.mu.Unlock()
		return fmt.Errorf("%w: tick for player %q, current %q", ErrStale, update.PlayerID, current)
	}
	// Republished even when unchanged: every authoritative tick resyncs the display.
	r.view.TimerSeconds = update.TimerSeconds
	r.stats.Applied++
	next := r.view.Clone()
	r.mu.Unlock()

	r.current.Set(next)
	return nil
}

func (r *Reconciler) count(fn func(*Stats)) {
	r.mu.Lock()
	fn(&r.stats)
	r.mu.Unlock()
}

func (r *Reconciler) stamp(frame bus.Frame) time.Time {
	if frame.ReceivedAt.IsZero() {
		return r.clock.Now()
	}
	return frame.ReceivedAt
}

func (r *Reconciler) onSnapshot(frame bus.Frame) {
	if err := r.ApplySnapshot(frame.Payload); err != nil {
		logRejected(frame.Kind, err)
	}
}

func (r *Reconciler) onTick(frame bus.Frame) {
	if err := r.ApplyTick(frame.Payload); err != nil {
		logRejected(frame.Kind, err)
	}
}

func (r *Reconciler) onBidPlaced(frame bus.Frame) {
	var event models.BidPlacedEvent
	if !r.decodeEvent(frame, &event) {
		return
	}
	event.ReceivedAt = r.stamp(frame)
	log.Debug().Str("player_id", event.PlayerID).Str("team_id", event.TeamID).Int64("bid", event.BidAmount).Msg("bid placed")
	r.BidPlaced.Publish(event)
}

func (r *Reconciler) onPlayerSold(frame bus.Frame) {
	var event models.PlayerSoldEvent
	if !r.decodeEvent(frame, &event) {
		return
	}
	event.ReceivedAt = r.stamp(frame)
	log.Info().Str("player_id", event.PlayerID).Str("team_id", event.TeamID).Int64("final_price", event.FinalPrice).Msg("player sold")
	r.PlayerSold.Publish(event)
}

func (r *Reconciler) onAuctionStarted(frame bus.Frame) {
	var event models.AuctionStartedEvent
	if !r.decodeEvent(frame, &event) {
		return
	}
	event.ReceivedAt = r.stamp(frame)
	r.AuctionStarted.Publish(event)
}

func (r *Reconciler) onAuctionEnded(frame bus.Frame) {
	var event models.AuctionEndedEvent
	if !r.decodeEvent(frame, &event) {
		return
	}
	event.ReceivedAt = r.stamp(frame)
	r.AuctionEnded.Publish(event)
}

func (r *Reconciler) onError(frame bus.Frame) {
	var push errorPush
	if !r.decodeEvent(frame, &push) {
		return
	}
	event := models.AuctionErrorEvent{
		Message:    push.Message,
		Code:       push.code(),
		ReceivedAt: r.stamp(frame),
	}
	log.Warn().Str("code", event.Code).Msg("server rejected command: " + event.Message)
	r.Errors.Publish(event)
}

func (r *Reconciler) decodeEvent(frame bus.Frame, into any) bool {
	if err := json.Unmarshal(frame.Payload, into); err != nil {
		r.count(func(s *Stats) { s.Discarded++ })
		logRejected(frame.Kind, fmt.Errorf("%w: %v", ErrProtocol, err))
		return false
	}
	return true
}

func logRejected(kind bus.Kind, err error) {
	if errors.Is(err, ErrStale) {
		log.Debug().Err(err).Str("kind", string(kind)).Msg("discarding stale message")
		return
	}
	log.Warn().Err(err).Str("kind", string(kind)).Msg("discarding malformed message")
}
