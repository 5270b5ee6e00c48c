// Package session bundles the synchronization core for one terminal.
//
// A Session is constructed explicitly and handed to whatever presents it;
// nothing in the core is looked up globally.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/auction/channel"
	"github.com/linluma/gavel/auction/countdown"
	"github.com/linluma/gavel/auction/eligibility"
	"github.com/linluma/gavel/auction/reconcile"
	"github.com/linluma/gavel/shared/models"
	"github.com/linluma/gavel/shared/observable"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotEligible is returned by Bid when the local team may not bid now
	ErrNotEligible = errors.New("not eligible to bid")
	// ErrNoPendingPlayers is returned when the roster has nobody left to auction
	ErrNoPendingPlayers = errors.New("no pending players")
)

// TeamFetcher re-reads a team record
type TeamFetcher interface {
	GetTeam(ctx context.Context, id string) (models.Team, error)
}

// PlayerLister reads the roster by status
type PlayerLister interface {
	ListPlayersByStatus(ctx context.Context, status models.PlayerStatus) ([]models.Player, error)
}

// Resources is the part of the resource API the core needs
type Resources interface {
	TeamFetcher
	PlayerLister
}

// Config holds session configuration
type Config struct {
	Endpoint       string
	Channel        channel.Config
	Actor          eligibility.Actor
	RefreshTimeout time.Duration
}

// Option customizes a Session
type Option func(*options)

type options struct {
	clock clock.Clock
	dial  channel.DialFunc
}

// WithClock injects the clock shared by the channel, reconciler and countdown
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithDialFunc replaces the websocket dialer
func WithDialFunc(dial channel.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// Session is the synchronization-core context
type Session struct {
	ID string

	Bus        *bus.Bus
	Channel    *channel.Manager
	Reconciler *reconcile.Reconciler
	Countdown  *countdown.Countdown
	Commands   *channel.Commands
	Notices    *bus.Topic[SoldNotice]

	config    Config
	resources Resources

	actor       *observable.Value[eligibility.Actor]
	eligibility *observable.Value[eligibility.Result]

	recomputeMu sync.Mutex
	subs        []bus.Subscription
	refreshes   sync.WaitGroup
	closeOnce   sync.Once
}

// New wires a session. res may be nil for roles that never refresh budgets
// or pick players.
func New(cfg Config, res Resources, opts ...Option) (*Session, error) {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 10 * time.Second
	}

	b := bus.New()
	channelOpts := []channel.Option{channel.WithClock(o.clock)}
	if o.dial != nil {
		channelOpts = append(channelOpts, channel.WithDialFunc(o.dial))
	}
	mgr := channel.NewManager(b, cfg.Channel, channelOpts...)

	rec := reconcile.New(o.clock)
	if err := rec.Attach(b); err != nil {
		return nil, err
	}

	s := &Session{
		ID:          uuid.New().String(),
		Bus:         b,
		Channel:     mgr,
		Reconciler:  rec,
		Countdown:   countdown.New(o.clock),
		Commands:    channel.NewCommands(mgr),
		Notices:     bus.NewTopic[SoldNotice](),
		config:      cfg,
		resources:   res,
		actor:       observable.New(cfg.Actor),
		eligibility: observable.New(eligibility.Result{}),
	}

	s.subs = append(s.subs,
		rec.Watch(s.onView),
		mgr.WatchState(s.onState),
		s.actor.Watch(func(eligibility.Actor) { s.recompute() }),
		rec.PlayerSold.Subscribe(s.onPlayerSold),
		rec.SnapshotApplied.Subscribe(func(models.AuctionView) { mgr.SnapshotApplied() }),
	)
	s.recompute()

	log.Info().Str("session_id", s.ID).Str("team_id", cfg.Actor.TeamID).Msg("session created")
	return s, nil
}

// Connect opens the auction channel
func (s *Session) Connect(ctx context.Context) error {
	return s.Channel.Connect(ctx, s.config.Endpoint)
}

// Close disconnects and releases every subscription
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.Channel.Disconnect()
		s.Countdown.Stop()
		s.Reconciler.Detach()
		for _, sub := range s.subs {
			sub.Unsubscribe()
		}
		s.refreshes.Wait()
	})
	return err
}

// View returns a copy of the canonical view
func (s *Session) View() models.AuctionView {
	return s.Reconciler.View()
}

// Actor returns the local team context
func (s *Session) Actor() eligibility.Actor {
	return s.actor.Get()
}

// SetActor replaces the local team context
func (s *Session) SetActor(actor eligibility.Actor) {
	s.actor.Set(actor)
}

// Eligibility returns the last computed bid state
func (s *Session) Eligibility() eligibility.Result {
	return s.eligibility.Get()
}

// WatchEligibility registers fn for every recomputation
func (s *Session) WatchEligibility(fn func(eligibility.Result)) bus.Subscription {
	return s.eligibility.Watch(fn)
}

// Bid places the next bid for the local team when eligible
func (s *Session) Bid() error {
	s.recompute()
	result := s.Eligibility()
	if !result.CanBid {
		reasons := make([]string, 0, len(result.Blockers))
		for _, r := range result.Blockers {
			reasons = append(reasons, string(r))
		}
		err := fmt.Errorf("%w: %s", ErrNotEligible, strings.Join(reasons, ", "))
		s.Channel.ReportError(err)
		return err
	}

	actor := s.Actor()
	return s.Commands.PlaceBid(actor.TeamID, s.View().CurrentPlayerID(), result.NextBidAmount)
}

// StartNextPending starts bidding on the first pending player in the roster
func (s *Session) StartNextPending(ctx context.Context) (models.Player, error) {
	if s.resources == nil {
		return models.Player{}, errors.New("no resource client configured")
	}
	players, err := s.resources.ListPlayersByStatus(ctx, models.PlayerPending)
	if err != nil {
		return models.Player{}, fmt.Errorf("fetch roster: %w", err)
	}
	if len(players) == 0 {
		return models.Player{}, ErrNoPendingPlayers
	}

	next := players[0]
	if err := s.Commands.StartAuction(next.ID); err != nil {
		return models.Player{}, err
	}
	log.Info().Str("player_id", next.ID).Str("player", next.Name).Msg("starting auction")
	return next, nil
}

// RefreshBudget re-reads the local team's budget
func (s *Session) RefreshBudget(ctx context.Context) error {
	actor := s.Actor()
	if s.resources == nil || actor.TeamID == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.RefreshTimeout)
	defer cancel()

	team, err := s.resources.GetTeam(ctx, actor.TeamID)
	if err != nil {
		err = fmt.Errorf("refresh budget: %w", err)
		s.Channel.ReportError(err)
		return err
	}

	s.actor.Update(func(a eligibility.Actor) eligibility.Actor {
		if a.TeamID == team.ID {
			a.Budget = team.Budget
		}
		return a
	})
	log.Info().Str("team_id", team.ID).Int64("budget", team.Budget).Msg("budget refreshed")
	return nil
}

func (s *Session) onView(view models.AuctionView) {
	s.Countdown.Sync(view.TimerSeconds, view.IsRunning)
	s.recompute()
}

// onState runs before the reader of a new connection starts, so the first
// snapshot it delivers is always judged against a fresh baseline.
func (s *Session) onState(state models.ConnectionState) {
	switch state {
	case models.Connected:
		s.Reconciler.Rebase()
	case models.Failed:
		s.Reconciler.Reset()
		s.Countdown.Sync(0, false)
	}
	s.recompute()
}

// onPlayerSold refreshes the budget once when the local team wins. The
// budget is never decremented locally.
func (s *Session) onPlayerSold(event models.PlayerSoldEvent) {
	actor := s.Actor()
	notice := newSoldNotice(event, actor.TeamID)
	s.Notices.Publish(notice)

	if notice.Outcome != OutcomeWon || s.resources == nil {
		return
	}

	s.refreshes.Add(1)
	go func() {
		defer s.refreshes.Done()
		if err := s.RefreshBudget(context.Background()); err != nil {
			log.Warn().Err(err).Str("team_id", actor.TeamID).Msg("budget refresh failed")
		}
	}()
}

func (s *Session) recompute() {
	s.recomputeMu.Lock()
	defer s.recomputeMu.Unlock()

	result := eligibility.Evaluate(s.Reconciler.View(), s.Channel.IsConnected(), s.actor.Get())
	s.eligibility.Set(result)
}
