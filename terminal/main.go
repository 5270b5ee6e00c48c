package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/auction/channel"
	"github.com/linluma/gavel/auction/eligibility"
	"github.com/linluma/gavel/auction/relay"
	"github.com/linluma/gavel/auction/session"
	"github.com/linluma/gavel/resources"
	"github.com/linluma/gavel/shared/config"
	"github.com/linluma/gavel/shared/logging"
	"github.com/linluma/gavel/shared/models"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.ParseTerminalFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	log.Info().Str("role", cfg.Role).Str("server", cfg.ServerURL).Msg("🚀 Starting auction terminal")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Duration)
		defer cancel()
	}

	if cfg.Role == config.RoleMirror {
		err = runMirror(ctx, cfg, os.Stdout)
	} else {
		err = runTerminal(ctx, cfg, os.Stdin, os.Stdout)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("❌ terminal failed")
	}

	log.Info().Msg("✅ terminal stopped")
}

func channelConfig(cfg *config.TerminalConfig) channel.Config {
	return channel.Config{
		Retry: channel.RetryConfig{
			InitialDelay: cfg.Retry.InitialDelay,
			MaxDelay:     cfg.Retry.MaxDelay,
			Multiplier:   cfg.Retry.Multiplier,
			MaxAttempts:  cfg.Retry.MaxAttempts,
			Jitter:       cfg.Retry.Jitter,
		},
		HandshakeTimeout: cfg.HandshakeTimeout,
		SnapshotTimeout:  cfg.SnapshotTimeout,
		SnapshotRetries:  cfg.SnapshotRetries,
	}
}

// runTerminal drives a console, team or display role against the auction server
func runTerminal(ctx context.Context, cfg *config.TerminalConfig, in io.Reader, out io.Writer) error {
	api := resources.NewClient(cfg.APIURL)
	sess, err := session.New(session.Config{
		Endpoint: cfg.ServerURL,
		Channel:  channelConfig(cfg),
		Actor:    eligibility.Actor{TeamID: cfg.TeamID},
	}, api)
	if err != nil {
		return err
	}
	defer sess.Close()

	if cfg.Role == config.RoleTeam {
		if err := sess.RefreshBudget(ctx); err != nil {
			log.Warn().Err(err).Msg("could not load team budget")
		}
	}

	// Show whatever the server last knew until the live snapshot lands
	if raw, err := api.AuctionState(ctx); err != nil {
		log.Debug().Err(err).Msg("no initial auction state")
	} else if err := sess.Reconciler.ApplySnapshot(raw); err != nil {
		log.Debug().Err(err).Msg("initial auction state rejected")
	}

	r := &renderer{out: out, sess: sess, role: cfg.Role}
	defer r.attach()()

	if cfg.RelayAddr != "" {
		lis, err := net.Listen("tcp", cfg.RelayAddr)
		if err != nil {
			return fmt.Errorf("relay listen: %w", err)
		}
		srv := relay.NewServer()
		unbind := relay.Bind(srv, sess)
		defer unbind()
		go func() {
			if err := srv.Serve(lis); err != nil {
				log.Error().Err(err).Msg("view relay stopped")
			}
		}()
		defer srv.Stop()
	}

	if err := sess.Connect(ctx); err != nil {
		log.Error().Err(err).Msg("could not reach the auction server; type 'reconnect' to retry")
	}

	if cfg.Role == config.RoleConsole || cfg.Role == config.RoleTeam {
		inputDone := make(chan struct{})
		go func() {
			defer close(inputDone)
			readCommands(ctx, in, out, sess, cfg.Role)
		}()
		select {
		case <-ctx.Done():
		case <-inputDone:
		}
		return nil
	}

	<-ctx.Done()
	return nil
}

// renderer prints a status line whenever something visible changes
type renderer struct {
	mu   sync.Mutex
	out  io.Writer
	sess *session.Session
	role string
}

func (r *renderer) attach() func() {
	subs := []bus.Subscription{
		r.sess.Reconciler.Watch(func(models.AuctionView) { r.render() }),
		r.sess.Channel.WatchState(func(models.ConnectionState) { r.render() }),
		r.sess.Notices.Subscribe(func(n session.SoldNotice) { r.println(n.Message()) }),
		r.sess.Reconciler.Errors.Subscribe(func(e models.AuctionErrorEvent) { r.println("⛔ " + e.Message) }),
		r.sess.Reconciler.BidPlaced.Subscribe(func(e models.BidPlacedEvent) {
			r.println(fmt.Sprintf("🔨 %s bid %d", e.TeamName, e.BidAmount))
		}),
	}
	if r.role == config.RoleDisplay {
		subs = append(subs, r.sess.Countdown.Watch(func(int) { r.render() }))
	}
	return func() {
		for _, s := range subs {
			s.Unsubscribe()
		}
	}
}

func (r *renderer) render() {
	r.mu.Lock()
	defer r.mu.Unlock()
	DisplayView(r.out, r.sess.View(), r.sess.Channel.State().String(), r.sess.Countdown.Display())
	if r.role == config.RoleTeam {
		fmt.Fprintln(r.out, FormatEligibility(r.sess.Eligibility(), r.sess.Actor().Budget))
	}
}

func (r *renderer) println(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, line)
}

// runMirror shows another terminal's view through its relay
func runMirror(ctx context.Context, cfg *config.TerminalConfig, out io.Writer) error {
	client := relay.NewClient(cfg.RelayAddr)
	if err := client.Connect(); err != nil {
		return err
	}
	defer client.Close()

	probe, cancel := context.WithTimeout(ctx, cfg.HandshakeTimeout)
	if err := client.Healthy(probe); err != nil {
		log.Warn().Err(err).Msg("relay not healthy yet")
	}
	cancel()

	updates, err := client.Watch(ctx, "")
	if err != nil {
		return err
	}

	log.Info().Str("relay", cfg.RelayAddr).Msg("📺 mirroring view")
	var lastNotice string
	for update := range updates {
		DisplayView(out, update.View, update.Connection, update.Display)
		if update.Notice != "" && update.Notice != lastNotice {
			fmt.Fprintln(out, update.Notice)
			lastNotice = update.Notice
		}
	}
	return nil
}
