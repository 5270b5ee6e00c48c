package relay

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/auction/session"
	"github.com/linluma/gavel/shared/models"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server implements the gRPC ViewRelay service
type Server struct {
	mu      sync.RWMutex
	latest  Update
	changed *bus.Topic[uint64]
	grpc    *grpc.Server
	health  *health.Server
}

// NewServer creates a relay holding an empty, disconnected update
func NewServer() *Server {
	return &Server{
		latest:  Update{Connection: models.Disconnected.String()},
		changed: bus.NewTopic[uint64](),
	}
}

// Publish applies fn to the latest update and notifies watchers
func (s *Server) Publish(fn func(*Update)) {
	s.mu.Lock()
	fn(&s.latest)
	s.latest.Sequence++
	seq := s.latest.Sequence
	s.mu.Unlock()

	s.changed.Publish(seq)
}

// Latest returns a copy of the current update
func (s *Server) Latest() Update {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.latest
	out.View = s.latest.View.Clone()
	return out
}

// Current handles the unary snapshot call
func (s *Server) Current(ctx context.Context, _ *CurrentRequest) (*Update, error) {
	latest := s.Latest()
	return &latest, nil
}

// Watch streams the latest update, then every change. Bursts are coalesced:
// a slow watcher always catches up to the newest update.
func (s *Server) Watch(req *WatchRequest, stream grpc.ServerStream) error {
	subscriber := req.Subscriber
	if subscriber == "" {
		subscriber = uuid.New().String()
	}

	notify := make(chan struct{}, 1)
	sub := s.changed.Subscribe(func(uint64) {
		select {
		case notify <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	log.Info().Str("subscriber", subscriber).Msg("📺 mirror subscribed")
	defer log.Info().Str("subscriber", subscriber).Msg("mirror left")

	var sent uint64
	send := func() error {
		latest := s.Latest()
		if latest.Sequence != 0 && latest.Sequence == sent {
			return nil
		}
		sent = latest.Sequence
		return stream.SendMsg(&latest)
	}

	if err := send(); err != nil {
		return err
	}
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case <-notify:
			if err := send(); err != nil {
				return err
			}
		}
	}
}

// Register adds the service to g
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Serve runs a gRPC server on lis until Stop
func (s *Server) Serve(lis net.Listener) error {
	g := grpc.NewServer()
	s.Register(g)

	hs := health.NewServer()
	healthpb.RegisterHealthServer(g, hs)
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)

	s.mu.Lock()
	s.grpc = g
	s.health = hs
	s.mu.Unlock()

	log.Info().Str("addr", lis.Addr().String()).Msg("🚀 view relay listening")
	if err := g.Serve(lis); err != nil {
		return fmt.Errorf("relay serve: %w", err)
	}
	return nil
}

// Stop ends every stream and stops serving
func (s *Server) Stop() {
	s.mu.Lock()
	g, hs := s.grpc, s.health
	s.grpc, s.health = nil, nil
	s.mu.Unlock()

	if hs != nil {
		hs.Shutdown()
	}
	if g != nil {
		g.Stop()
	}
}

// Bind feeds a session's view, connection state, countdown and sold notices
// into the relay. The returned func detaches it.
func Bind(s *Server, sess *session.Session) func() {
	s.Publish(func(u *Update) {
		u.View = sess.View()
		u.Connection = sess.Channel.State().String()
		u.Display = sess.Countdown.Display()
	})

	subs := []bus.Subscription{
		sess.Reconciler.Watch(func(v models.AuctionView) {
			s.Publish(func(u *Update) { u.View = v })
		}),
		sess.Channel.WatchState(func(state models.ConnectionState) {
			s.Publish(func(u *Update) { u.Connection = state.String() })
		}),
		sess.Countdown.Watch(func(display int) {
			s.Publish(func(u *Update) { u.Display = display })
		}),
		sess.Notices.Subscribe(func(n session.SoldNotice) {
			s.Publish(func(u *Update) { u.Notice = n.Message() })
		}),
	}

	return func() {
		for _, sub := range subs {
			sub.Unsubscribe()
		}
	}
}
