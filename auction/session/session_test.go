package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/linluma/gavel/auction/channel"
	"github.com/linluma/gavel/auction/eligibility"
	"github.com/linluma/gavel/shared/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeConn plays the auction server side of one connection
type pipeConn struct {
	inbound chan []byte
	closed  chan struct{}
	once    sync.Once

	mu   sync.Mutex
	sent []channel.Envelope
}

func newPipeConn() *pipeConn {
	return &pipeConn{inbound: make(chan []byte, 16), closed: make(chan struct{})}
}

func (c *pipeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.inbound:
		return websocket.TextMessage, msg, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *pipeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	var env channel.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	c.mu.Lock()
	c.sent = append(c.sent, env)
	c.mu.Unlock()
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *pipeConn) push(event string, data string) {
	c.inbound <- []byte(`{"event":"` + event + `","data":` + data + `}`)
}

func (c *pipeConn) commands() []channel.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

type fakeResources struct {
	teamCalls int32
	budget    int64
	pending   []models.Player
}

func (f *fakeResources) GetTeam(ctx context.Context, id string) (models.Team, error) {
	atomic.AddInt32(&f.teamCalls, 1)
	return models.Team{ID: id, Name: "Strikers", Budget: f.budget}, nil
}

func (f *fakeResources) ListPlayersByStatus(ctx context.Context, status models.PlayerStatus) ([]models.Player, error) {
	return f.pending, nil
}

const runningState = `{"currentPlayer":{"_id":"p7","name":"Rohan","position":"Batsman","basePrice":1000,"status":"auctioning"},"highestBid":4200,"highestBidTeamId":"T2","highestBidTeam":{"_id":"T2","name":"Kings"},"timer":10,"isRunning":true}`

func (c *pipeConn) count(event string) int {
	n := 0
	for _, env := range c.commands() {
		if env.Event == event {
			n++
		}
	}
	return n
}

func newConnectedSession(t *testing.T, actor eligibility.Actor, res Resources, opts ...Option) (*Session, *pipeConn) {
	t.Helper()
	conn := newPipeConn()
	cfg := Config{
		Endpoint: "ws://auction",
		Channel:  channel.Config{Retry: channel.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 2}},
		Actor:    actor,
	}
	var dials int32
	opts = append(opts, WithDialFunc(func(ctx context.Context, endpoint string) (channel.Conn, error) {
		if atomic.AddInt32(&dials, 1) > 1 {
			return nil, errors.New("server gone")
		}
		return conn, nil
	}))
	s, err := New(cfg, res, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Connect(context.Background()))
	return s, conn
}

func TestSessionEligibility(t *testing.T) {
	s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T1", Budget: 4200}, &fakeResources{})

	conn.push("stateUpdate", runningState)
	require.Eventually(t, func() bool { return s.Eligibility().NextBidAmount == 4201 }, time.Second, time.Millisecond)

	result := s.Eligibility()
	assert.Equal(t, int64(4201), result.NextBidAmount)
	assert.False(t, result.CanBid)
	assert.True(t, result.Blocked(eligibility.ReasonInsufficientBudget))

	s.SetActor(eligibility.Actor{TeamID: "T1", Budget: 5000})
	assert.True(t, s.Eligibility().CanBid)
	assert.Equal(t, int64(799), s.Eligibility().RemainingBudgetIfBid)

	assert.InDelta(t, 10, s.Countdown.Display(), 1)
}

func TestSessionBid(t *testing.T) {
	t.Run("SendsNextAmountWhenEligible", func(t *testing.T) {
		s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T1", Budget: 9000}, &fakeResources{})
		conn.push("stateUpdate", runningState)
		require.Eventually(t, func() bool { return s.Eligibility().CanBid }, time.Second, time.Millisecond)

		require.NoError(t, s.Bid())

		sent := conn.commands()
		require.Len(t, sent, 2)
		assert.Equal(t, channel.CommandRequestState, sent[0].Event)
		assert.Equal(t, channel.CommandBid, sent[1].Event)
		assert.JSONEq(t, `{"teamId":"T1","playerId":"p7","bidAmount":4201}`, string(sent[1].Data))
	})

	t.Run("RefusedWhenLeading", func(t *testing.T) {
		s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T2", Budget: 9000}, &fakeResources{})
		conn.push("stateUpdate", runningState)
		require.Eventually(t, func() bool { return s.View().IsRunning }, time.Second, time.Millisecond)

		err := s.Bid()
		assert.True(t, errors.Is(err, ErrNotEligible))
		assert.Contains(t, err.Error(), string(eligibility.ReasonLeading))
		assert.True(t, errors.Is(s.Channel.LastError(), ErrNotEligible))
		assert.Len(t, conn.commands(), 1)
	})
}

func TestSessionBudgetRefresh(t *testing.T) {
	res := &fakeResources{budget: 3000}
	s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T1", Budget: 9000}, res)

	var notices []SoldNotice
	var mu sync.Mutex
	s.Notices.Subscribe(func(n SoldNotice) {
		mu.Lock()
		notices = append(notices, n)
		mu.Unlock()
	})

	conn.push("playerSold", `{"playerId":"p5","playerName":"Ali","teamId":"T2","teamName":"Kings","finalPrice":1200}`)
	conn.push("playerSold", `{"playerId":"p6","playerName":"Sam","teamId":null,"teamName":null,"finalPrice":0}`)
	conn.push("playerSold", `{"playerId":"p7","playerName":"Rohan","teamId":"T1","teamName":"Strikers","finalPrice":6000}`)

	require.Eventually(t, func() bool { return s.Actor().Budget == 3000 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&res.teamCalls), "only the local team's win refreshes")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, notices, 3)
	assert.Equal(t, OutcomeLost, notices[0].Outcome)
	assert.Equal(t, OutcomeUnsold, notices[1].Outcome)
	assert.Equal(t, OutcomeWon, notices[2].Outcome)
	assert.Contains(t, notices[2].Message(), "You won Rohan")
}

func TestSessionFailedResetsView(t *testing.T) {
	s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T1", Budget: 9000}, &fakeResources{})
	conn.push("stateUpdate", runningState)
	require.Eventually(t, func() bool { return s.View().IsRunning }, time.Second, time.Millisecond)

	// Drop the connection; every reconnect attempt fails
	_ = conn.Close()

	require.Eventually(t, func() bool { return s.Channel.State() == models.Failed }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return s.View().IsEmpty() }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return s.Countdown.Display() == 0 && s.Eligibility().Blocked(eligibility.ReasonNoPlayer)
	}, time.Second, time.Millisecond)
	assert.False(t, s.Eligibility().CanBid)
	assert.True(t, s.Eligibility().Blocked(eligibility.ReasonDisconnected))
}

func TestStartNextPending(t *testing.T) {
	t.Run("StartsFirstPending", func(t *testing.T) {
		res := &fakeResources{pending: []models.Player{{ID: "p3", Name: "Kai"}, {ID: "p4"}}}
		s, conn := newConnectedSession(t, eligibility.Actor{}, res)

		player, err := s.StartNextPending(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "p3", player.ID)

		sent := conn.commands()
		require.Len(t, sent, 2)
		assert.Equal(t, channel.CommandStartAuction, sent[1].Event)
		assert.JSONEq(t, `{"playerId":"p3"}`, string(sent[1].Data))
	})

	t.Run("EmptyRoster", func(t *testing.T) {
		s, _ := newConnectedSession(t, eligibility.Actor{}, &fakeResources{})
		_, err := s.StartNextPending(context.Background())
		assert.True(t, errors.Is(err, ErrNoPendingPlayers))
	})
}

func TestSessionTickResyncsCountdown(t *testing.T) {
	mock := clock.NewMock()
	s, conn := newConnectedSession(t, eligibility.Actor{TeamID: "T1", Budget: 9000}, &fakeResources{}, WithClock(mock))

	conn.push("stateUpdate", runningState)
	require.Eventually(t, func() bool { return s.Countdown.Display() == 10 }, time.Second, time.Millisecond)

	for _, want := range []int{9, 8, 7, 6} {
		mock.Add(time.Second)
		require.Eventually(t, func() bool { return s.Countdown.Display() == want }, time.Second, time.Millisecond)
	}

	// Same value as the view already holds; the display still snaps back
	conn.push("timerUpdate", `{"timerSeconds":10,"playerId":"p7"}`)
	require.Eventually(t, func() bool { return s.Countdown.Display() == 10 }, time.Second, time.Millisecond)

	mock.Add(time.Second)
	require.Eventually(t, func() bool { return s.Countdown.Display() == 9 }, time.Second, time.Millisecond)
}

func TestSessionReconnectTakesFreshSnapshot(t *testing.T) {
	conns := make(chan *pipeConn, 2)
	first, second := newPipeConn(), newPipeConn()
	conns <- first
	conns <- second

	cfg := Config{
		Endpoint: "ws://auction",
		Channel:  channel.Config{Retry: channel.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 3}},
		Actor:    eligibility.Actor{TeamID: "T1", Budget: 9000},
	}
	s, err := New(cfg, &fakeResources{}, WithDialFunc(func(ctx context.Context, endpoint string) (channel.Conn, error) {
		select {
		case c := <-conns:
			return c, nil
		default:
			return nil, errors.New("server gone")
		}
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Connect(context.Background()))

	first.push("stateUpdate", `{"currentPlayer":{"_id":"p7","name":"Rohan"},"highestBid":500,"highestBidTeamId":"T2","timer":10,"isRunning":true,"revision":40}`)
	require.Eventually(t, func() bool { return s.Eligibility().CanBid }, time.Second, time.Millisecond)

	// While the client was away the server closed p7's auction and restarted
	// its revision counter
	second.push("stateUpdate", `{"currentPlayer":{"_id":"p7","name":"Rohan"},"highestBid":0,"timer":0,"isRunning":false,"revision":1}`)
	_ = first.Close()

	require.Eventually(t, func() bool { return !s.View().IsRunning }, 2*time.Second, time.Millisecond)
	assert.Zero(t, s.View().HighestBid)
	assert.Zero(t, s.Reconciler.Stats().Stale)
	require.Eventually(t, func() bool { return s.Eligibility().Blocked(eligibility.ReasonNotRunning) }, time.Second, time.Millisecond)
	assert.False(t, s.Eligibility().CanBid)
}

func TestSessionDesyncGuard(t *testing.T) {
	mock := clock.NewMock()
	conn := newPipeConn()
	cfg := Config{
		Endpoint: "ws://auction",
		Channel: channel.Config{
			Retry:           channel.RetryConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2, MaxAttempts: 1},
			SnapshotTimeout: 3 * time.Second,
			SnapshotRetries: 3,
		},
	}
	s, err := New(cfg, nil, WithClock(mock), WithDialFunc(func(ctx context.Context, endpoint string) (channel.Conn, error) {
		return conn, nil
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Connect(context.Background()))
	assert.Equal(t, 1, conn.count(channel.CommandRequestState))

	conn.push("stateUpdate", `{}`)
	require.Eventually(t, func() bool { return s.Reconciler.Stats().Discarded == 1 }, time.Second, time.Millisecond)

	mock.Add(3 * time.Second)
	require.Eventually(t, func() bool { return conn.count(channel.CommandRequestState) == 2 }, time.Second, time.Millisecond)

	conn.push("stateUpdate", runningState)
	require.Eventually(t, func() bool { return s.Reconciler.Stats().Applied == 1 }, time.Second, time.Millisecond)

	mock.Add(10 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, conn.count(channel.CommandRequestState))
}
