package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/linluma/gavel/auction/bus"
	"github.com/linluma/gavel/shared/models"
	"github.com/linluma/gavel/shared/observable"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotConnected is reported when a command is sent while the channel is not Connected
	ErrNotConnected = errors.New("channel not connected")
	// ErrConnectFailed is reported once the attempt bound is exhausted
	ErrConnectFailed = errors.New("failed to connect after retries")

	errStopped = errors.New("connection attempt cancelled")
)

// Conn is the subset of *websocket.Conn the manager drives
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens one connection to endpoint
type DialFunc func(ctx context.Context, endpoint string) (Conn, error)

// Config holds channel configuration
type Config struct {
	Retry            RetryConfig
	HandshakeTimeout time.Duration
	SnapshotTimeout  time.Duration // wait for a stateUpdate after (re)connect
	SnapshotRetries  int           // re-requests issued when the wait expires
}

// DefaultConfig returns the default channel configuration
func DefaultConfig() Config {
	return Config{
		Retry:            DefaultRetryConfig(),
		HandshakeTimeout: 10 * time.Second,
		SnapshotTimeout:  3 * time.Second,
		SnapshotRetries:  3,
	}
}

// Option customizes a Manager
type Option func(*Manager)

// WithClock injects the clock used for backoff delays and the snapshot timer
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) { m.clock = clk }
}

// WithDialFunc replaces the websocket dialer
func WithDialFunc(dial DialFunc) Option {
	return func(m *Manager) { m.dialFunc = dial }
}

// run scopes one Connect call and the reconnect cycles that follow it
type run struct {
	done chan struct{}
	once sync.Once
}

func (r *run) stop() {
	r.once.Do(func() { close(r.done) })
}

func (r *run) stopped() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Manager owns the single connection to the auction server
type Manager struct {
	bus    *bus.Bus
	config Config
	clock  clock.Clock

	// publish orders status changes with their notifications; taken before mu
	publish sync.Mutex

	mu       sync.Mutex
	writeMu  sync.Mutex
	endpoint string
	status   models.ConnectionState
	current  *run
	conn     Conn
	health   ConnectionHealth

	snapshotTimer    *clock.Timer
	snapshotPending  bool
	snapshotRequests int

	state     *observable.Value[models.ConnectionState]
	lastError *observable.Value[error]

	// Allow test override of dial function
	dialFunc DialFunc
}

// NewManager creates a channel manager that dispatches inbound frames onto b
func NewManager(b *bus.Bus, config Config, opts ...Option) *Manager {
	m := &Manager{
		bus:       b,
		config:    config,
		clock:     clock.New(),
		status:    models.Disconnected,
		state:     observable.New(models.Disconnected),
		lastError: observable.New[error](nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current connection state
func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// IsConnected reports whether commands may be sent
func (m *Manager) IsConnected() bool {
	return m.State() == models.Connected
}

// WatchState registers fn for every state transition. Watchers see
// transitions in the order they happen and must not call Connect or
// Disconnect.
func (m *Manager) WatchState(fn func(models.ConnectionState)) bus.Subscription {
	return m.state.Watch(fn)
}

// LastError returns the most recent locally observed error, or nil
func (m *Manager) LastError() error {
	return m.lastError.Get()
}

// WatchErrors registers fn for every locally observed error
func (m *Manager) WatchErrors(fn func(error)) bus.Subscription {
	return m.lastError.Watch(fn)
}

// ReportError records err as the latest local error signal
func (m *Manager) ReportError(err error) {
	if err == nil {
		return
	}
	m.lastError.Set(err)
}

// GetConnectionHealth returns current connection health status
func (m *Manager) GetConnectionHealth() ConnectionHealth {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// Connect opens the channel. It is a no-op while a connection is open or being
// established, and blocks until connected or the attempt bound is exhausted.
func (m *Manager) Connect(ctx context.Context, endpoint string) error {
	m.publish.Lock()
	m.mu.Lock()
	switch m.status {
	case models.Connected, models.Connecting, models.Reconnecting:
		m.mu.Unlock()
		m.publish.Unlock()
		log.Debug().Str("endpoint", endpoint).Msg("channel already open, ignoring connect")
		return nil
	}
	r := &run{done: make(chan struct{})}
	m.current = r
	m.endpoint = endpoint
	m.status = models.Connecting
	m.mu.Unlock()
	m.state.Set(models.Connecting)
	m.publish.Unlock()

	log.Info().Str("endpoint", endpoint).Msg("connecting to auction server")

	if err := m.establish(ctx, r, true); err != nil {
		if errors.Is(err, errStopped) {
			return err
		}
		m.fail(r, err)
		return fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	return nil
}

// Disconnect closes the channel and moves straight to Disconnected
func (m *Manager) Disconnect() error {
	m.publish.Lock()
	m.mu.Lock()
	if m.status == models.Disconnected && m.current == nil {
		m.mu.Unlock()
		m.publish.Unlock()
		return nil
	}
	r := m.current
	conn := m.conn
	m.current = nil
	m.conn = nil
	m.status = models.Disconnected
	m.stopSnapshotTimerLocked()
	m.mu.Unlock()
	m.state.Set(models.Disconnected)
	m.publish.Unlock()

	if r != nil {
		r.stop()
	}
	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		m.writeMu.Unlock()
		if err := conn.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing auction channel")
		}
	}

	log.Info().Msg("disconnected from auction server")
	return nil
}

// Send writes one command. It never queues: outside Connected it fails
// immediately and records the failure as the local error signal.
func (m *Manager) Send(command string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	status := m.status
	m.mu.Unlock()

	if status != models.Connected || conn == nil {
		err := fmt.Errorf("cannot send %s: %w", command, ErrNotConnected)
		log.Warn().Str("command", command).Str("state", status.String()).Msg("command refused")
		m.ReportError(err)
		return err
	}

	if err := m.writeFrame(conn, command, payload); err != nil {
		err = fmt.Errorf("send %s: %w", command, err)
		m.ReportError(err)
		return err
	}
	return nil
}

// RequestSnapshot asks the server for a fresh authoritative snapshot
func (m *Manager) RequestSnapshot() error {
	return m.Send(CommandRequestState, struct{}{})
}

// establish dials until one attempt succeeds or the bound is reached
func (m *Manager) establish(ctx context.Context, r *run, immediate bool) error {
	retries := m.config.Retry.MaxAttempts
	if immediate {
		retries--
	}
	schedule := m.config.Retry.newBackOff(retries)

	var lastErr error
	if immediate {
		if lastErr = m.attempt(ctx, r); lastErr == nil || errors.Is(lastErr, errStopped) {
			return lastErr
		}
	}

	for {
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			if lastErr == nil {
				lastErr = errors.New("no attempts allowed")
			}
			return lastErr
		}

		select {
		case <-m.clock.After(delay):
		case <-r.done:
			return errStopped
		case <-ctx.Done():
			return ctx.Err()
		}

		if lastErr = m.attempt(ctx, r); lastErr == nil || errors.Is(lastErr, errStopped) {
			return lastErr
		}
	}
}

// attempt performs one dial and, on success, the post-connect handshake
func (m *Manager) attempt(ctx context.Context, r *run) error {
	if r.stopped() {
		return errStopped
	}

	m.mu.Lock()
	endpoint := m.endpoint
	m.mu.Unlock()

	dialCtx := ctx
	if m.config.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.config.HandshakeTimeout)
		defer cancel()
	}

	conn, err := m.dial(dialCtx, endpoint)
	if err != nil {
		m.recordFailure()
		health := m.GetConnectionHealth()
		log.Warn().
			Err(err).
			Int("attempt", health.RetryAttempt).
			Int("max_attempts", m.config.Retry.MaxAttempts).
			Msg("auction channel connection attempt failed")
		return err
	}

	m.mu.Lock()
	if r != m.current {
		m.mu.Unlock()
		_ = conn.Close()
		return errStopped
	}
	m.conn = conn
	m.snapshotPending = true
	m.snapshotRequests = 0
	m.recordSuccessLocked()
	connID := m.health.ConnectionID
	m.mu.Unlock()

	// The snapshot request goes out before the channel opens for commands.
	if err := m.writeFrame(conn, CommandRequestState, struct{}{}); err != nil {
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
		_ = conn.Close()
		m.recordFailure()
		return fmt.Errorf("request snapshot: %w", err)
	}

	m.publish.Lock()
	m.mu.Lock()
	if r != m.current || m.conn != conn {
		m.mu.Unlock()
		m.publish.Unlock()
		_ = conn.Close()
		return errStopped
	}
	m.status = models.Connected
	m.armSnapshotTimerLocked(conn)
	m.mu.Unlock()
	// Watchers run before the reader starts, so they see Connected before
	// any frame from this connection.
	m.state.Set(models.Connected)
	m.publish.Unlock()

	go m.readMessages(r, conn)

	log.Info().Str("connection_id", connID).Str("endpoint", endpoint).Msg("✅ auction channel connected")
	return nil
}

func (m *Manager) dial(ctx context.Context, endpoint string) (Conn, error) {
	if m.dialFunc != nil {
		return m.dialFunc(ctx, endpoint)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: m.config.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("failed to dial WebSocket: %w", err)
	}
	return conn, nil
}

// readMessages reads frames until the connection drops
func (m *Manager) readMessages(r *run, conn Conn) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("auction channel reader panic recovered")
			m.connectionLost(r, conn, fmt.Errorf("reader panic: %v", rec))
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(r, conn, err)
			return
		}
		m.dispatch(message)
	}
}

// dispatch decodes one envelope and publishes it on the bus
func (m *Manager) dispatch(message []byte) {
	env, err := decodeFrame(message)
	if err != nil {
		log.Warn().Err(err).Msg("discarding undecodable frame")
		return
	}

	m.bus.Publish(bus.Frame{
		Kind:       bus.Kind(env.Event),
		Payload:    env.Data,
		ReceivedAt: m.clock.Now(),
	})
}

// connectionLost reacts to a drop the caller did not initiate
func (m *Manager) connectionLost(r *run, conn Conn, cause error) {
	m.publish.Lock()
	m.mu.Lock()
	if r != m.current || m.conn != conn {
		m.mu.Unlock()
		m.publish.Unlock()
		return
	}
	m.conn = nil
	m.status = models.Reconnecting
	m.health.Reconnects++
	m.stopSnapshotTimerLocked()
	m.mu.Unlock()
	m.state.Set(models.Reconnecting)
	m.publish.Unlock()

	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
		log.Warn().Err(cause).Msg("auction channel closed unexpectedly")
	}
	log.Warn().Err(cause).Msg("⚠️ auction channel lost, reconnecting")

	go m.reconnect(r)
}

// reconnect runs one bounded reconnection cycle. Cycles never overlap because
// only connectionLost starts one and only a connected run can be lost.
func (m *Manager) reconnect(r *run) {
	err := m.establish(context.Background(), r, false)
	if err == nil || errors.Is(err, errStopped) {
		return
	}
	m.fail(r, err)
}

// fail moves to Failed; only an explicit Connect leaves it
func (m *Manager) fail(r *run, cause error) {
	m.publish.Lock()
	m.mu.Lock()
	if r != m.current {
		m.mu.Unlock()
		m.publish.Unlock()
		return
	}
	m.current = nil
	m.status = models.Failed
	m.mu.Unlock()
	m.state.Set(models.Failed)
	m.publish.Unlock()

	r.stop()
	m.ReportError(fmt.Errorf("%w: %v", ErrConnectFailed, cause))
	log.Error().Err(cause).Int("max_attempts", m.config.Retry.MaxAttempts).Msg("❌ auction channel failed, manual reconnect required")
}

// writeFrame serializes writers on one connection
func (m *Manager) writeFrame(conn Conn, command string, payload any) error {
	data, err := encodeFrame(command, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", command, err)
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (m *Manager) armSnapshotTimerLocked(conn Conn) {
	m.stopSnapshotTimerLocked()
	if m.config.SnapshotTimeout <= 0 {
		return
	}
	m.snapshotTimer = m.clock.AfterFunc(m.config.SnapshotTimeout, func() {
		m.snapshotTimedOut(conn)
	})
}

func (m *Manager) stopSnapshotTimerLocked() {
	if m.snapshotTimer != nil {
		m.snapshotTimer.Stop()
		m.snapshotTimer = nil
	}
}

// SnapshotApplied disarms the desync guard. It is called once a stateUpdate
// has actually been accepted into the view; a discarded one keeps the guard
// running.
func (m *Manager) SnapshotApplied() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshotPending = false
	m.stopSnapshotTimerLocked()
}

// snapshotTimedOut re-requests state when a fresh connection stays silent
func (m *Manager) snapshotTimedOut(conn Conn) {
	m.mu.Lock()
	if m.conn != conn || !m.snapshotPending {
		m.mu.Unlock()
		return
	}
	if m.snapshotRequests >= m.config.SnapshotRetries {
		m.snapshotTimer = nil
		m.mu.Unlock()
		log.Error().Int("requests", m.snapshotRequests).Msg("no snapshot received, view may be out of sync")
		return
	}
	m.snapshotRequests++
	attempt := m.snapshotRequests
	m.armSnapshotTimerLocked(conn)
	m.mu.Unlock()

	log.Warn().Int("attempt", attempt).Msg("snapshot overdue, re-requesting state")
	if err := m.writeFrame(conn, CommandRequestState, struct{}{}); err != nil {
		log.Warn().Err(err).Msg("failed to re-request snapshot")
	}
}

// recordFailure records a connection failure
func (m *Manager) recordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health.FailureCount++
	m.health.ConsecutiveFails++
	m.health.RetryAttempt++
	m.health.LastFailureTime = m.clock.Now()
}

// recordSuccessLocked records a successful connection
func (m *Manager) recordSuccessLocked() {
	m.health.ConsecutiveFails = 0
	m.health.RetryAttempt = 0
	m.health.LastConnectedAt = m.clock.Now()
	m.health.ConnectionID = uuid.New().String()
}
