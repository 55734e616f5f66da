package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ReconnectPolicy is a capped exponential backoff used after the transport
// drops. MaxElapsed of zero retries until Disconnect is called.
type ReconnectPolicy struct {
	Initial    time.Duration
	Max        time.Duration
	MaxElapsed time.Duration
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.MaxElapsedTime = p.MaxElapsed
	b.Reset()
	return backoff.WithContext(b, ctx)
}

const defaultDialTimeout = 10 * time.Second

type Config struct {
	Dial      DialFunc
	Reconnect ReconnectPolicy
	// DialTimeout bounds each dial, handshakes included.
	DialTimeout time.Duration
	Logger      *slog.Logger
}

// Manager owns the single connection to the message broker.
type Manager struct {
	dial        DialFunc
	dialTimeout time.Duration
	reconnect   ReconnectPolicy
	log         *slog.Logger
	registry    *Registry
	connects    singleflight.Group

	mu        sync.RWMutex
	broker    Broker
	state     State
	stopWatch context.CancelFunc
	watchDone chan struct{}
	// gen is bumped by Disconnect; a dial started under an older
	// generation must not attach.
	gen        uint64
	cancelDial context.CancelFunc
	// Closed when the running reconnect attempt finishes.
	reconnecting chan struct{}
	changes      chan State
}

func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Reconnect.Initial <= 0 {
		cfg.Reconnect.Initial = time.Second
	}
	if cfg.Reconnect.Max < cfg.Reconnect.Initial {
		cfg.Reconnect.Max = 30 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	m := &Manager{
		dial:        cfg.Dial,
		dialTimeout: cfg.DialTimeout,
		reconnect:   cfg.Reconnect,
		log:         log.With("component", "connection"),
		changes:     make(chan State, 1),
	}
	m.registry = newRegistry(m.currentBroker, log)
	return m
}

func (m *Manager) Registry() *Registry {
	return m.registry
}

func (m *Manager) currentBroker() (Broker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.broker, m.state == StateConnected && m.broker != nil
}

func (m *Manager) Connected() bool {
	_, ok := m.currentBroker()
	return ok
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// StateChanges delivers the latest connection state. Intermediate states
// may be skipped by a slow reader.
func (m *Manager) StateChanges() <-chan State {
	return m.changes
}

// setState must be called with mu held.
func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.state = s
	select {
	case <-m.changes:
	default:
	}
	m.changes <- s
	m.log.Info("connection state changed", "state", s.String())
}

// Connect establishes the broker session. It returns once the broker
// acknowledged it. Concurrent calls share a single dial.
func (m *Manager) Connect(ctx context.Context) error {
	if m.Connected() {
		return nil
	}

	ch := m.connects.DoChan("connect", func() (any, error) {
		return nil, m.connect(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if wait := m.reconnecting; wait != nil {
		// The supervisor is already redialing; never open a second transport.
		m.mu.Unlock()
		<-wait
		if !m.Connected() {
			return &ConnectionError{Err: ErrNotConnected}
		}
		return nil
	}
	m.setState(StateConnecting)
	gen := m.gen
	ctx, cancel := context.WithTimeout(ctx, m.dialTimeout)
	defer cancel()
	m.cancelDial = cancel
	m.mu.Unlock()

	b, err := m.dial(ctx)

	m.mu.Lock()
	stale := m.gen != gen || m.state != StateConnecting
	if !stale {
		m.cancelDial = nil
	}
	if err != nil {
		if !stale {
			m.setState(StateDisconnected)
		}
		m.mu.Unlock()
		m.log.Error("connect failed", "error", err)
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return err
		}
		return &ConnectionError{Err: err}
	}
	if stale {
		m.mu.Unlock()
		m.log.Info("dropping transport dialed before disconnect")
		_ = b.Close()
		return &ConnectionError{Err: ErrDisconnected}
	}
	m.attach(b)
	m.mu.Unlock()
	return nil
}

// attach must be called with mu held.
func (m *Manager) attach(b Broker) {
	watchCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.broker = b
	m.stopWatch = cancel
	m.watchDone = done
	m.setState(StateConnected)
	go m.watch(watchCtx, b, done)
}

// watch waits for the transport to drop and reconnects with backoff.
func (m *Manager) watch(ctx context.Context, b Broker, done chan struct{}) {
	defer close(done)

	select {
	case <-ctx.Done():
		return
	case <-b.Done():
	}

	m.log.Warn("connection lost", "error", b.Err())

	m.mu.Lock()
	if ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	m.broker = nil
	reconnecting := make(chan struct{})
	m.reconnecting = reconnecting
	m.setState(StateConnecting)
	m.mu.Unlock()

	// Subscriptions do not survive the transport.
	m.registry.UnsubscribeAll()
	_ = b.Close()

	var next Broker
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		dialCtx, cancel := context.WithTimeout(ctx, m.dialTimeout)
		defer cancel()
		nb, err := m.dial(dialCtx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		next = nb
		return nil
	}, m.reconnect.backOff(ctx), func(err error, wait time.Duration) {
		m.log.Warn("reconnect failed", "attempt", attempt, "retry_in", wait, "error", err)
	})

	m.mu.Lock()
	defer m.mu.Unlock()
	defer close(reconnecting)
	m.reconnecting = nil

	if err != nil || ctx.Err() != nil {
		if next != nil {
			_ = next.Close()
		}
		if ctx.Err() == nil {
			m.log.Error("giving up reconnecting", "attempts", attempt, "error", err)
			m.stopWatch = nil
			m.setState(StateDisconnected)
		}
		return
	}

	m.log.Info("reconnected", "attempts", attempt)
	// The new watcher replaces this one; done is closed on return.
	m.attach(next)
}

// Disconnect cancels every subscription and closes the transport. It is
// safe to call when already disconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	b := m.broker
	done := m.watchDone
	m.gen++
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
	if m.stopWatch != nil {
		m.stopWatch()
	}
	m.broker = nil
	m.stopWatch = nil
	m.watchDone = nil
	m.setState(StateDisconnected)
	m.mu.Unlock()

	m.registry.UnsubscribeAll()

	if b != nil {
		if err := b.Close(); err != nil {
			m.log.Debug("close failed", "error", err)
		}
	}
	if done != nil {
		<-done
	}
}

// Publish encodes v as JSON and sends it to destination.
func (m *Manager) Publish(destination string, v any) error {
	b, ok := m.currentBroker()
	if !ok {
		return ErrNotConnected
	}
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := b.Publish(destination, body); err != nil {
		return fmt.Errorf("publish to %s: %w", destination, err)
	}
	return nil
}
