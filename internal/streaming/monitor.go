package streaming

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a StreamingMonitor's position in the state machine spec.md
// §4.3 diagrams.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
	StateFailed       State = "failed"
)

// Config bounds the Monitor's timers, grounded in
// original_source/utils/xrpl_base_monitor.py's constructor defaults.
type Config struct {
	URL                 string
	Streams             []string
	Accounts            []string
	MaxReconnectAttempts int
	InitialBackoff      time.Duration
	MaxBackoff          time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
}

// DefaultConfig matches the reference Python monitor's defaults.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		MaxReconnectAttempts: 5,
		InitialBackoff:       5 * time.Second,
		MaxBackoff:           320 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     10 * time.Second,
	}
}

// FrameHandler is invoked for every raw frame received while
// SUBSCRIBED. It must not block for long: spec.md §5 treats frame
// handling as synchronous CPU work, not a suspension point.
type FrameHandler func(ctx context.Context, raw []byte)

// Monitor runs the StreamingMonitor state machine.
type Monitor struct {
	cfg    Config
	dial   Dialer
	logger *logrus.Logger
	handle FrameHandler

	state           State
	onStateChange   func(State)
	reconnectCount  int
}

// New constructs a Monitor. onStateChange, if non-nil, is invoked on
// every transition.
func New(cfg Config, dial Dialer, handle FrameHandler, logger *logrus.Logger, onStateChange func(State)) *Monitor {
	return &Monitor{cfg: cfg, dial: dial, handle: handle, logger: logger, onStateChange: onStateChange, state: StateDisconnected}
}

func (m *Monitor) setState(s State) {
	m.state = s
	if m.onStateChange != nil {
		m.onStateChange(s)
	}
}

// State returns the monitor's current state.
func (m *Monitor) State() State { return m.state }

// Run drives the state machine until ctx is cancelled or the monitor
// transitions to FAILED. It is meant to run in its own goroutine,
// supervised by Controller.
func (m *Monitor) Run(ctx context.Context) error {
	backoff := m.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			m.setState(StateDisconnected)
			return nil
		}

		m.logger.WithField("url", m.cfg.URL).Info("streaming: connecting")
		transport, err := m.dial(ctx, m.cfg.URL)
		if err != nil {
			if failed, stop := m.onTransportError(ctx, err, &backoff); stop {
				return failed
			}
			continue
		}
		m.setState(StateConnected)

		if err := transport.Subscribe(ctx, m.cfg.Streams, m.cfg.Accounts); err != nil {
			transport.Close()
			if failed, stop := m.onTransportError(ctx, err, &backoff); stop {
				return failed
			}
			continue
		}
		m.setState(StateSubscribed)

		// Reset counters on a successful (re)connection, matching
		// xrpl_base_monitor.py's monitor() resetting reconnect_attempts
		// and current_delay after entering the async-with block.
		m.reconnectCount = 0
		backoff = m.cfg.InitialBackoff

		err = m.runSubscribed(ctx, transport)
		transport.Close()
		if err == nil {
			m.setState(StateDisconnected)
			return nil
		}
		if failed, stop := m.onTransportError(ctx, err, &backoff); stop {
			return failed
		}
	}
}

// onTransportError increments the reconnect counter, transitions to
// FAILED past the configured maximum, otherwise sleeps the current
// backoff and doubles it (capped), then returns to CONNECTED. The
// bool return is true when the caller should stop (ctx done or FAILED).
func (m *Monitor) onTransportError(ctx context.Context, err error, backoff *time.Duration) (error, bool) {
	m.reconnectCount++
	m.logger.WithError(err).WithField("attempt", m.reconnectCount).Warn("streaming: transport error")

	if m.reconnectCount > m.cfg.MaxReconnectAttempts {
		m.setState(StateFailed)
		return fmt.Errorf("streaming: exhausted %d reconnect attempts: %w", m.cfg.MaxReconnectAttempts, err), true
	}

	m.setState(StateReconnecting)
	select {
	case <-ctx.Done():
		return nil, true
	case <-time.After(*backoff):
	}
	*backoff = minDuration(*backoff*2, m.cfg.MaxBackoff)
	return nil, false
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

var errDeadConnection = errors.New("streaming: no pong received within heartbeat window")

// runSubscribed owns the frame-read loop plus heartbeat timer for one
// connection lifetime. It returns nil only when ctx is cancelled
// cleanly; any other return is treated as a transport error by Run.
func (m *Monitor) runSubscribed(ctx context.Context, transport Transport) error {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lastPong := time.Now()
	frames := make(chan []byte)
	readErrs := make(chan error, 1)

	go func() {
		for {
			raw, err := transport.ReadFrame(subCtx)
			if err != nil {
				readErrs <- err
				return
			}
			select {
			case frames <- raw:
			case <-subCtx.Done():
				return
			}
		}
	}()

	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErrs:
			return err
		case raw := <-frames:
			if isResponseFrame(raw) {
				lastPong = time.Now()
			}
			m.handle(ctx, raw)
		case <-ticker.C:
			if time.Since(lastPong) > m.cfg.HeartbeatInterval+m.cfg.HeartbeatTimeout {
				return errDeadConnection
			}
			if err := transport.Ping(ctx); err != nil {
				return fmt.Errorf("streaming: ping failed: %w", err)
			}
		}
	}
}

func isResponseFrame(raw []byte) bool {
	// Cheap substring probe mirroring xrpl_base_monitor.py's
	// '"type":"response"' check, avoiding a full parse on the hot path.
	const marker = `"type":"response"`
	for i := 0; i+len(marker) <= len(raw); i++ {
		if string(raw[i:i+len(marker)]) == marker {
			return true
		}
	}
	return false
}
