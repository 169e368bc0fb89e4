package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-service/internal/core/domain"
	"github.com/rl1809/inventory-service/internal/logger"
)

const (
	DefaultConnectAttempts = 5
	DefaultConnectDelay    = time.Second
)

type SessionConfig struct {
	URL      string
	Attempts int
	Delay    time.Duration
	// Setup runs on every fresh channel, before it is handed out.
	Setup func(Channel) error
}

// Session owns one long-lived connection and channel.
// The channel is opened lazily and reopened after the broker drops it.
type Session struct {
	cfg    SessionConfig
	dial   DialFunc
	logger *zap.Logger

	mu      sync.Mutex
	conn    Conn
	ch      Channel
	lastErr error

	// failures counts exhausted connect budgets; it is read before taking mu.
	failures atomic.Uint64
}

func NewSession(cfg SessionConfig, dial DialFunc, logger *zap.Logger) *Session {
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultConnectAttempts
	}
	if cfg.Delay < 0 {
		cfg.Delay = DefaultConnectDelay
	}
	if dial == nil {
		dial = Dial
	}
	return &Session{cfg: cfg, dial: dial, logger: logger}
}

// Connect opens the connection if it is not open yet.
// It fails with domain.ErrBrokerUnavailable once every attempt has failed.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.Channel(ctx)
	return err
}

// Budget reports how many connect attempts are made and how long to wait between them.
func (s *Session) Budget() (int, time.Duration) {
	return s.cfg.Attempts, s.cfg.Delay
}

// Channel returns the open channel, connecting first when needed.
// Concurrent callers share a single connect: callers queued behind a connect
// that used up its budget get that failure instead of starting another one.
func (s *Session) Channel(ctx context.Context) (Channel, error) {
	seen := s.failures.Load()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		return s.ch, nil
	}
	if s.failures.Load() != seen {
		return nil, s.lastErr
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts; attempt++ {
		conn, ch, err := s.open()
		if err == nil {
			s.conn, s.ch = conn, ch
			go s.watch(conn, ch)
			logger.Info(ctx, s.logger, "connected to broker", zap.Int("attempt", attempt))
			return ch, nil
		}

		lastErr = err
		logger.Warn(ctx, s.logger, "broker connect failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.cfg.Attempts),
			zap.Error(err),
		)

		if attempt == s.cfg.Attempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrBrokerUnavailable, ctx.Err())
		case <-time.After(s.cfg.Delay):
		}
	}

	s.lastErr = fmt.Errorf("%w after %d attempts: %w", domain.ErrBrokerUnavailable, s.cfg.Attempts, lastErr)
	s.failures.Add(1)
	return nil, s.lastErr
}

func (s *Session) open() (Conn, Channel, error) {
	conn, err := s.dial(s.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}

	if s.cfg.Setup != nil {
		if err := s.cfg.Setup(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, nil, fmt.Errorf("setup channel: %w", err)
		}
	}

	return conn, ch, nil
}

// watch forgets the channel once the broker closes it or its connection.
func (s *Session) watch(conn Conn, ch Channel) {
	connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	var reason *amqp.Error
	select {
	case reason = <-connClosed:
	case reason = <-chClosed:
	}

	if s.Discard(ch) && reason != nil {
		s.logger.Warn("broker channel closed", zap.String("reason", reason.Reason), zap.Int("code", reason.Code))
	}
}

// Discard drops ch if it is still the current channel, so the next call reconnects.
func (s *Session) Discard(ch Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil || s.ch != ch {
		return false
	}

	conn := s.conn
	s.conn, s.ch = nil, nil
	_ = ch.Close()
	_ = conn.Close()
	return true
}

// Disconnect closes the channel then the connection. Either may already be closed.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if s.ch != nil {
		if err := s.ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close channel: %w", err))
		}
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	s.conn, s.ch = nil, nil

	return errors.Join(errs...)
}
