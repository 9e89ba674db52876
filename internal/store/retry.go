package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/stagegate/stagegate/internal/backoff"
	"github.com/stagegate/stagegate/pkg/models"
)

// Circuit breaker states.
const (
	CircuitClosed   = "CLOSED"
	CircuitOpen     = "OPEN"
	CircuitHalfOpen = "HALF_OPEN"
)

// RetryConfig configures the resilient store wrapper.
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// Policy computes the delay before retry k as min(Base*2^k, Max).
	Policy backoff.Policy
	// FailureThreshold is the consecutive-failure count that opens the
	// circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a half-open probe.
	Cooldown time.Duration
}

// DefaultRetryConfig mirrors the stock deployment: 3 retries, 100ms-5s
// backoff, circuit opens at 5 failures and cools down for 30s.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:       3,
		Policy:           backoff.DefaultPolicy(),
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// RetryStore wraps a Store with bounded retries and a circuit breaker.
//
// Storage failures never surface to callers as errors: a failed operation is
// logged, counted against the circuit, and dropped. While the circuit is
// open, mutating calls are no-ops and LoadAll returns an empty result. The
// in-memory pending queue stays authoritative throughout; the durable record
// is a best-effort shadow reconciled on the next startup load.
//
// Retry backoff blocks the calling goroutine, so the staging engine only
// invokes this store from its storage workers, never on the decision path.
type RetryStore struct {
	delegate Store
	cfg      RetryConfig
	logger   *slog.Logger
	now      func() time.Time

	// OnFailure, when set, runs once per operation that exhausts its
	// retries. Set it before the store sees traffic.
	OnFailure func()

	// Circuit state, owned exclusively by this wrapper. External code reads
	// it only through the accessors below.
	consecutiveFailures atomic.Int64
	circuitOpenedAt     atomic.Int64 // unix ms, 0 = not open
}

// NewRetryStore wraps delegate with retry and circuit-breaker protection.
func NewRetryStore(delegate Store, cfg RetryConfig, logger *slog.Logger) *RetryStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &RetryStore{
		delegate: delegate,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// state derives the circuit state from the failure counter and the opened
// timestamp.
func (s *RetryStore) state() string {
	if s.consecutiveFailures.Load() < int64(s.cfg.FailureThreshold) {
		return CircuitClosed
	}
	openedAt := s.circuitOpenedAt.Load()
	if openedAt == 0 {
		return CircuitClosed
	}
	if s.now().UnixMilli()-openedAt < s.cfg.Cooldown.Milliseconds() {
		return CircuitOpen
	}
	return CircuitHalfOpen
}

func (s *RetryStore) recordSuccess() {
	previous := s.consecutiveFailures.Swap(0)
	if previous >= int64(s.cfg.FailureThreshold) {
		s.circuitOpenedAt.Store(0)
		s.logger.Info("circuit breaker closed after successful operation")
	}
}

func (s *RetryStore) recordFailure() {
	if s.OnFailure != nil {
		s.OnFailure()
	}
	failures := s.consecutiveFailures.Add(1)
	if failures < int64(s.cfg.FailureThreshold) {
		return
	}
	// Crossing the threshold opens the circuit; failing a half-open probe
	// re-opens it with a fresh timestamp.
	s.circuitOpenedAt.Store(s.now().UnixMilli())
	s.logger.Warn("circuit breaker opened",
		"consecutive_failures", failures,
		"threshold", s.cfg.FailureThreshold)
}

// execute runs op with retries unless the circuit is open. Errors are
// swallowed: the caller's lifecycle transition must not depend on durability.
func (s *RetryStore) execute(ctx context.Context, name string, op func() error) {
	if s.state() == CircuitOpen {
		s.logger.Warn("circuit breaker open, dropping operation", "op", name)
		return
	}

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			s.recordSuccess()
			return
		}

		if attempt < s.cfg.MaxRetries {
			delay := s.cfg.Policy.Delay(attempt)
			s.logger.Warn("store operation failed, retrying",
				"op", name,
				"attempt", attempt+1,
				"max_attempts", s.cfg.MaxRetries+1,
				"retry_in", delay,
				"error", err)
			if sleepErr := backoff.Sleep(ctx, s.cfg.Policy, attempt); sleepErr != nil {
				break
			}
		} else {
			s.logger.Error("store operation failed, attempts exhausted",
				"op", name,
				"attempts", s.cfg.MaxRetries+1,
				"error", err)
		}
	}

	s.recordFailure()
}

// Save persists a command, retrying on failure. Never returns an error.
func (s *RetryStore) Save(ctx context.Context, cmd *models.StagedCommand) error {
	s.execute(ctx, "save", func() error { return s.delegate.Save(ctx, cmd) })
	return nil
}

// Delete removes a command, retrying on failure. Never returns an error.
func (s *RetryStore) Delete(ctx context.Context, cmd *models.StagedCommand) error {
	s.execute(ctx, "delete", func() error { return s.delegate.Delete(ctx, cmd) })
	return nil
}

// LoadAll loads every persisted command. While the circuit is open, or when
// all attempts fail, it returns an empty result rather than an error.
func (s *RetryStore) LoadAll(ctx context.Context) ([]*models.StagedCommand, error) {
	if s.state() == CircuitOpen {
		s.logger.Warn("circuit breaker open, returning empty result for loadAll")
		return nil, nil
	}

	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		cmds, err := s.delegate.LoadAll(ctx)
		if err == nil {
			s.recordSuccess()
			return cmds, nil
		}

		if attempt < s.cfg.MaxRetries {
			s.logger.Warn("store loadAll failed, retrying",
				"attempt", attempt+1,
				"max_attempts", s.cfg.MaxRetries+1,
				"error", err)
			if sleepErr := backoff.Sleep(ctx, s.cfg.Policy, attempt); sleepErr != nil {
				break
			}
		} else {
			s.logger.Error("store loadAll failed, attempts exhausted",
				"attempts", s.cfg.MaxRetries+1,
				"error", err)
		}
	}

	s.recordFailure()
	return nil, nil
}

// SaveAll persists a batch, retrying on failure. Never returns an error.
func (s *RetryStore) SaveAll(ctx context.Context, cmds []*models.StagedCommand) error {
	s.execute(ctx, "saveAll", func() error { return s.delegate.SaveAll(ctx, cmds) })
	return nil
}

// DeleteAll removes a batch, retrying on failure. Never returns an error.
func (s *RetryStore) DeleteAll(ctx context.Context, cmds []*models.StagedCommand) error {
	s.execute(ctx, "deleteAll", func() error { return s.delegate.DeleteAll(ctx, cmds) })
	return nil
}

// ConsecutiveFailures returns the current consecutive-failure count.
func (s *RetryStore) ConsecutiveFailures() int {
	return int(s.consecutiveFailures.Load())
}

// CircuitOpen reports whether the circuit is currently rejecting operations.
func (s *RetryStore) CircuitOpen() bool {
	return s.state() == CircuitOpen
}

// ResetCircuit clears the breaker. Administrative escape hatch only.
func (s *RetryStore) ResetCircuit() {
	s.consecutiveFailures.Store(0)
	s.circuitOpenedAt.Store(0)
	s.logger.Info("circuit breaker manually reset")
}

// StatusReport renders a human-readable diagnostic summary.
func (s *RetryStore) StatusReport() string {
	state := s.state()
	report := fmt.Sprintf(
		"Retry: max retries %d, base delay %s, max delay %s\nCircuit: %s, consecutive failures %d/%d",
		s.cfg.MaxRetries, s.cfg.Policy.Base, s.cfg.Policy.Max,
		state, s.consecutiveFailures.Load(), s.cfg.FailureThreshold)
	if openedAt := s.circuitOpenedAt.Load(); openedAt != 0 && state != CircuitClosed {
		report += fmt.Sprintf("\nOpened: %s ago (cooldown %s)",
			time.Duration(s.now().UnixMilli()-openedAt)*time.Millisecond, s.cfg.Cooldown)
	}
	return report
}
