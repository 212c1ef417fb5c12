package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/metrics"
	"github.com/nerrad567/rtlamr2mqtt/internal/reading"
)

// InboxSize bounds the queue of Home Assistant status messages waiting
// for the scheduler.
const InboxSize = 16

// Supervisor manages the tuner and decoder processes.
// *supervisor.Supervisor satisfies it.
type Supervisor interface {
	EnsureTuner(ctx context.Context) error
	EnsureDecoder(ctx context.Context) (started bool, err error)
	ReadLine() (string, bool)
	Shutdown() error
	Health() error
}

// Publisher announces meters and publishes their readings.
// *discovery.Publisher satisfies it.
type Publisher interface {
	Observe(ctx context.Context, r reading.Reading) error
	Known(id string) bool
	KnownCount() int
	PublishReading(r reading.Reading)
	Resync()
}

// Logger defines the logging interface for the scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Scheduler is the top-level read loop.
type Scheduler struct {
	sup       Supervisor
	pub       Publisher
	extractor *reading.Extractor
	counter   *CycleCounter
	inbox     chan string
	metrics   *metrics.Metrics
	logger    Logger

	sleepFor time.Duration
	poll     time.Duration

	state atomic.Int32
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Scheduler. m may be nil.
func New(cfg *config.Config, sup Supervisor, pub Publisher, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		sup:       sup,
		pub:       pub,
		extractor: reading.NewExtractor(),
		counter:   NewCycleCounter(),
		inbox:     make(chan string, InboxSize),
		metrics:   m,
		logger:    noopLogger{},
		sleepFor:  cfg.General.SleepFor.Std(),
		poll:      cfg.General.PollInterval.Std(),
		sleep:     sleepContext,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	s.logger = logger
}

// State returns the current state. Safe for concurrent use.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Health reports whether the read loop is running with its processes up.
// Safe for concurrent use.
func (s *Scheduler) Health() error {
	if s.State() == StateShuttingDown {
		return ErrStopped
	}
	return s.sup.Health()
}

func (s *Scheduler) setState(st State) {
	if old := State(s.state.Swap(int32(st))); old != st {
		s.logger.Debug("scheduler state", "from", old.String(), "to", st.String())
	}
}

// Offer queues a Home Assistant status message. It never blocks and is
// safe to call from MQTT handler goroutines. A full inbox drops the
// message.
func (s *Scheduler) Offer(payload string) bool {
	select {
	case s.inbox <- payload:
		return true
	default:
		s.metrics.InboxDropped()
		s.logger.Warn("status inbox full, dropping message", "payload", payload)
		return false
	}
}

// Run drives the read loop until ctx is cancelled, returning nil. It
// returns an error only when a process cannot be started. Both processes
// are stopped before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	defer func() {
		s.setState(StateShuttingDown)
		if err := s.sup.Shutdown(); err != nil {
			s.logger.Warn("stopping processes", "error", err)
		}
	}()

	s.setState(StateProvisioning)
	for {
		if ctx.Err() != nil {
			return nil
		}

		s.drainInbox()

		if err := s.sup.EnsureTuner(ctx); err != nil {
			return s.fatal(ctx, err)
		}
		started, err := s.sup.EnsureDecoder(ctx)
		if err != nil {
			return s.fatal(ctx, err)
		}
		if started {
			s.counter.Reset()
		}
		s.setState(StatePolling)

		if line, ok := s.sup.ReadLine(); ok {
			s.metrics.LineRead()
			if err := s.handleLine(ctx, line); err != nil {
				return nil
			}
		}

		if s.cycleComplete() {
			if err := s.completeCycle(ctx); err != nil {
				return nil
			}
			continue
		}

		if err := s.sleep(ctx, s.poll); err != nil {
			return nil
		}
	}
}

// fatal maps a start error to Run's result. Errors caused by
// cancellation are a normal shutdown.
func (s *Scheduler) fatal(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Scheduler) drainInbox() {
	for {
		select {
		case payload := <-s.inbox:
			s.logger.Info("Home Assistant status received, resending discovery", "payload", payload)
			s.pub.Resync()
		default:
			return
		}
	}
}

// handleLine runs both extraction passes over one decoder line. Only a
// cancelled discovery pause returns an error.
func (s *Scheduler) handleLine(ctx context.Context, line string) error {
	r, ok := s.extractor.Extract(line)
	if !ok {
		s.metrics.LineDropped()
		s.logger.Debug("decoder output", "line", line)
		return nil
	}
	if err := s.pub.Observe(ctx, r); err != nil {
		return err
	}

	r, ok = s.extractor.ExtractFor(line, s.pub.Known)
	if !ok {
		return nil
	}
	s.counter.Add(r.MeterID)
	s.pub.PublishReading(r)
	return nil
}

func (s *Scheduler) cycleComplete() bool {
	if s.sleepFor <= 0 {
		return false
	}
	n := s.pub.KnownCount()
	return n > 0 && s.counter.Len() >= n
}

func (s *Scheduler) completeCycle(ctx context.Context) error {
	s.setState(StateCycleComplete)
	s.logger.Info("all meters reported, sleeping", "meters", s.counter.Len(), "sleep_for", s.sleepFor)

	if err := s.sup.Shutdown(); err != nil {
		s.logger.Warn("stopping processes", "error", err)
	}
	s.counter.Reset()
	s.metrics.CycleCompleted()

	s.setState(StateSleeping)
	if err := s.sleep(ctx, s.sleepFor); err != nil {
		return err
	}
	s.setState(StateProvisioning)
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
