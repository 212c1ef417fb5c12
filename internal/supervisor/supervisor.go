package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/nerrad567/rtlamr2mqtt/internal/command"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/metrics"
	"github.com/nerrad567/rtlamr2mqtt/internal/process"
)

// Process names used in logs and metrics.
const (
	TunerName   = "rtl_tcp"
	DecoderName = "rtlamr"
)

// startAttempts is the number of tries per Ensure call before giving up.
const startAttempts = 2

// tickleTimeout bounds the TCP connect used to wake rtl_tcp.
const tickleTimeout = 2 * time.Second

// Handle is the view of a child process the supervisor needs.
// *process.Child satisfies it.
type Handle interface {
	Alive() bool
	ReadLine() (string, bool)
	Stop() error
	ExitCode() int
	Stats() process.Stats
}

// StartFunc launches a child and waits for it to become ready.
type StartFunc func(ctx context.Context, cfg process.Config, logger process.Logger) (Handle, error)

// Devices enumerates and resets RTL-SDR dongles. *usbdev.Manager satisfies it.
type Devices interface {
	Find(ctx context.Context) ([]string, error)
	Reset(ctx context.Context, id string) error
}

// Logger defines the logging interface for the supervisor.
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

// Supervisor owns the rtl_tcp and rtlamr child processes.
//
// It is driven from the scheduler goroutine. Only Health may be called
// from other goroutines.
type Supervisor struct {
	cfg     *config.Config
	devices Devices
	metrics *metrics.Metrics
	logger  Logger

	start  StartFunc
	tickle func(ctx context.Context, hostport string) error
	sleep  func(ctx context.Context, d time.Duration) error

	remote bool

	// mu guards the handle fields for Health; writes happen only on the
	// scheduler goroutine.
	mu      sync.RWMutex
	tuner   Handle
	decoder Handle
}

// New creates a Supervisor. m may be nil.
func New(cfg *config.Config, devices Devices, m *metrics.Metrics) *Supervisor {
	return &Supervisor{
		cfg:     cfg,
		devices: devices,
		metrics: m,
		logger:  noopLogger{},
		start:   startChild,
		tickle:  tickle,
		sleep:   sleepContext,
		remote:  !command.IsLocal(cfg.General.RTLTCPHost),
	}
}

// SetLogger sets the logger for the supervisor and the processes it starts.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Remote reports whether rtl_tcp runs on another host.
func (s *Supervisor) Remote() bool {
	return s.remote
}

// EnsureTuner starts rtl_tcp if it is not running. It is a no-op for a
// remote tuner. A returned error is fatal.
func (s *Supervisor) EnsureTuner(ctx context.Context) error {
	if s.remote {
		return nil
	}
	if s.tuner != nil && s.tuner.Alive() {
		return nil
	}

	if s.tuner != nil {
		s.logger.Warn("rtl_tcp has died, restarting", "exit_code", s.tuner.ExitCode())
		s.stopHandle(TunerName, s.tuner)
		s.setTuner(nil)
		s.metrics.ProcessRestarted(TunerName)
	}

	h, err := s.startWithRetry(ctx, TunerName, s.startTuner)
	if err != nil {
		return err
	}
	s.setTuner(h)
	return nil
}

// EnsureDecoder starts rtlamr if it is not running. Before restarting a
// crashed decoder it waits general.restart_delay. started reports whether
// a new decoder was launched, which begins a new read cycle.
func (s *Supervisor) EnsureDecoder(ctx context.Context) (started bool, err error) {
	if s.decoder != nil && s.decoder.Alive() {
		return false, nil
	}

	if s.decoder != nil {
		s.logger.Warn("rtlamr has died, restarting", "exit_code", s.decoder.ExitCode())
		s.stopHandle(DecoderName, s.decoder)
		s.setDecoder(nil)
		s.metrics.ProcessRestarted(DecoderName)

		if delay := s.cfg.General.RestartDelay.Std(); delay > 0 {
			s.logger.Info("waiting before restarting rtlamr", "delay", delay)
			if err := s.sleep(ctx, delay); err != nil {
				return false, err
			}
		}
	}

	h, err := s.startWithRetry(ctx, DecoderName, s.startDecoder)
	if err != nil {
		return false, err
	}
	s.setDecoder(h)
	return true, nil
}

// ReadLine returns the next decoder output line without blocking.
func (s *Supervisor) ReadLine() (string, bool) {
	if s.decoder == nil {
		return "", false
	}
	return s.decoder.ReadLine()
}

// Shutdown stops the decoder and then the tuner. The next Ensure call
// starts them again without a restart delay.
func (s *Supervisor) Shutdown() error {
	var errs []error
	if s.decoder != nil {
		errs = append(errs, s.stopHandle(DecoderName, s.decoder))
		s.setDecoder(nil)
	}
	if s.tuner != nil {
		errs = append(errs, s.stopHandle(TunerName, s.tuner))
		s.setTuner(nil)
	}
	return errors.Join(errs...)
}

// Health reports an error when a running process has died and has not
// been restarted yet. Stopped processes, such as during the sleep between
// cycles, are healthy. Safe for concurrent use.
func (s *Supervisor) Health() error {
	s.mu.RLock()
	handles := []Handle{s.tuner, s.decoder}
	s.mu.RUnlock()

	for _, h := range handles {
		if h == nil {
			continue
		}
		if st := h.Stats(); st.State == process.StateDead {
			return fmt.Errorf("%w: %s exit code %d", ErrProcessDead, st.Name, st.ExitCode)
		}
	}
	return nil
}

func (s *Supervisor) setTuner(h Handle) {
	s.mu.Lock()
	s.tuner = h
	s.mu.Unlock()
}

func (s *Supervisor) setDecoder(h Handle) {
	s.mu.Lock()
	s.decoder = h
	s.mu.Unlock()
}

// startWithRetry tries fn up to startAttempts times.
func (s *Supervisor) startWithRetry(ctx context.Context, name string, fn func(context.Context) (Handle, error)) (Handle, error) {
	var lastErr error
	for attempt := 1; attempt <= startAttempts; attempt++ {
		h, err := fn(ctx)
		if err == nil {
			s.logger.Info("process has started", "name", name)
			s.metrics.ProcessStarted(name)
			return h, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("starting %s: %w", name, ctx.Err())
		}

		lastErr = err
		s.metrics.StartFailed(name)
		s.logger.Error("process failed to start",
			"name", name,
			"attempt", attempt,
			"error", err,
		)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrStartFailed, name, lastErr)
}

func (s *Supervisor) startTuner(ctx context.Context) (Handle, error) {
	devices, err := s.devices.Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("finding RTL-SDR devices: %w", err)
	}

	deviceID := s.cfg.General.DeviceID
	if deviceID == "0" || deviceID == "" {
		if len(devices) == 0 {
			return nil, ErrNoDevice
		}
		deviceID = devices[0]
	} else if !slices.Contains(devices, deviceID) {
		s.logger.Warn("configured device not found, using index 0",
			"device_id", deviceID,
			"found", devices,
		)
	}

	s.logger.Debug("resetting USB device", "device_id", deviceID)
	if err := s.devices.Reset(ctx, deviceID); err != nil {
		s.logger.Warn("USB reset failed", "device_id", deviceID, "error", err)
	}

	args, _ := command.TunerArgs(s.cfg, devices)
	binary, args := command.Wrap(s.cfg.General.Unbuffer, s.cfg.General.RTLTCPBinary, args)

	return s.start(ctx, process.Config{
		Name:         TunerName,
		Binary:       binary,
		Args:         args,
		ReadyMarker:  s.cfg.General.TunerReadyMarker,
		ReadyTimeout: s.cfg.General.ReadyTimeout.Std(),
	}, s.logger)
}

func (s *Supervisor) startDecoder(ctx context.Context) (Handle, error) {
	if err := s.tickle(ctx, s.cfg.General.RTLTCPHost); err != nil {
		s.logger.Debug("rtl_tcp tickle failed", "host", s.cfg.General.RTLTCPHost, "error", err)
	}

	binary, args := command.Wrap(s.cfg.General.Unbuffer, s.cfg.General.RTLAMRBinary, command.DecoderArgs(s.cfg))

	return s.start(ctx, process.Config{
		Name:         DecoderName,
		Binary:       binary,
		Args:         args,
		ReadyMarker:  s.cfg.General.DecoderReadyMarker,
		ReadyTimeout: s.cfg.General.ReadyTimeout.Std(),
	}, s.logger)
}

func (s *Supervisor) stopHandle(name string, h Handle) error {
	if err := h.Stop(); err != nil {
		s.logger.Warn("error stopping process", "name", name, "error", err)
		return err
	}
	return nil
}

// startChild adapts process.Start to StartFunc without leaking a typed nil.
func startChild(ctx context.Context, cfg process.Config, logger process.Logger) (Handle, error) {
	c, err := process.Start(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// tickle opens and closes a TCP connection to rtl_tcp, which wakes it
// before rtlamr connects.
func tickle(ctx context.Context, hostport string) error {
	d := net.Dialer{Timeout: tickleTimeout}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return err
	}
	return conn.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
