package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// State is the lifecycle state of a child process.
type State string

const (
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateDead     State = "dead"
)

const (
	defaultReadyTimeout    = 30 * time.Second
	defaultGracefulTimeout = time.Second
	defaultLineBuffer      = 256

	groupPollInterval = 20 * time.Millisecond

	// maxLineLength bounds a single output line; decoder JSON lines are far smaller.
	maxLineLength = 1 << 20
)

// Config holds configuration for a child process.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	// If nil, inherits from parent process.
	Env []string

	// ReadyMarker is a substring that marks the process as ready when it
	// appears in the merged output. Empty means ready as soon as started.
	ReadyMarker string

	// ReadyTimeout bounds the wait for ReadyMarker.
	ReadyTimeout time.Duration

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// LineBuffer is the number of output lines held for ReadLine.
	LineBuffer int
}

// Logger defines the logging interface for child processes.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Child is a running child process with its stdout and stderr merged into
// one line stream.
type Child struct {
	cfg    Config
	logger Logger

	cmd    *exec.Cmd
	output *os.File

	lines   chan string
	ready   chan struct{}
	exited  chan struct{}
	closing chan struct{}

	mu        sync.RWMutex
	state     State
	exitCode  int
	readErr   error
	startTime time.Time
	lineCount uint64

	stopOnce sync.Once
}

// Start launches the child and blocks until it is ready.
//
// It returns ErrExited if the process exits first, ErrReadyTimeout if the
// marker does not appear within ReadyTimeout, or the context error if ctx
// is cancelled. In every failure case the process has been stopped.
func Start(ctx context.Context, cfg Config, logger Logger) (*Child, error) {
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.LineBuffer <= 0 {
		cfg.LineBuffer = defaultLineBuffer
	}
	if logger == nil {
		logger = noopLogger{}
	}

	c := &Child{
		cfg:      cfg,
		logger:   logger,
		lines:    make(chan string, cfg.LineBuffer),
		ready:    make(chan struct{}),
		exited:   make(chan struct{}),
		closing:  make(chan struct{}),
		state:    StateStarting,
		exitCode: -1,
	}

	if cfg.ReadyMarker == "" {
		c.markReady()
	}

	if err := c.launch(); err != nil {
		return nil, err
	}

	timer := time.NewTimer(cfg.ReadyTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
		logger.Info("process ready", "name", cfg.Name, "pid", c.PID())
		return c, nil

	case <-c.exited:
		select {
		case <-c.ready:
			// Marker seen just before exit; the caller sees a dead child.
			return c, nil
		default:
		}
		c.Stop()
		return nil, fmt.Errorf("%w: %s exit code %d", ErrExited, cfg.Name, c.ExitCode())

	case <-timer.C:
		c.Stop()
		return nil, fmt.Errorf("%w: %s after %v", ErrReadyTimeout, cfg.Name, cfg.ReadyTimeout)

	case <-ctx.Done():
		c.Stop()
		return nil, fmt.Errorf("starting %s: %w", cfg.Name, ctx.Err())
	}
}

// launch starts the process in its own process group with a merged output pipe.
func (c *Child) launch() error {
	c.logger.Info("starting process",
		"name", c.cfg.Name,
		"binary", c.cfg.Binary,
		"args", c.cfg.Args,
	)

	cmd := exec.Command(c.cfg.Binary, c.cfg.Args...) //nolint:gosec // Binary path comes from validated config

	// A new process group lets Stop signal the wrapper and its children together.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if c.cfg.Env != nil {
		cmd.Env = append(os.Environ(), c.cfg.Env...)
	}

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("creating output pipe: %w", err)
	}
	cmd.Stdout = w
	cmd.Stderr = w

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return fmt.Errorf("starting %s: %w", c.cfg.Name, err)
	}
	// The child holds its own copy of the write end.
	w.Close()

	c.mu.Lock()
	c.cmd = cmd
	c.output = r
	c.startTime = time.Now()
	c.mu.Unlock()

	go c.readLoop(r)
	go c.waitLoop()

	c.logger.Info("process started", "name", c.cfg.Name, "pid", cmd.Process.Pid)
	return nil
}

// readLoop scans merged output. Before readiness lines are only checked
// for the marker; afterwards they are queued for ReadLine.
func (c *Child) readLoop(r *os.File) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	for scanner.Scan() {
		line := scanner.Text()

		if c.State() == StateStarting {
			c.logger.Debug("process output", "name", c.cfg.Name, "output", line)
			if strings.Contains(line, c.cfg.ReadyMarker) {
				c.markReady()
			}
			continue
		}

		c.mu.Lock()
		c.lineCount++
		c.mu.Unlock()

		select {
		case c.lines <- line:
		case <-c.closing:
			return
		}
	}

	err := scanner.Err()
	select {
	case <-c.closing:
		return
	default:
	}
	if err != nil && !errors.Is(err, os.ErrClosed) {
		c.logger.Warn("process output read failed", "name", c.cfg.Name, "error", err)
		c.mu.Lock()
		c.readErr = err
		c.mu.Unlock()
	}
}

// waitLoop records the exit status.
func (c *Child) waitLoop() {
	err := c.cmd.Wait()

	c.mu.Lock()
	c.state = StateDead
	if c.cmd.ProcessState != nil {
		c.exitCode = c.cmd.ProcessState.ExitCode()
	}
	code := c.exitCode
	c.mu.Unlock()

	close(c.exited)
	c.logger.Debug("process exited", "name", c.cfg.Name, "exit_code", code, "error", err)
}

func (c *Child) markReady() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStarting {
		return
	}
	c.state = StateReady
	close(c.ready)
}

// ReadLine returns the next queued output line without blocking.
func (c *Child) ReadLine() (string, bool) {
	select {
	case line := <-c.lines:
		return line, true
	default:
		return "", false
	}
}

// Alive reports whether the process is running and its output is readable.
func (c *Child) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state != StateDead && c.readErr == nil
}

// State returns the current lifecycle state. A read error counts as dead.
func (c *Child) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.readErr != nil {
		return StateDead
	}
	return c.state
}

// ExitCode returns the exit code, or -1 while running or when killed by a signal.
func (c *Child) ExitCode() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exitCode
}

// PID returns the process ID, or 0 if not started.
func (c *Child) PID() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cmd != nil && c.cmd.Process != nil {
		return c.cmd.Process.Pid
	}
	return 0
}

// Stop closes the output stream and terminates the process group.
// It sends SIGTERM, waits up to GracefulTimeout, then sends SIGKILL and
// waits for exit. Calling Stop more than once is a no-op.
func (c *Child) Stop() error {
	var stopErr error
	c.stopOnce.Do(func() {
		stopErr = c.stop()
	})
	return stopErr
}

func (c *Child) stop() error {
	close(c.closing)

	c.mu.RLock()
	output := c.output
	cmd := c.cmd
	c.mu.RUnlock()

	if output != nil {
		output.Close()
	}
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	c.logger.Info("stopping process", "name", c.cfg.Name, "pid", pid)

	// Negative PID signals the whole process group created via Setpgid.
	// The group is signalled even after the leader exits, since a wrapper
	// such as unbuffer can leave the real process behind.
	if err := unix.Kill(-pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
		c.logger.Warn("failed to send SIGTERM to process group", "name", c.cfg.Name, "error", err)
	}

	if c.waitGroup(pid, c.cfg.GracefulTimeout) {
		c.logger.Info("process stopped gracefully", "name", c.cfg.Name)
		return nil
	}
	c.logger.Warn("graceful shutdown timeout, sending SIGKILL",
		"name", c.cfg.Name,
		"timeout", c.cfg.GracefulTimeout,
	)

	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", c.cfg.Name, err)
	}

	<-c.exited
	c.logger.Info("process killed", "name", c.cfg.Name)
	return nil
}

// waitGroup reports whether the leader has been reaped and no member of
// its process group remains before timeout.
func (c *Child) waitGroup(pid int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(groupPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.exited:
			if groupGone(pid) {
				return true
			}
		default:
		}

		select {
		case <-deadline.C:
			return false
		case <-ticker.C:
		}
	}
}

// groupGone reports whether no process remains in the group.
func groupGone(pid int) bool {
	return errors.Is(unix.Kill(-pid, 0), unix.ESRCH)
}

// Stats returns statistics about the child process.
type Stats struct {
	Name     string        `json:"name"`
	State    State         `json:"state"`
	PID      int           `json:"pid,omitempty"`
	Uptime   time.Duration `json:"uptime,omitempty"`
	ExitCode int           `json:"exit_code"`
	Lines    uint64        `json:"lines"`
}

// Stats returns current statistics for the process.
func (c *Child) Stats() Stats {
	state := c.State()

	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := Stats{
		Name:     c.cfg.Name,
		State:    state,
		ExitCode: c.exitCode,
		Lines:    c.lineCount,
	}
	if c.cmd != nil && c.cmd.Process != nil {
		stats.PID = c.cmd.Process.Pid
	}
	if state != StateDead {
		stats.Uptime = time.Since(c.startTime)
	}
	return stats
}
