package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func shellConfig(name, script string) Config {
	return Config{
		Name:            name,
		Binary:          "/bin/sh",
		Args:            []string{"-c", script},
		ReadyMarker:     "listening...",
		ReadyTimeout:    5 * time.Second,
		GracefulTimeout: 500 * time.Millisecond,
	}
}

// waitForLine polls ReadLine until a line arrives or the deadline passes.
func waitForLine(t *testing.T, c *Child, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if line, ok := c.ReadLine(); ok {
			return line
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no output line within %v", timeout)
	return ""
}

func waitForDead(t *testing.T, c *Child, timeout time.Duration) {
	t.Helper()
	select {
	case <-c.exited:
	case <-time.After(timeout):
		t.Fatalf("process %s did not exit within %v", c.cfg.Name, timeout)
	}
}

func TestStart_BecomesReady(t *testing.T) {
	c, err := Start(context.Background(),
		shellConfig("tuner", "echo booting; echo 'listening...'; echo first; echo second; sleep 30"),
		nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if c.State() != StateReady {
		t.Errorf("State() = %q, want %q", c.State(), StateReady)
	}
	if !c.Alive() {
		t.Error("Alive() = false after Start()")
	}
	if c.PID() == 0 {
		t.Error("PID() = 0 after Start()")
	}
	if c.ExitCode() != -1 {
		t.Errorf("ExitCode() = %d while running, want -1", c.ExitCode())
	}

	// Lines printed before the marker are not queued.
	if got := waitForLine(t, c, 2*time.Second); got != "first" {
		t.Errorf("first ReadLine() = %q, want %q", got, "first")
	}
	if got := waitForLine(t, c, 2*time.Second); got != "second" {
		t.Errorf("second ReadLine() = %q, want %q", got, "second")
	}
}

func TestStart_MergesStderr(t *testing.T) {
	cfg := shellConfig("decoder", "echo 'GainCount: 29' 1>&2; echo '{\"Type\":\"SCM\"}' 1>&2; sleep 30")
	cfg.ReadyMarker = "GainCount:"
	c, err := Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if got := waitForLine(t, c, 2*time.Second); got != `{"Type":"SCM"}` {
		t.Errorf("ReadLine() = %q, want stderr line", got)
	}
}

func TestReadLine_EmptyIsNotEOF(t *testing.T) {
	c, err := Start(context.Background(), shellConfig("quiet", "echo 'listening...'; sleep 30"), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if line, ok := c.ReadLine(); ok {
		t.Errorf("ReadLine() = %q, true; want no data", line)
	}
	if !c.Alive() {
		t.Error("Alive() = false with no output, want true")
	}
}

func TestStart_ExitBeforeReady(t *testing.T) {
	_, err := Start(context.Background(), shellConfig("crashy", "echo 'usb_open error -3'; exit 3"), nil)
	if err == nil {
		t.Fatal("Start() expected error, got nil")
	}
	if !errors.Is(err, ErrExited) {
		t.Errorf("Start() error = %v, want ErrExited", err)
	}
}

func TestStart_ReadyTimeout(t *testing.T) {
	cfg := shellConfig("silent", "sleep 30")
	cfg.ReadyTimeout = 200 * time.Millisecond

	start := time.Now()
	_, err := Start(context.Background(), cfg, nil)
	if !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("Start() error = %v, want ErrReadyTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("Start() took %v, want prompt kill after timeout", elapsed)
	}
}

func TestStart_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := Start(ctx, shellConfig("cancelled", "sleep 30"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Start() error = %v, want context.Canceled", err)
	}
}

func TestStart_InvalidBinary(t *testing.T) {
	cfg := shellConfig("missing", "")
	cfg.Binary = "/nonexistent/binary"

	_, err := Start(context.Background(), cfg, nil)
	if err == nil {
		t.Fatal("Start() with invalid binary expected error, got nil")
	}
	if errors.Is(err, ErrExited) || errors.Is(err, ErrReadyTimeout) {
		t.Errorf("Start() error = %v, want launch error", err)
	}
}

func TestStart_EmptyMarkerIsReadyImmediately(t *testing.T) {
	cfg := shellConfig("plain", "echo hello; sleep 30")
	cfg.ReadyMarker = ""

	c, err := Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	if got := waitForLine(t, c, 2*time.Second); got != "hello" {
		t.Errorf("ReadLine() = %q, want %q", got, "hello")
	}
}

func TestChild_CrashAfterReady(t *testing.T) {
	c, err := Start(context.Background(), shellConfig("flaky", "echo 'listening...'; sleep 0.2; exit 2"), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	waitForDead(t, c, 3*time.Second)

	if c.Alive() {
		t.Error("Alive() = true after exit")
	}
	if c.State() != StateDead {
		t.Errorf("State() = %q, want %q", c.State(), StateDead)
	}
	if c.ExitCode() != 2 {
		t.Errorf("ExitCode() = %d, want 2", c.ExitCode())
	}
}

func TestChild_StopGraceful(t *testing.T) {
	c, err := Start(context.Background(), shellConfig("tuner", "echo 'listening...'; sleep 30"), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	start := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Stop() took %v, want quick SIGTERM exit", elapsed)
	}
	if c.Alive() {
		t.Error("Alive() = true after Stop()")
	}

	// Second Stop is a no-op.
	if err := c.Stop(); err != nil {
		t.Errorf("second Stop() error: %v", err)
	}
}

func TestChild_StopEscalatesToKill(t *testing.T) {
	cfg := shellConfig("stubborn", "trap '' TERM; echo 'listening...'; sleep 30")
	cfg.GracefulTimeout = 200 * time.Millisecond

	c, err := Start(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	start := time.Now()
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < cfg.GracefulTimeout {
		t.Errorf("Stop() took %v, want at least the graceful timeout", elapsed)
	}
	if elapsed > 3*time.Second {
		t.Errorf("Stop() took %v, want SIGKILL soon after timeout", elapsed)
	}
	if c.State() != StateDead {
		t.Errorf("State() = %q after Stop(), want %q", c.State(), StateDead)
	}
}

func TestChild_Stats(t *testing.T) {
	c, err := Start(context.Background(), shellConfig("stats", "echo 'listening...'; echo one; sleep 30"), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	defer c.Stop()

	waitForLine(t, c, 2*time.Second)

	stats := c.Stats()
	if stats.Name != "stats" {
		t.Errorf("Stats.Name = %q, want %q", stats.Name, "stats")
	}
	if stats.State != StateReady {
		t.Errorf("Stats.State = %q, want %q", stats.State, StateReady)
	}
	if stats.PID == 0 {
		t.Error("Stats.PID = 0")
	}
	if stats.Lines != 1 {
		t.Errorf("Stats.Lines = %d, want 1", stats.Lines)
	}
}

// readPID waits for a shell script to write a PID to path.
func readPID(t *testing.T, path string) int {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		data, err := os.ReadFile(path)
		if err == nil {
			if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
				return pid
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no PID written to %s", path)
	return 0
}

// processGone reports whether pid has exited. An unreaped zombie counts
// as gone since it no longer holds any resources.
func processGone(pid int) bool {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "stat"))
	if err != nil {
		return true
	}
	// The state follows the parenthesised command name.
	stat := string(data)
	i := strings.LastIndexByte(stat, ')')
	return i >= 0 && i+2 < len(stat) && stat[i+2] == 'Z'
}

func waitGone(t *testing.T, pid int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if processGone(pid) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("process %d still running after Stop()", pid)
}

func TestStart_ExitBeforeReadyStopsLeftovers(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	script := "sleep 30 & echo $! > " + pidFile + "; exit 0"

	_, err := Start(context.Background(), shellConfig("wrapper", script), nil)
	if !errors.Is(err, ErrExited) {
		t.Fatalf("Start() error = %v, want ErrExited", err)
	}

	waitGone(t, readPID(t, pidFile), 2*time.Second)
}

func TestChild_StopAfterLeaderExit(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "pid")
	script := "echo 'listening...'; sleep 30 & echo $! > " + pidFile + "; sleep 0.1; exit 0"

	c, err := Start(context.Background(), shellConfig("wrapper", script), nil)
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	pid := readPID(t, pidFile)
	waitForDead(t, c, 3*time.Second)

	if processGone(pid) {
		t.Fatal("background process exited on its own")
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
	waitGone(t, pid, 2*time.Second)
}
