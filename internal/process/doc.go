// Package process runs line-oriented child processes such as rtl_tcp and
// rtlamr.
//
// A Child moves through three states:
//
//	starting -> ready -> dead
//
// Start launches the binary in its own process group with stdout and
// stderr merged into a single pipe, then waits for a readiness marker to
// appear in the output. Once ready, every further output line is queued
// and can be taken without blocking via ReadLine. The child becomes dead
// when its exit status is observed or when reading its output fails.
//
// Stop closes the output stream, sends SIGTERM to the process group, and
// escalates to SIGKILL after the graceful timeout. The group is signalled
// even when the leader has already exited, so processes started by a
// wrapper do not outlive it.
//
// Example usage:
//
//	child, err := process.Start(ctx, process.Config{
//	    Name:         "rtlamr",
//	    Binary:       "/usr/bin/rtlamr",
//	    Args:         []string{"-format=json", "-server=127.0.0.1:1234"},
//	    ReadyMarker:  "GainCount:",
//	    ReadyTimeout: 30 * time.Second,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	defer child.Stop()
//
//	if line, ok := child.ReadLine(); ok {
//	    handle(line)
//	}
package process
