// Package supervisor keeps rtl_tcp and rtlamr running for the scheduler.
//
// rtl_tcp must be reachable before rtlamr starts, so the scheduler calls
// EnsureTuner and then EnsureDecoder on every loop iteration. Each call
// is a liveness check: a live process is left alone, a dead one is
// stopped and started again.
//
// Starting rtl_tcp locally involves:
//  1. Enumerating dongles and resolving device_id ("0" means the first)
//  2. Resetting the dongle (skipped in mock mode)
//  3. Launching rtl_tcp and waiting for "listening..."
//
// Starting rtlamr opens and closes a TCP connection to rtl_tcp first,
// then waits for "GainCount:". A failed start is retried once; a second
// failure returns ErrStartFailed, which ends the program.
//
// When rtltcp_host is not a loopback address rtl_tcp is remote: no local
// tuner is started or stopped and rtlamr connects to the remote host.
package supervisor
