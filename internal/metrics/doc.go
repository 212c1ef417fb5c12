// Package metrics exposes Prometheus counters for the read/publish loop:
// readings published, decoder lines read and dropped, child process
// starts, restarts and failures, completed read cycles, discovery
// announcements, MQTT publish errors and broker connectivity.
//
// The same server answers /healthz, which fails with 503 while the health
// check passed to Serve reports an error.
//
// Serving is optional (metrics.enabled); when disabled the collectors are
// still updated but never scraped.
package metrics
