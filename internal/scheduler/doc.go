// Package scheduler runs the read loop that ties the processes, the
// extractor, and the publisher together.
//
// The loop moves through these states:
//
//	provisioning -> polling -> cycle_complete -> sleeping -> provisioning
//
// Each iteration resends discovery for any queued Home Assistant status
// messages, makes sure rtl_tcp and rtlamr are running, and handles at
// most one decoder line. A line is extracted twice: once without a meter
// filter so new meters are announced, and once against the known set so
// the reading is published and counted toward the cycle.
//
// With general.sleep_for set, a cycle completes when every known meter
// has reported. Both processes are then stopped and the loop sleeps
// before starting a new cycle. The MQTT connection stays open.
package scheduler
