// Package discovery announces meters to Home Assistant and publishes
// their readings.
//
// Each meter is announced once per run with a device discovery payload
// on {discovery}/device/{meter_id}/config. Configured meters are
// announced at startup; meters first seen on air are announced when
// their first reading arrives, followed by a short pause so Home
// Assistant registers the device before its first state message.
//
// When Home Assistant publishes on its status topic (it restarted and
// forgot retained-less discovery), Resync announces every known meter
// again without changing the cache.
package discovery
