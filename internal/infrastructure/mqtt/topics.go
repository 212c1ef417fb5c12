package mqtt

import "fmt"

// Status payloads published on the status topic.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Topics builds the rtlamr2mqtt topic hierarchy.
//
//	topics := mqtt.Topics{Base: "rtlamr", Discovery: "homeassistant"}
//	topics.State("33333333")
//	// Returns: "rtlamr/33333333/state"
type Topics struct {
	// Base prefixes status, state and attribute topics.
	Base string

	// Discovery prefixes Home Assistant discovery topics.
	Discovery string
}

// Status returns the shared availability topic, also used for the last will.
//
// Example: rtlamr/status
func (t Topics) Status() string {
	return fmt.Sprintf("%s/status", t.Base)
}

// State returns the per-meter reading topic.
//
// Example: rtlamr/33333333/state
func (t Topics) State(meterID string) string {
	return fmt.Sprintf("%s/%s/state", t.Base, meterID)
}

// Attributes returns the per-meter attributes topic.
//
// Example: rtlamr/33333333/attributes
func (t Topics) Attributes(meterID string) string {
	return fmt.Sprintf("%s/%s/attributes", t.Base, meterID)
}

// DeviceDiscovery returns the Home Assistant device discovery topic.
//
// Example: homeassistant/device/33333333/config
func (t Topics) DeviceDiscovery(meterID string) string {
	return fmt.Sprintf("%s/device/%s/config", t.Discovery, meterID)
}
