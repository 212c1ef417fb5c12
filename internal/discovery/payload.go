package discovery

import (
	"strings"

	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/config"
	"github.com/nerrad567/rtlamr2mqtt/internal/infrastructure/mqtt"
)

// Origin metadata included in every discovery payload.
const (
	OriginName       = "rtlamr2mqtt"
	OriginSupportURL = "https://github.com/natekspencer/rtlamr2mqtt"
	Manufacturer     = "RTLAMR2MQTT"
)

// DevicePayload is a Home Assistant device discovery message.
type DevicePayload struct {
	Device            Device               `json:"device"`
	Origin            Origin               `json:"origin"`
	Components        map[string]Component `json:"components"`
	AvailabilityTopic string               `json:"availability_topic"`
	QoS               int                  `json:"qos"`
}

type Device struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type Origin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url"`
}

// Component is one entity of the device.
type Component struct {
	Platform            string `json:"platform"`
	Name                string `json:"name"`
	UniqueID            string `json:"unique_id"`
	StateTopic          string `json:"state_topic"`
	ValueTemplate       string `json:"value_template"`
	JSONAttributesTopic string `json:"json_attributes_topic,omitempty"`
	UnitOfMeasurement   string `json:"unit_of_measurement,omitempty"`
	DeviceClass         string `json:"device_class,omitempty"`
	StateClass          string `json:"state_class,omitempty"`
	Icon                string `json:"icon,omitempty"`
	EntityCategory      string `json:"entity_category,omitempty"`
	ExpireAfter         int    `json:"expire_after,omitempty"`
	ForceUpdate         bool   `json:"force_update,omitempty"`
}

// StatePayload is published on {base}/{meter_id}/state.
type StatePayload struct {
	Reading  any    `json:"reading"`
	LastSeen string `json:"lastseen"`
}

// BuildDevicePayload describes one meter as a device with a reading
// sensor and a last-seen timestamp sensor.
func BuildDevicePayload(topics mqtt.Topics, meter config.MeterConfig, version string) DevicePayload {
	id := meter.ID
	readingID := id + "_reading"
	lastSeenID := id + "_lastseen"

	return DevicePayload{
		Device: Device{
			Identifiers:  []string{"meter_" + id},
			Name:         meter.Name,
			Manufacturer: Manufacturer,
			Model:        strings.ToUpper(meter.Protocol),
			SerialNumber: id,
			SWVersion:    version,
		},
		Origin: Origin{
			Name:       OriginName,
			SWVersion:  version,
			SupportURL: OriginSupportURL,
		},
		Components: map[string]Component{
			readingID: {
				Platform:            "sensor",
				Name:                "Reading",
				UniqueID:            readingID,
				StateTopic:          topics.State(id),
				ValueTemplate:       "{{ value_json.reading }}",
				JSONAttributesTopic: topics.Attributes(id),
				UnitOfMeasurement:   meter.UnitOfMeasurement,
				DeviceClass:         meter.DeviceClass,
				StateClass:          meter.StateClass,
				Icon:                meter.Icon,
				ExpireAfter:         meter.ExpireAfter,
				ForceUpdate:         meter.ForceUpdate,
			},
			lastSeenID: {
				Platform:       "sensor",
				Name:           "Last Seen",
				UniqueID:       lastSeenID,
				StateTopic:     topics.State(id),
				ValueTemplate:  "{{ value_json.lastseen }}",
				DeviceClass:    "timestamp",
				EntityCategory: "diagnostic",
			},
		},
		AvailabilityTopic: topics.Status(),
		QoS:               1,
	}
}

// discoveredMeter builds presentation defaults for a meter seen on air
// but not configured.
func discoveredMeter(id, protocol string) config.MeterConfig {
	return config.MeterConfig{
		ID:         id,
		Protocol:   strings.ToLower(protocol),
		Name:       "Meter " + id,
		StateClass: "total_increasing",
	}
}
