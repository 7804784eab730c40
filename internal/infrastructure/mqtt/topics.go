package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the SunTec device bus.
//
// Devices publish on suntec/devices/{deviceId}/state; the gateway owns
// everything under suntec/system.
const (
	TopicPrefix       = "suntec"
	TopicPrefixDevice = "suntec/devices"
	TopicPrefixSystem = "suntec/system"
)

// Topics provides builders for SunTec MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.DeviceState("inv-01") // "suntec/devices/inv-01/state"
type Topics struct{}

// DeviceState returns the topic a device publishes telemetry samples on.
//
// Example: suntec/devices/inv-01/state
func (Topics) DeviceState(deviceID string) string {
	return fmt.Sprintf("%s/%s/state", TopicPrefixDevice, deviceID)
}

// AllDeviceStates returns a pattern matching every device state topic.
//
// Pattern: suntec/devices/+/state
func (Topics) AllDeviceStates() string {
	return TopicPrefixDevice + "/+/state"
}

// SystemStatus returns the gateway status topic used for online/offline
// announcements and the Last Will.
//
// Example: suntec/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// DeviceIDFromTopic extracts the device segment from a concrete topic that
// matches pattern, where pattern contains exactly one "+" wildcard.
// It returns false when the topic does not match.
func DeviceIDFromTopic(pattern, topic string) (string, bool) {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return "", false
	}

	id := ""
	for i, seg := range pp {
		switch seg {
		case "+":
			if tp[i] == "" || id != "" {
				return "", false
			}
			id = tp[i]
		case tp[i]:
		default:
			return "", false
		}
	}
	return id, id != ""
}
