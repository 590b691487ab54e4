package mqtt

import "fmt"

// Topic prefixes for the CorePost event bus.
//
// The backend only publishes; monitoring tooling and dashboards subscribe.
// Scheme: corepost/{category}/...
const (
	// TopicPrefixEvents is the base for device lifecycle and panic events.
	TopicPrefixEvents = "corepost/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "corepost/system"
)

// Topics provides builders for CorePost MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
type Topics struct{}

// DeviceEvent returns the per-device event topic.
//
// Example: corepost/events/device/a3f9c2e18b4d6071
func (Topics) DeviceEvent(deviceID string) string {
	return fmt.Sprintf("%s/device/%s", TopicPrefixEvents, deviceID)
}

// PanicEvent returns the fleet-wide panic event topic.
//
// Example: corepost/events/panic
func (Topics) PanicEvent() string {
	return fmt.Sprintf("%s/panic", TopicPrefixEvents)
}

// SystemStatus returns the backend status topic (online/offline, LWT).
//
// Example: corepost/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllDeviceEvents returns a pattern matching every per-device event topic.
//
// Pattern: corepost/events/device/+
func (Topics) AllDeviceEvents() string {
	return fmt.Sprintf("%s/device/+", TopicPrefixEvents)
}
