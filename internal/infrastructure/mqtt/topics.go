package mqtt

import "fmt"

// Topic prefixes for the dispatch broker surfaces.
//
// Scheme: dispatch/{category}/{id}
const (
	// TopicPrefix is the base for all dispatch topics.
	TopicPrefix = "dispatch"

	// TopicPrefixSystem is the base for hub system topics.
	TopicPrefixSystem = "dispatch/system"
)

// Topics provides builders for dispatch MQTT topics. Using the helpers
// keeps topic naming consistent across publishers and subscribers.
type Topics struct{}

// DevicePresence returns the retained presence topic for a device.
//
// Example: dispatch/presence/pump-17
func (Topics) DevicePresence(deviceID string) string {
	return fmt.Sprintf("%s/presence/%s", TopicPrefix, deviceID)
}

// Telemetry returns the telemetry ingest topic for a sensor.
//
// Example: dispatch/telemetry/temp-042
func (Topics) Telemetry(sensorID string) string {
	return fmt.Sprintf("%s/telemetry/%s", TopicPrefix, sensorID)
}

// AllTelemetry returns a pattern matching every sensor's telemetry topic.
//
// Pattern: dispatch/telemetry/+
func (Topics) AllTelemetry() string {
	return fmt.Sprintf("%s/telemetry/+", TopicPrefix)
}

// SystemStatus returns the retained hub status topic, also used as the
// Last Will target.
//
// Example: dispatch/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// SensorFromTelemetryTopic extracts the sensor ID from a telemetry topic.
// Returns false for topics outside the telemetry hierarchy.
func SensorFromTelemetryTopic(topic string) (string, bool) {
	prefix := TopicPrefix + "/telemetry/"
	if len(topic) <= len(prefix) || topic[:len(prefix)] != prefix {
		return "", false
	}
	return topic[len(prefix):], true
}
