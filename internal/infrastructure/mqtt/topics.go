package mqtt

import "fmt"

// Topic prefixes for the myq-sync MQTT surface.
//
// The host automation system is decoupled from the sync engine through the
// broker: the engine publishes remote device state and trigger events, and
// consumes device commands and local sensor state changes.
const (
	// TopicPrefix is the base for all myq-sync topics.
	TopicPrefix = "myqsync"

	// TopicPrefixSystem is the base for system topics (online status, LWT).
	TopicPrefixSystem = "myqsync/system"
)

// Topics provides builders for myq-sync MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.DeviceState("GW1234567890")
//	// Returns: "myqsync/state/GW1234567890"
type Topics struct{}

// DeviceState returns the topic for remote device state updates,
// keyed by the MyQ serial number. Published retained so late
// subscribers see the current state.
//
// Example: myqsync/state/GW1234567890
func (Topics) DeviceState(serial string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, serial)
}

// DeviceCommand returns the topic for inbound device commands
// (open, close, turnon, turnoff, status).
//
// Example: myqsync/command/GW1234567890
func (Topics) DeviceCommand(serial string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, serial)
}

// AllDeviceCommands returns the wildcard pattern matching every
// device command topic.
func (Topics) AllDeviceCommands() string {
	return TopicPrefix + "/command/+"
}

// SensorState returns the topic on which the host publishes local
// binary-sensor state changes, keyed by the host's sensor device id.
//
// Example: myqsync/sensor/door-contact-01
func (Topics) SensorState(sensorID string) string {
	return fmt.Sprintf("%s/sensor/%s", TopicPrefix, sensorID)
}

// AllSensorStates returns the wildcard pattern matching every sensor
// state topic.
func (Topics) AllSensorStates() string {
	return TopicPrefix + "/sensor/+"
}

// TriggerEvent returns the topic on which consistency-violation
// trigger executions are published.
//
// Example: myqsync/event/trigger/42
func (Topics) TriggerEvent(triggerID int64) string {
	return fmt.Sprintf("%s/event/trigger/%d", TopicPrefix, triggerID)
}

// SystemStatus returns the topic for the engine's online/offline status.
// Used for the retained status message and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
