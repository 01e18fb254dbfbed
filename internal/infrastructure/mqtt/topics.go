package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the gateway's MQTT surface.
//
// The scheme is flat: rflink/{category}/{device_id}[/suffix], with device
// ids in their serialized form ("newkaku_00cac142_1").
const (
	// TopicPrefix is the base for all gateway topics.
	TopicPrefix = "rflink"

	// TopicPrefixSystem is the base for service-level topics.
	TopicPrefixSystem = "rflink/system"
)

// Topics provides builders for the gateway's MQTT topics. Using these
// helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("newkaku_00cac142_1")
//	// Returns: "rflink/state/newkaku_00cac142_1"
type Topics struct{}

// State returns the topic for switch state updates of one device.
//
// Example: rflink/state/newkaku_00cac142_1
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Sensor returns the topic for sensor readings of one device measurement.
//
// Example: rflink/sensor/alectov1_0334_temp
func (Topics) Sensor(deviceID string) string {
	return fmt.Sprintf("%s/sensor/%s", TopicPrefix, deviceID)
}

// Command returns the topic on which commands for one device arrive.
//
// Example: rflink/command/newkaku_00cac142_1/set
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s/set", TopicPrefix, deviceID)
}

// SystemStatus returns the service status topic (retained, with LWT).
//
// Example: rflink/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// GatewayStatus returns the topic carrying the RF gateway link state
// (retained). Distinct from SystemStatus, which tracks the service
// process itself.
//
// Example: rflink/system/gateway
func (Topics) GatewayStatus() string {
	return fmt.Sprintf("%s/gateway", TopicPrefixSystem)
}

// AllCommands returns a pattern matching every device command topic.
//
// Pattern: rflink/command/+/set
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+/set", TopicPrefix)
}

// AllStates returns a pattern matching every switch state topic.
//
// Pattern: rflink/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllSensors returns a pattern matching every sensor reading topic.
//
// Pattern: rflink/sensor/+
func (Topics) AllSensors() string {
	return fmt.Sprintf("%s/sensor/+", TopicPrefix)
}

// AllTopics returns a pattern matching every gateway topic.
// Use with caution, this receives ALL traffic.
//
// Pattern: rflink/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// DeviceFromCommandTopic extracts the device id from a command topic as
// delivered for the AllCommands pattern.
//
//	DeviceFromCommandTopic("rflink/command/newkaku_00cac142_1/set")
//	// "newkaku_00cac142_1", true
func (Topics) DeviceFromCommandTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "command" ||
		parts[3] != "set" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
