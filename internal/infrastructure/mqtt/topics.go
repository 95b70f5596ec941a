package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every bridge topic. Bridge topics use the flat
// scheme graylogic/{category}/{protocol}/{entity_or_request}.
const TopicPrefix = "graylogic"

// Topics builds bridge topic names.
//
//	topics := mqtt.Topics{}
//	topics.BridgeState("mystrom", "switch.kitchen")
//	// Returns: "graylogic/state/mystrom/switch.kitchen"
type Topics struct{}

// BridgeState returns the retained state topic for one entity.
func (Topics) BridgeState(protocol, entityID string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefix, protocol, entityID)
}

// BridgeCommand returns the command topic for one entity.
func (Topics) BridgeCommand(protocol, entityID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, protocol, entityID)
}

// BridgeAck returns the command acknowledgement topic for one entity.
func (Topics) BridgeAck(protocol, entityID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, protocol, entityID)
}

// BridgeHealth returns the bridge health topic, also used for LWT.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, protocol)
}

// BridgeCommands returns the wildcard matching every command for protocol.
//
// Pattern: graylogic/command/{protocol}/+
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, protocol)
}

// EntityFromTopic returns the last level of topic, the entity id for
// state, command and ack topics.
func EntityFromTopic(topic string) string {
	return topic[strings.LastIndex(topic, "/")+1:]
}
