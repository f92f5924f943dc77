package mqtt

import (
	"fmt"
	"strings"
)

const (
	// TopicPrefixHub is the base for topics the hub publishes.
	TopicPrefixHub = "graylogic/hub"

	// TopicPrefixBridge is the base for bridge module traffic.
	// Scheme: graylogic/bridge/{module}/{kind}/{hardware_address_or_request_id}
	TopicPrefixBridge = "graylogic/bridge"
)

// Topics builds the hub's MQTT topics.
//
//	topic := mqtt.Topics{}.BridgeCommand("garage", "aa:bb:cc:dd:ee:ff")
//	// graylogic/bridge/garage/command/aa:bb:cc:dd:ee:ff
type Topics struct{}

// HubStatus is the retained online/offline status of a hub instance.
func (Topics) HubStatus(hubID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixHub, hubID)
}

// HubEvent carries mirrored state changes of one device service.
func (Topics) HubEvent(deviceID, serviceID string) string {
	return fmt.Sprintf("%s/event/%s/%s", TopicPrefixHub, deviceID, serviceID)
}

// AllHubEvents matches every mirrored event.
func (Topics) AllHubEvents() string {
	return TopicPrefixHub + "/event/+/+"
}

// BridgeAnnounce is where a bridged device publishes its specification
// when it comes online.
func (Topics) BridgeAnnounce(module, hwAddr string) string {
	return bridgeTopic(module, "announce", hwAddr)
}

// BridgeOffline signals that a bridged device went away.
func (Topics) BridgeOffline(module, hwAddr string) string {
	return bridgeTopic(module, "offline", hwAddr)
}

// BridgeState carries state variable updates from a bridged device.
func (Topics) BridgeState(module, hwAddr string) string {
	return bridgeTopic(module, "state", hwAddr)
}

// BridgeCommand carries action invocations to a bridged device.
func (Topics) BridgeCommand(module, hwAddr string) string {
	return bridgeTopic(module, "command", hwAddr)
}

// BridgeResponse carries the reply to one command.
func (Topics) BridgeResponse(module, requestID string) string {
	return bridgeTopic(module, "response", requestID)
}

// BridgeDiscover asks every device behind a bridge to re-announce.
func (Topics) BridgeDiscover(module string) string {
	return fmt.Sprintf("%s/%s/discover", TopicPrefixBridge, module)
}

// AllBridgeAnnouncements matches the announce topic of every device of a module.
func (Topics) AllBridgeAnnouncements(module string) string {
	return bridgeTopic(module, "announce", "+")
}

// AllBridgeOffline matches the offline topic of every device of a module.
func (Topics) AllBridgeOffline(module string) string {
	return bridgeTopic(module, "offline", "+")
}

// AllBridgeStates matches the state topic of every device of a module.
func (Topics) AllBridgeStates(module string) string {
	return bridgeTopic(module, "state", "+")
}

// AllBridgeResponses matches every command response of a module.
func (Topics) AllBridgeResponses(module string) string {
	return bridgeTopic(module, "response", "+")
}

func bridgeTopic(module, kind, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixBridge, module, kind, leaf)
}

// LastSegment returns the final level of a topic, e.g. the hardware
// address of a bridge topic.
func LastSegment(topic string) string {
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		return topic[i+1:]
	}
	return topic
}
