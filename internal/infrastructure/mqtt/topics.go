package mqtt

import "fmt"

// Topic prefixes for the cgateweb MQTT bridge.
//
// The bridge publishes C-Bus state under cbus/read/..., accepts commands
// under cbus/write/..., announces Home Assistant discovery under
// homeassistant/..., and reports its own liveness under hello/cgateweb.
const (
	// TopicPrefixRead is the base for published C-Bus state/event topics.
	TopicPrefixRead = "cbus/read"

	// TopicPrefixWrite is the base for subscribed C-Bus command topics.
	TopicPrefixWrite = "cbus/write"

	// TopicPrefixDiscovery is the base for Home Assistant MQTT discovery topics.
	TopicPrefixDiscovery = "homeassistant"

	// TopicHello is the bridge's own liveness/LWT topic.
	TopicHello = "hello/cgateweb"
)

// Topics provides builders for cgateweb MQTT topics.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.ReadState(254, 56, 4)
//	// Returns: "cbus/read/254/56/4/state"
type Topics struct{}

// ReadState returns the topic a device's on/off state is published to.
//
// Example: cbus/read/254/56/4/state
func (Topics) ReadState(network, application, group int) string {
	return fmt.Sprintf("%s/%d/%d/%d/state", TopicPrefixRead, network, application, group)
}

// ReadLevel returns the topic a device's ramp level (0-100) is published to.
//
// Example: cbus/read/254/56/4/level
func (Topics) ReadLevel(network, application, group int) string {
	return fmt.Sprintf("%s/%d/%d/%d/level", TopicPrefixRead, network, application, group)
}

// ReadTree returns the topic the parsed tree JSON for a network is published
// to. The doubled separator mirrors the legacy cgateweb tree topic, which
// carries empty application/group segments where state topics carry real ones.
//
// Example: cbus/read/254///tree
func (Topics) ReadTree(network int) string {
	return fmt.Sprintf("%s/%d///tree", TopicPrefixRead, network)
}

// WriteCommandWildcard returns the subscription pattern the bridge listens
// to for commands from MQTT clients.
//
// Pattern: cbus/write/#
func (Topics) WriteCommandWildcard() string {
	return fmt.Sprintf("%s/#", TopicPrefixWrite)
}

// WriteCommand returns the topic a specific device command is published to.
//
// Example: cbus/write/254/56/4/switch
func (Topics) WriteCommand(network, application, group int, kind string) string {
	return fmt.Sprintf("%s/%d/%d/%d/%s", TopicPrefixWrite, network, application, group, kind)
}

// DiscoveryConfig returns the Home Assistant discovery config topic for a
// device, per the Home Assistant MQTT discovery convention.
//
// Example: homeassistant/light/cgateweb_254_56_4/config
func (Topics) DiscoveryConfig(prefix, component, objectID string) string {
	if prefix == "" {
		prefix = TopicPrefixDiscovery
	}
	return fmt.Sprintf("%s/%s/%s/config", prefix, component, objectID)
}

// Hello returns the bridge's own liveness topic, used for both the
// Last Will and Testament and the graceful-online announcement.
//
// Topic: hello/cgateweb
func (Topics) Hello() string {
	return TopicHello
}

// AllReadTopics returns a pattern matching every published C-Bus state topic.
//
// Pattern: cbus/read/#
func (Topics) AllReadTopics() string {
	return fmt.Sprintf("%s/#", TopicPrefixRead)
}
