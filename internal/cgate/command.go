package cgate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Command kinds, per the MQTT write-topic grammar.
const (
	KindSwitch   = "switch"
	KindRamp     = "ramp"
	KindGetAll   = "getall"
	KindGetTree  = "gettree"
	KindSetValue = "setvalue"
)

// validKinds is the set of command kinds the topic grammar accepts.
// setvalue is accepted but has no handler (reserved, per spec).
var validKinds = map[string]bool{
	KindSwitch:   true,
	KindRamp:     true,
	KindGetAll:   true,
	KindGetTree:  true,
	KindSetValue: true,
}

// commandTopicRe matches "cbus/write/<n>/<a>/<g>/<kind>", where any of
// network/application/group may be empty (getall, gettree wildcards).
var commandTopicRe = regexp.MustCompile(`^cbus/write/(\w*)/(\w*)/(\w*)/(\w+)$`)

// announceTopic triggers discovery regardless of its payload; it does not
// match commandTopicRe (only two segments after cbus/write) so it is
// recognised separately by the caller before calling ParseCommand.
const announceTopic = "cbus/write/bridge/announce"

// IsAnnounceTopic reports whether topic is the special discovery-trigger
// topic, handled outside the regular Command flow.
func IsAnnounceTopic(topic string) bool {
	return topic == announceTopic
}

// Command is a parsed MQTT write-topic command.
type Command struct {
	Address Address
	Kind    string
	Raw     string // original payload, kept for logging invalid cases

	// SwitchOn is set for switch commands, and for ramp ON/OFF payloads.
	SwitchOn *bool

	// Relative is "increase" or "decrease" for ramp INCREASE/DECREASE payloads.
	Relative string

	// Level is the 0-255 scaled absolute level for ramp "<percent>[,<rampTime>]" payloads.
	Level *int

	// RampTime is the opaque suffix passed to C-Gate verbatim (e.g. "2s").
	RampTime string
}

// ParseCommand parses an MQTT write-topic and payload into a Command.
func ParseCommand(topic, payload string) (Command, error) {
	m := commandTopicRe.FindStringSubmatch(topic)
	if m == nil {
		return Command{}, fmt.Errorf("%w: topic %q does not match cbus/write/<n>/<a>/<g>/<kind>", ErrInvalidCommand, topic)
	}

	kind := m[4]
	if !validKinds[kind] {
		return Command{}, fmt.Errorf("%w: unrecognised kind %q", ErrInvalidCommand, kind)
	}

	addr, err := ParseAddress(strings.Join([]string{m[1], m[2], m[3]}, "/"))
	if err != nil {
		return Command{}, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	cmd := Command{Address: addr, Kind: kind, Raw: payload}

	switch kind {
	case KindSwitch:
		on, err := parseSwitchPayload(payload)
		if err != nil {
			return Command{}, err
		}
		cmd.SwitchOn = &on
	case KindRamp:
		if err := parseRampPayload(payload, &cmd); err != nil {
			return Command{}, err
		}
	case KindGetAll, KindGetTree, KindSetValue:
		// No payload grammar; any payload is accepted (getall/gettree
		// ignore it, setvalue is reserved).
	}

	return cmd, nil
}

func parseSwitchPayload(payload string) (bool, error) {
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	default:
		return false, fmt.Errorf("%w: switch payload must be ON or OFF, got %q", ErrInvalidCommand, payload)
	}
}

func parseRampPayload(payload string, cmd *Command) error {
	trimmed := strings.TrimSpace(payload)
	switch strings.ToUpper(trimmed) {
	case "ON":
		on := true
		cmd.SwitchOn = &on
		return nil
	case "OFF":
		off := false
		cmd.SwitchOn = &off
		return nil
	case "INCREASE":
		cmd.Relative = "increase"
		return nil
	case "DECREASE":
		cmd.Relative = "decrease"
		return nil
	}

	parts := strings.SplitN(trimmed, ",", 2)
	percent, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return fmt.Errorf("%w: ramp payload %q is not ON/OFF/INCREASE/DECREASE or a percentage", ErrInvalidCommand, payload)
	}
	percent = clampInt(percent, 0, 100)
	level := int(math.Round(float64(percent) * 255 / 100))
	cmd.Level = &level

	if len(parts) == 2 {
		cmd.RampTime = strings.TrimSpace(parts[1])
	}
	return nil
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
