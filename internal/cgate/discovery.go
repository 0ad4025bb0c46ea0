package cgate

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// Component is a Home Assistant MQTT discovery component type.
const (
	ComponentLight        = "light"
	ComponentCover        = "cover"
	ComponentSwitch       = "switch"
	ComponentBinarySensor = "binary_sensor"
)

const lightingAppID = "56"

// DiscoveryConfig configures application-ID classification and topic
// naming for tree-XML discovery.
type DiscoveryConfig struct {
	Prefix      string // default "homeassistant"
	CoverAppID  string
	SwitchAppID string
	RelayAppID  string
	PirAppID    string
	SWVersion   string
}

// xmlTree mirrors the root of a C-Gate TREEXML response:
// Network.Interface.Network.Unit[].Application[].Group[].
type xmlTree struct {
	XMLName   xml.Name     `xml:"Network"`
	Interface xmlInterface `xml:"Interface"`
}

type xmlInterface struct {
	Network xmlNetwork `xml:"Network"`
}

type xmlNetwork struct {
	NetworkNumber string     `xml:"NetworkNumber"`
	Units         []xmlUnit  `xml:"Unit"`
}

type xmlUnit struct {
	Applications []xmlApplication `xml:"Application"`
}

type xmlApplication struct {
	ApplicationAddress string     `xml:"ApplicationAddress"`
	Groups             []xmlGroup `xml:"Group"`
}

type xmlGroup struct {
	GroupAddress string `xml:"GroupAddress"`
	Label        string `xml:"Label"`
}

// Discovery requests and parses C-Gate tree XML, publishing Home Assistant
// discovery records and a JSON snapshot of the parsed tree. Grounded on
// the etsimport parser's struct-tag XML decoding style, adapted from a
// device-classification pipeline to a direct app-ID-to-component mapping.
type Discovery struct {
	cfg     DiscoveryConfig
	logger  Logger
	execute func(line string) error
	publish func(Publication)
}

// NewDiscovery creates a Discovery. execute sends a line to the command
// pool (typically Pool.Execute, routed through the C-Gate throttled
// queue by the orchestrator); publish enqueues an MQTT publication.
func NewDiscovery(cfg DiscoveryConfig, logger Logger, execute func(line string) error, publish func(Publication)) *Discovery {
	if logger == nil {
		logger = nopLogger{}
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "homeassistant"
	}
	return &Discovery{cfg: cfg, logger: logger, execute: execute, publish: publish}
}

// RequestTree enqueues a TREEXML request for network. The response
// arrives later, asynchronously, via HandleTreeData.
func (d *Discovery) RequestTree(network string) error {
	return d.execute(fmt.Sprintf("TREEXML %s\n", network))
}

// HandleTreeData parses a completed tree transfer and publishes discovery
// records plus a JSON snapshot of the tree. On parse failure or a network
// number mismatch, it logs and abandons that network's discovery.
func (d *Discovery) HandleTreeData(network, xmlData string) {
	var tree xmlTree
	if err := xml.Unmarshal([]byte(strings.TrimSpace(xmlData)), &tree); err != nil {
		d.logger.Error("tree xml parse failed, abandoning discovery for network", "network", network, "error", err)
		return
	}

	if tree.Interface.Network.NetworkNumber != "" && tree.Interface.Network.NetworkNumber != network {
		d.logger.Error("tree xml network number mismatch, abandoning discovery",
			"requested", network, "parsed", tree.Interface.Network.NetworkNumber)
		return
	}

	for _, unit := range tree.Interface.Network.Units {
		for _, app := range unit.Applications {
			component, model, deviceClass, ok := d.classify(app.ApplicationAddress)
			if !ok {
				continue
			}
			for _, group := range app.Groups {
				d.publishGroupDiscovery(network, app.ApplicationAddress, group, component, model, deviceClass)
			}
		}
	}

	d.publishTreeSnapshot(network, tree)
}

// classify maps an ApplicationAddress to a Home Assistant component, per
// the priority lighting > cover > switch > relay > PIR. An unconfigured
// (empty) app-ID setting never matches.
func (d *Discovery) classify(appID string) (component, model, deviceClass string, ok bool) {
	if appID == "" {
		return "", "", "", false
	}
	switch {
	case appID == lightingAppID:
		return ComponentLight, "Lighting Group", "", true
	case appID == d.cfg.CoverAppID:
		return ComponentCover, "Enable Control Group (Cover)", "shutter", true
	case appID == d.cfg.SwitchAppID:
		return ComponentSwitch, "Enable Control Group (Switch)", "", true
	case appID == d.cfg.RelayAppID:
		return ComponentSwitch, "Enable Control Group (Relay)", "outlet", true
	case appID == d.cfg.PirAppID:
		return ComponentBinarySensor, "PIR Motion Sensor", "motion", true
	default:
		return "", "", "", false
	}
}

func (d *Discovery) publishGroupDiscovery(network, app string, group xmlGroup, component, model, deviceClass string) {
	if group.GroupAddress == "" {
		return
	}

	uniqueID := fmt.Sprintf("cgateweb_%s_%s_%s", network, app, group.GroupAddress)
	name := group.Label
	if name == "" {
		name = fmt.Sprintf("CBus %s %s/%s/%s", component, network, app, group.GroupAddress)
	}

	payload := buildDiscoveryPayload(discoveryParams{
		component:   component,
		uniqueID:    uniqueID,
		name:        name,
		network:     network,
		app:         app,
		group:       group.GroupAddress,
		model:       model,
		deviceClass: deviceClass,
		swVersion:   d.cfg.SWVersion,
	})

	body, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("discovery payload marshal failed", "unique_id", uniqueID, "error", err)
		return
	}

	topic := fmt.Sprintf("%s/%s/%s/config", d.cfg.Prefix, component, uniqueID)
	d.publish(Publication{Topic: topic, Payload: string(body), QoS: 0, Retain: true})
}

func (d *Discovery) publishTreeSnapshot(network string, tree xmlTree) {
	body, err := json.Marshal(tree)
	if err != nil {
		d.logger.Error("tree snapshot marshal failed", "network", network, "error", err)
		return
	}
	topic := fmt.Sprintf("cbus/read/%s///tree", network)
	d.publish(Publication{Topic: topic, Payload: string(body), QoS: 0, Retain: true})
}

// discoveryDevice is the "device" block shared by every discovery payload.
type discoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	ViaDevice    string   `json:"via_device"`
}

// discoveryOrigin is the "origin" block shared by every discovery payload.
type discoveryOrigin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version"`
	SupportURL string `json:"support_url"`
}

// discoveryPayload is the full discovery JSON document. Brightness
// fields are omitted via omitempty for non-light components.
type discoveryPayload struct {
	Name                  string          `json:"name"`
	UniqueID              string          `json:"unique_id"`
	StateTopic            string          `json:"state_topic"`
	CommandTopic          string          `json:"command_topic,omitempty"`
	BrightnessStateTopic  string          `json:"brightness_state_topic,omitempty"`
	BrightnessCommandTopic string         `json:"brightness_command_topic,omitempty"`
	BrightnessScale       int             `json:"brightness_scale,omitempty"`
	OnCommandType         string          `json:"on_command_type,omitempty"`
	PayloadOn             string          `json:"payload_on,omitempty"`
	PayloadOff            string          `json:"payload_off,omitempty"`
	DeviceClass           string          `json:"device_class,omitempty"`
	QoS                   int             `json:"qos"`
	Retain                bool            `json:"retain"`
	Device                discoveryDevice `json:"device"`
	Origin                discoveryOrigin `json:"origin"`
}

type discoveryParams struct {
	component   string
	uniqueID    string
	name        string
	network     string
	app         string
	group       string
	model       string
	deviceClass string
	swVersion   string
}

func buildDiscoveryPayload(p discoveryParams) discoveryPayload {
	stateTopic := fmt.Sprintf("cbus/read/%s/%s/%s/state", p.network, p.app, p.group)

	payload := discoveryPayload{
		Name:        p.name,
		UniqueID:    p.uniqueID,
		StateTopic:  stateTopic,
		DeviceClass: p.deviceClass,
		QoS:         0,
		Retain:      true,
		Device: discoveryDevice{
			Identifiers:  []string{p.uniqueID},
			Name:         p.name,
			Manufacturer: "Clipsal C-Bus via cgateweb",
			Model:        p.model,
			ViaDevice:    "cgateweb_bridge",
		},
		Origin: discoveryOrigin{
			Name:       "cgateweb",
			SWVersion:  p.swVersion,
			SupportURL: "https://github.com/dougrathbone/cgateweb",
		},
	}

	switch p.component {
	case ComponentLight:
		payload.CommandTopic = fmt.Sprintf("cbus/write/%s/%s/%s/ramp", p.network, p.app, p.group)
		payload.BrightnessStateTopic = fmt.Sprintf("cbus/read/%s/%s/%s/level", p.network, p.app, p.group)
		payload.BrightnessCommandTopic = payload.CommandTopic
		payload.BrightnessScale = 100
		payload.OnCommandType = "brightness"
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case ComponentCover, ComponentSwitch:
		payload.CommandTopic = fmt.Sprintf("cbus/write/%s/%s/%s/switch", p.network, p.app, p.group)
		payload.PayloadOn = "ON"
		payload.PayloadOff = "OFF"
	case ComponentBinarySensor:
		// Read-only: no command_topic.
	}

	return payload
}
