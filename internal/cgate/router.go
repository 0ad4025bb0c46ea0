package cgate

import (
	"fmt"
	"time"
)

const relativeDimStep = 26
const defaultRelativeDimTimeout = 5 * time.Second

// CommandRouter translates parsed MQTT commands into C-Gate command lines,
// enqueuing them through the caller-supplied enqueue function (normally
// the C-Gate throttled queue). Relative ramp operations (INCREASE/
// DECREASE) suspend on the tracker's one-shot level delivery before
// computing and enqueuing the final RAMP line.
type CommandRouter struct {
	project            string
	enqueue            func(line string)
	tracker            *Tracker
	discoveryEnabled   bool
	onTreeRequested    func(network string)
	onAnnounce         func()
	relativeDimTimeout time.Duration
	logger             Logger
}

// NewCommandRouter creates a router. project is the C-Gate project name
// used in every "//<project>/..." path. logger may be nil.
func NewCommandRouter(project string, tracker *Tracker, discoveryEnabled bool, enqueue func(line string), logger Logger) *CommandRouter {
	if logger == nil {
		logger = nopLogger{}
	}
	return &CommandRouter{
		project:            project,
		enqueue:            enqueue,
		tracker:            tracker,
		discoveryEnabled:   discoveryEnabled,
		relativeDimTimeout: defaultRelativeDimTimeout,
		logger:             logger,
	}
}

// SetOnTreeRequested sets the callback invoked when a gettree command is
// routed. The router enqueues the TREEXML request itself; the callback is
// only a notification.
func (r *CommandRouter) SetOnTreeRequested(f func(network string)) {
	r.onTreeRequested = f
}

// SetOnAnnounce sets the callback invoked when the bridge/announce topic
// is seen and discovery is enabled.
func (r *CommandRouter) SetOnAnnounce(f func()) {
	r.onAnnounce = f
}

// HandleTopic routes one MQTT message. It recognises the special
// announce topic outside the regular command grammar.
func (r *CommandRouter) HandleTopic(topic, payload string) {
	if IsAnnounceTopic(topic) {
		if r.discoveryEnabled && r.onAnnounce != nil {
			r.onAnnounce()
		}
		return
	}

	cmd, err := ParseCommand(topic, payload)
	if err != nil {
		r.logger.Warn("unparseable command, dropping", "topic", topic, "payload", payload, "error", err)
		return
	}
	r.Route(cmd)
}

// Route dispatches a parsed Command to its handler.
func (r *CommandRouter) Route(cmd Command) {
	switch cmd.Kind {
	case KindGetTree:
		if r.onTreeRequested != nil {
			r.onTreeRequested(cmd.Address.networkString())
		}
		r.enqueue(fmt.Sprintf("TREEXML %s\n", cmd.Address.networkString()))
	case KindGetAll:
		r.enqueue(fmt.Sprintf("GET //%s/%s/%s/* level\n", r.project, cmd.Address.networkString(), cmd.Address.applicationString()))
	case KindSwitch:
		r.routeSwitch(cmd)
	case KindRamp:
		r.routeRamp(cmd)
	case KindSetValue:
		// Reserved by the write-topic grammar: logged and dropped.
		r.logger.Warn("setvalue command is not handled, dropping", "address", cmd.Address.String())
	}
}

func (r *CommandRouter) routeSwitch(cmd Command) {
	if cmd.SwitchOn == nil {
		r.logger.Warn("switch command missing a valid payload, dropping", "address", cmd.Address.String())
		return
	}
	r.enqueue(r.switchLine(cmd.Address, *cmd.SwitchOn))
}

func (r *CommandRouter) routeRamp(cmd Command) {
	if !cmd.Address.HasGroup() {
		r.logger.Warn("ramp command requires a group address, dropping", "address", cmd.Address.String())
		return
	}

	switch {
	case cmd.SwitchOn != nil:
		r.enqueue(r.switchLine(cmd.Address, *cmd.SwitchOn))
	case cmd.Relative != "":
		r.routeRelative(cmd)
	case cmd.Level != nil:
		r.routeAbsolute(cmd)
	default:
		r.logger.Warn("ramp command has no recognisable payload, dropping", "address", cmd.Address.String())
	}
}

func (r *CommandRouter) routeAbsolute(cmd Command) {
	line := fmt.Sprintf("RAMP //%s/%s/%s/%s %d", r.project,
		cmd.Address.networkString(), cmd.Address.applicationString(), cmd.Address.groupString(), *cmd.Level)
	if cmd.RampTime != "" {
		line += " " + cmd.RampTime
	}
	r.enqueue(line + "\n")
}

func (r *CommandRouter) routeRelative(cmd Command) {
	step := relativeDimStep
	if cmd.Relative == "decrease" {
		step = -relativeDimStep
	}

	path := fmt.Sprintf("//%s/%s/%s/%s", r.project, cmd.Address.networkString(), cmd.Address.applicationString(), cmd.Address.groupString())

	err := r.tracker.Once(cmd.Address, r.relativeDimTimeout, func(current int) {
		next := clampInt(current+step, 0, 255)
		r.enqueue(fmt.Sprintf("RAMP %s %d\n", path, next))
	})
	if err != nil {
		r.logger.Warn("relative dim rejected, a request is already pending for this address", "address", cmd.Address.String())
		return
	}

	r.enqueue(fmt.Sprintf("GET %s level\n", path))
}

func (r *CommandRouter) switchLine(addr Address, on bool) string {
	verb := "OFF"
	if on {
		verb = "ON"
	}
	return fmt.Sprintf("%s //%s/%s/%s/%s\n", verb, r.project, addr.networkString(), addr.applicationString(), addr.groupString())
}
