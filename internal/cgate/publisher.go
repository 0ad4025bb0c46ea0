package cgate

import (
	"fmt"
	"strconv"
)

// Publication is one outbound MQTT message, queued through the MQTT
// throttled queue before delivery by the orchestrator.
type Publication struct {
	Topic   string
	Payload string
	QoS     byte
	Retain  bool
}

// EventPublisher turns a parsed Event into one or two MQTT publications.
// Grounded on the teacher's bridge.go buildStateUpdate: derive a state
// string plus an optional scaled level from the raw telegram/event value.
type EventPublisher struct {
	pirAppID    int // -1 if unconfigured; never matches an event's application
	retainReads bool
	publish     func(Publication)
}

// NewEventPublisher creates a publisher. pirAppID identifies the PIR
// application (no level publication, state derived purely from action);
// an empty or non-numeric pirAppID disables PIR handling entirely.
func NewEventPublisher(pirAppID string, retainReads bool, publish func(Publication)) *EventPublisher {
	id := -1
	if v, err := strconv.Atoi(pirAppID); err == nil {
		id = v
	}
	return &EventPublisher{pirAppID: id, retainReads: retainReads, publish: publish}
}

// Publish emits the state (and, for non-PIR devices, level) publications
// for ev.
func (p *EventPublisher) Publish(ev Event) {
	base := fmt.Sprintf("cbus/read/%d/%d/%d", ev.Address.Network, ev.Address.Application, ev.Address.Group)

	levelPct := levelPercent(ev)
	isPIR := ev.Address.Application == p.pirAppID

	state := "OFF"
	switch {
	case isPIR:
		if ev.Action == "on" {
			state = "ON"
		}
	case ev.Level != nil:
		if levelPct > 0 {
			state = "ON"
		}
	default:
		if ev.Action == "on" {
			state = "ON"
		}
	}

	p.publish(Publication{Topic: base + "/state", Payload: state, QoS: 0, Retain: p.retainReads})

	if !isPIR {
		p.publish(Publication{Topic: base + "/level", Payload: fmt.Sprint(levelPct), QoS: 0, Retain: p.retainReads})
	}
}

// levelPercent computes the 0-100 percentage for an event: a present
// level is scaled from 0-255; an absent level falls back to 100/0 by
// action.
func levelPercent(ev Event) int {
	if ev.Level == nil {
		if ev.Action == "on" {
			return 100
		}
		return 0
	}
	return roundDiv(*ev.Level*100, 255)
}

// roundDiv computes round(n/d) using integer arithmetic.
func roundDiv(n, d int) int {
	if d == 0 {
		return 0
	}
	half := d / 2
	return (n + half) / d
}
