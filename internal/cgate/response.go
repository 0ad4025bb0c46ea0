package cgate

import (
	"regexp"
	"strconv"
	"strings"
)

// codeRe matches the three-digit response code at the start of a command
// channel line, split either at the first hyphen or the first space.
var codeRe = regexp.MustCompile(`^([1-6]\d{2})[- ](.*)$`)

// errorHints gives a human-readable hint for known error codes, logged
// alongside the raw line.
var errorHints = map[string]string{
	"400": "bad request",
	"401": "unauthorized",
	"404": "not found",
	"406": "bad parameter",
	"500": "internal error",
	"503": "unavailable",
}

// ResponseProcessor consumes lines from the command channel, dispatching
// object-status lines to the event publisher and tracker, and collecting
// tree-transfer responses (343/347/344) into a buffer handed to discovery.
// Grounded on the teacher's etsimport/parser.go state-machine style of
// accumulating a multi-line transfer before handing it off as one unit.
type ResponseProcessor struct {
	logger Logger

	onEvent    func(Event)
	onTreeData func(network, xmlData string)

	treeBuf     strings.Builder
	treeNetwork string
	inTransfer  bool
}

// NewResponseProcessor creates a processor. logger may be nil.
func NewResponseProcessor(logger Logger) *ResponseProcessor {
	if logger == nil {
		logger = nopLogger{}
	}
	return &ResponseProcessor{logger: logger}
}

// SetOnEvent sets the callback invoked for every valid object-status event
// decoded from a 300 response.
func (r *ResponseProcessor) SetOnEvent(f func(Event)) {
	r.onEvent = f
}

// SetOnTreeData sets the callback invoked once a tree transfer completes
// (344), with the accumulated XML body and the network it was requested
// for.
func (r *ResponseProcessor) SetOnTreeData(f func(network, xmlData string)) {
	r.onTreeData = f
}

// HandleLine processes one line from the command channel.
func (r *ResponseProcessor) HandleLine(line string) {
	m := codeRe.FindStringSubmatch(line)
	if m == nil {
		r.logger.Warn("command channel line has no recognisable response code, dropping", "line", line)
		return
	}

	code, rest := m[1], m[2]

	switch code {
	case "300":
		r.handleStatus(rest)
	case "343":
		r.treeBuf.Reset()
		r.treeNetwork = strings.TrimSpace(rest)
		r.inTransfer = true
	case "347":
		if r.inTransfer {
			r.treeBuf.WriteString(rest)
			r.treeBuf.WriteByte('\n')
		}
	case "344":
		if r.inTransfer && r.onTreeData != nil {
			r.onTreeData(r.treeNetwork, r.treeBuf.String())
		}
		r.treeBuf.Reset()
		r.treeNetwork = ""
		r.inTransfer = false
	default:
		r.handleOther(code, rest, line)
	}
}

func (r *ResponseProcessor) handleStatus(rest string) {
	ev, ok := ParseLine("300 " + rest)
	if !ok {
		r.logger.Warn("unparseable object status line, dropping", "rest", rest)
		return
	}
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *ResponseProcessor) handleOther(code, rest, line string) {
	first, _ := strconv.Atoi(code[:1])
	switch first {
	case 4, 5:
		hint, known := errorHints[code]
		if known {
			r.logger.Error("c-gate error response", "code", code, "hint", hint, "rest", rest)
		} else {
			r.logger.Error("c-gate error response", "code", code, "rest", rest)
		}
	default:
		r.logger.Info("c-gate response", "code", code, "rest", rest)
	}
}
