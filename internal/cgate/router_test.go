package cgate

import (
	"testing"
	"time"
)

func newTestRouter(enqueued *[]string) (*CommandRouter, *Tracker) {
	tracker := NewTracker(nil)
	r := NewCommandRouter("HOME", tracker, true, func(line string) {
		*enqueued = append(*enqueued, line)
	}, nil)
	return r, tracker
}

func TestCommandRouter_SwitchOn(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/switch", "ON")

	if len(enqueued) != 1 || enqueued[0] != "ON //HOME/254/56/4\n" {
		t.Errorf("enqueued = %v, want [\"ON //HOME/254/56/4\\n\"]", enqueued)
	}
}

func TestCommandRouter_RampToAbsolutePercent(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/ramp", "50")

	if len(enqueued) != 1 || enqueued[0] != "RAMP //HOME/254/56/4 128\n" {
		t.Errorf("enqueued = %v, want [\"RAMP //HOME/254/56/4 128\\n\"]", enqueued)
	}
}

func TestCommandRouter_RampWithRampTime(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/ramp", "50,4s")

	if len(enqueued) != 1 || enqueued[0] != "RAMP //HOME/254/56/4 128 4s\n" {
		t.Errorf("enqueued = %v, want ramp line with trailing 4s", enqueued)
	}
}

func TestCommandRouter_RelativeIncreaseFromCurrentLevel(t *testing.T) {
	var enqueued []string
	r, tracker := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/ramp", "INCREASE")

	if len(enqueued) != 1 || enqueued[0] != "GET //HOME/254/56/4 level\n" {
		t.Fatalf("enqueued = %v, want a GET level request first", enqueued)
	}

	tracker.Update(Address{254, 56, 4}, 128)

	if len(enqueued) != 2 || enqueued[1] != "RAMP //HOME/254/56/4 154\n" {
		t.Errorf("enqueued after update = %v, want RAMP to 154", enqueued)
	}
}

func TestCommandRouter_RelativeDecreaseClampsAtZero(t *testing.T) {
	var enqueued []string
	r, tracker := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/ramp", "DECREASE")
	tracker.Update(Address{254, 56, 4}, 10)

	if len(enqueued) != 2 || enqueued[1] != "RAMP //HOME/254/56/4 0\n" {
		t.Errorf("enqueued = %v, want RAMP clamped to 0", enqueued)
	}
}

func TestCommandRouter_DuplicateRelativeDimRejected(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/ramp", "INCREASE")
	r.HandleTopic("cbus/write/254/56/4/ramp", "INCREASE")

	// Only the first call's GET should have been enqueued; the second
	// registration is rejected as a duplicate and dropped.
	if len(enqueued) != 1 {
		t.Errorf("enqueued = %v, want exactly one GET from the first request", enqueued)
	}
}

func TestCommandRouter_RampWithoutGroupDropped(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56//ramp", "50")

	if len(enqueued) != 0 {
		t.Errorf("enqueued = %v, want none for a ramp command missing a group", enqueued)
	}
}

func TestCommandRouter_SwitchInvalidPayloadDropped(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56/4/switch", "TOGGLE")

	if len(enqueued) != 0 {
		t.Errorf("enqueued = %v, want none for an invalid switch payload", enqueued)
	}
}

func TestCommandRouter_UnparseableTopicDropped(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/not/enough/segments", "ON")

	if len(enqueued) != 0 {
		t.Errorf("enqueued = %v, want none for an unparseable topic", enqueued)
	}
}

func TestCommandRouter_GetAllEnqueuesWildcardPath(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	r.HandleTopic("cbus/write/254/56//getall", "")

	if len(enqueued) != 1 || enqueued[0] != "GET //HOME/254/56/* level\n" {
		t.Errorf("enqueued = %v, want GET with wildcard group", enqueued)
	}
}

func TestCommandRouter_GetTreeEnqueuesTREEXMLAndFiresCallback(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	var gotNetwork string
	r.SetOnTreeRequested(func(network string) { gotNetwork = network })

	r.HandleTopic("cbus/write/254///gettree", "")

	if gotNetwork != "254" {
		t.Errorf("onTreeRequested network = %q, want 254", gotNetwork)
	}
	if len(enqueued) != 1 || enqueued[0] != "TREEXML 254\n" {
		t.Errorf("enqueued = %v, want TREEXML 254", enqueued)
	}
}

func TestCommandRouter_AnnounceTriggersDiscoveryWhenEnabled(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)

	fired := false
	r.SetOnAnnounce(func() { fired = true })

	r.HandleTopic("cbus/write/bridge/announce", "")

	if !fired {
		t.Error("announce topic should have fired onAnnounce when discovery is enabled")
	}
	if len(enqueued) != 0 {
		t.Errorf("announce topic should not enqueue a command line, got %v", enqueued)
	}
}

func TestCommandRouter_AnnounceIgnoredWhenDiscoveryDisabled(t *testing.T) {
	var enqueued []string
	tracker := NewTracker(nil)
	r := NewCommandRouter("HOME", tracker, false, func(line string) {
		enqueued = append(enqueued, line)
	}, nil)

	fired := false
	r.SetOnAnnounce(func() { fired = true })

	r.HandleTopic("cbus/write/bridge/announce", "")

	if fired {
		t.Error("onAnnounce should not fire when discovery is disabled")
	}
}

func TestCommandRouter_RelativeDimTimeoutAllowsReRegistration(t *testing.T) {
	var enqueued []string
	r, _ := newTestRouter(&enqueued)
	r.relativeDimTimeout = 20 * time.Millisecond

	r.HandleTopic("cbus/write/254/56/4/ramp", "INCREASE")
	time.Sleep(100 * time.Millisecond)

	r.HandleTopic("cbus/write/254/56/4/ramp", "INCREASE")

	if len(enqueued) != 2 {
		t.Errorf("enqueued = %v, want two GET requests after the first timed out", enqueued)
	}
}
