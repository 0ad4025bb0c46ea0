package cgate

import (
	"sync"
	"testing"
	"time"

	"github.com/cgateweb/cgateweb/internal/infrastructure/mqtt"
)

// fakeMQTTClient is a minimal in-memory stand-in for *mqtt.Client, letting
// orchestrator tests drive connect/disconnect and capture publishes without
// a broker.
type fakeMQTTClient struct {
	mu           sync.Mutex
	connected    bool
	onConnect    func()
	onDisconnect func(error)
	published    []Publication
	subscribed   map[string]mqtt.MessageHandler
}

func newFakeMQTTClient() *fakeMQTTClient {
	return &fakeMQTTClient{subscribed: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeMQTTClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, Publication{Topic: topic, Payload: string(payload), QoS: qos, Retain: retained})
	return nil
}

func (f *fakeMQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed[topic] = handler
	return nil
}

func (f *fakeMQTTClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTTClient) SetOnConnect(fn func()) {
	f.mu.Lock()
	f.onConnect = fn
	f.mu.Unlock()
}

func (f *fakeMQTTClient) SetOnDisconnect(fn func(error)) {
	f.mu.Lock()
	f.onDisconnect = fn
	f.mu.Unlock()
}

func (f *fakeMQTTClient) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	onConnect := f.onConnect
	onDisconnect := f.onDisconnect
	f.mu.Unlock()

	if v && onConnect != nil {
		onConnect()
	}
	if !v && onDisconnect != nil {
		onDisconnect(nil)
	}
}

func testOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Project:         "HOME",
		EventHost:       "127.0.0.1",
		EventPort:       1,
		MessageInterval: time.Millisecond,
		Pool: PoolConfig{
			Host: "127.0.0.1",
			Port: 1,
			Size: 1,
		},
	}
}

func TestOrchestrator_StateStringValues(t *testing.T) {
	cases := map[State]string{
		StateStopped:         "stopped",
		StateStarting:        "starting",
		StateWaitingForReady: "waiting_for_ready",
		StateReady:           "ready",
		StateStopping:        "stopping",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestOrchestrator_NotReadyUntilAllThreeSourcesHealthy(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	o := NewOrchestrator(testOrchestratorConfig(), mqttClient, nil)

	o.setState(StateWaitingForReady)
	o.evaluateReadiness()

	if o.Metrics().State != "waiting_for_ready" {
		t.Fatalf("state = %s, want waiting_for_ready with nothing connected", o.Metrics().State)
	}
}

func TestOrchestrator_ReadyTriggersGetAllOnStart(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	cfg := testOrchestratorConfig()
	cfg.GetAllOnStart = true
	cfg.GetAllNetApp = "56"

	o := NewOrchestrator(cfg, mqttClient, nil)
	o.eventConn = NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil)
	o.eventConn.connected.Store(true)

	fakeSlot := &poolSlot{conn: NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil), healthy: true}
	fakeSlot.conn.connected.Store(true)
	o.pool.slots = []*poolSlot{fakeSlot}

	mqttClient.connected = true

	o.setState(StateWaitingForReady)
	o.evaluateReadiness()

	if o.Metrics().State != "ready" {
		t.Fatalf("state = %s, want ready", o.Metrics().State)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if o.Metrics().CommandsSent > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if o.Metrics().CommandsSent == 0 {
		t.Error("expected the get-all refresh to be dispatched on entering ready")
	}

	o.cmdQueue.Close()
	o.pubQueue.Close()
}

func TestOrchestrator_LeavingReadyStopsPeriodicTimer(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	cfg := testOrchestratorConfig()
	cfg.GetAllNetApp = "56"
	cfg.GetAllPeriod = time.Millisecond

	o := NewOrchestrator(cfg, mqttClient, nil)
	o.eventConn = NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil)
	o.eventConn.connected.Store(true)

	fakeSlot := &poolSlot{conn: NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil), healthy: true}
	fakeSlot.conn.connected.Store(true)
	o.pool.slots = []*poolSlot{fakeSlot}
	mqttClient.connected = true

	o.setState(StateWaitingForReady)
	o.evaluateReadiness()

	if o.Metrics().State != "ready" {
		t.Fatalf("state = %s, want ready", o.Metrics().State)
	}

	o.mu.Lock()
	hadTimer := o.getAllStop != nil
	o.mu.Unlock()
	if !hadTimer {
		t.Fatal("expected periodic get-all timer to be running while ready")
	}

	mqttClient.connected = false
	o.evaluateReadiness()

	o.mu.Lock()
	stillHasTimer := o.getAllStop != nil
	o.mu.Unlock()
	if stillHasTimer {
		t.Error("expected periodic get-all timer to stop after leaving ready")
	}

	o.cmdQueue.Close()
	o.pubQueue.Close()
}

func TestOrchestrator_HandleEventUpdatesTrackerAndPublishes(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	o := NewOrchestrator(testOrchestratorConfig(), mqttClient, nil)

	level := 128
	o.handleEvent(Event{
		DeviceType: "lighting",
		Action:     "on",
		Address:    Address{Network: 254, Application: 56, Group: 4},
		Level:      &level,
	})

	got, ok := o.tracker.Level(Address{254, 56, 4})
	if !ok || got != 128 {
		t.Errorf("tracker level = (%d, %v), want (128, true)", got, ok)
	}

	if o.Metrics().EventsProcessed != 1 {
		t.Errorf("EventsProcessed = %d, want 1", o.Metrics().EventsProcessed)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mqttClient.mu.Lock()
		n := len(mqttClient.published)
		mqttClient.mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	mqttClient.mu.Lock()
	defer mqttClient.mu.Unlock()
	if len(mqttClient.published) < 2 {
		t.Fatalf("published = %v, want at least a state and level message", mqttClient.published)
	}
}

func TestOrchestrator_HandleMQTTMessageRoutesThroughRouter(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	o := NewOrchestrator(testOrchestratorConfig(), mqttClient, nil)

	fakeSlot := &poolSlot{conn: NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil), healthy: true}
	fakeSlot.conn.connected.Store(true)
	o.pool.slots = []*poolSlot{fakeSlot}

	err := o.handleMQTTMessage("cbus/write/254/56/4/switch", []byte("ON"))
	if err != nil {
		t.Fatalf("handleMQTTMessage returned error: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if o.Metrics().CommandsSent > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if o.Metrics().CommandsSent == 0 {
		t.Error("expected the switch command to be dispatched through the pool")
	}

	o.cmdQueue.Close()
	o.pubQueue.Close()
}

func TestOrchestrator_StopIsIdempotent(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	o := NewOrchestrator(testOrchestratorConfig(), mqttClient, nil)
	o.pool.slots = []*poolSlot{}

	o.Stop()
	o.Stop()

	if o.Metrics().State != "stopped" {
		t.Errorf("state = %s, want stopped", o.Metrics().State)
	}
}

func TestOrchestrator_TriggerDiscoveryRequestsEveryConfiguredNetwork(t *testing.T) {
	mqttClient := newFakeMQTTClient()
	cfg := testOrchestratorConfig()
	cfg.DiscoveryEnabled = true
	cfg.DiscoveryNetworks = []string{"254", "255"}

	o := NewOrchestrator(cfg, mqttClient, nil)

	fakeSlot := &poolSlot{conn: NewConnection(ConnectionConfig{Host: "x", Port: 1}, nil), healthy: true}
	fakeSlot.conn.connected.Store(true)
	o.pool.slots = []*poolSlot{fakeSlot}

	o.triggerDiscovery()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if o.Metrics().CommandsSent >= 2 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if o.Metrics().CommandsSent < 2 {
		t.Errorf("CommandsSent = %d, want at least 2 (one TREEXML per network)", o.Metrics().CommandsSent)
	}

	o.cmdQueue.Close()
	o.pubQueue.Close()
}

func TestOrchestrator_DiscoveryNetworksFallsBackToGetAllNetApp(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.DiscoveryNetworks = nil
	cfg.GetAllNetApp = "254/56"

	o := NewOrchestrator(cfg, newFakeMQTTClient(), nil)

	networks := o.discoveryNetworks()
	if len(networks) != 1 || networks[0] != "254" {
		t.Errorf("discoveryNetworks() = %v, want [254]", networks)
	}
}

func TestOrchestrator_DiscoveryNetworksPrefersExplicitConfig(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.DiscoveryNetworks = []string{"100"}
	cfg.GetAllNetApp = "254/56"

	o := NewOrchestrator(cfg, newFakeMQTTClient(), nil)

	networks := o.discoveryNetworks()
	if len(networks) != 1 || networks[0] != "100" {
		t.Errorf("discoveryNetworks() = %v, want [100]", networks)
	}
}

func TestOrchestrator_DiscoveryNetworksEmptyWithoutGetAllNetApp(t *testing.T) {
	cfg := testOrchestratorConfig()
	cfg.DiscoveryNetworks = nil
	cfg.GetAllNetApp = ""

	o := NewOrchestrator(cfg, newFakeMQTTClient(), nil)

	if networks := o.discoveryNetworks(); len(networks) != 0 {
		t.Errorf("discoveryNetworks() = %v, want empty", networks)
	}
}
