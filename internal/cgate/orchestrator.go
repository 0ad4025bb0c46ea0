package cgate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cgateweb/cgateweb/internal/infrastructure/mqtt"
)

// State is one of the orchestrator's lifecycle states.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateWaitingForReady
	StateReady
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateWaitingForReady:
		return "waiting_for_ready"
	case StateReady:
		return "ready"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// MQTTClient is the subset of *mqtt.Client the orchestrator depends on.
// Declared locally so this package stays testable without a live broker.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
	SetOnConnect(func())
	SetOnDisconnect(func(error))
}

// OrchestratorConfig configures the bridge orchestrator. Assembled by
// cmd/cgateweb from the loaded YAML configuration.
type OrchestratorConfig struct {
	Project string

	EventHost             string
	EventPort             int
	EventDialTimeout      time.Duration
	EventReconnectInitial time.Duration
	EventReconnectMax     time.Duration
	EventMaxReconnects    int

	Pool PoolConfig

	MessageInterval time.Duration
	RetainReads     bool
	PirAppID        string

	GetAllNetApp  string
	GetAllOnStart bool
	GetAllPeriod  time.Duration

	DiscoveryEnabled  bool
	Discovery         DiscoveryConfig
	DiscoveryNetworks []string
}

// Metrics is a point-in-time snapshot of orchestrator activity, grounded on
// the teacher's Bridge.GetMetrics()/BridgeMetrics.
type Metrics struct {
	State           string
	EventsProcessed int64
	CommandsSent    int64
	PublishesSent   int64
	EventConnected  bool
	Pool            PoolStats
}

// Orchestrator wires the command pool, event connection, MQTT client, both
// throttled queues, tracker, router, response processor, event publisher
// and discovery together and drives the bridge's readiness state machine.
// Grounded on the teacher's Bridge: a sync.Once-guarded Stop, a done
// channel plus WaitGroup for background goroutines, and a GetMetrics
// snapshot method.
type Orchestrator struct {
	cfg    OrchestratorConfig
	logger Logger

	mqttClient MQTTClient
	eventConn  *Connection
	pool       *Pool
	tracker    *Tracker
	router     *CommandRouter
	response   *ResponseProcessor
	publisher  *EventPublisher
	discovery  *Discovery

	cmdQueue *ThrottledQueue[string]
	pubQueue *ThrottledQueue[Publication]

	mu         sync.Mutex
	state      State
	getAllStop chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	eventsProcessed atomic.Int64
	commandsSent    atomic.Int64
	publishesSent   atomic.Int64
}

// NewOrchestrator builds an unstarted Orchestrator. Call Start to begin
// operation.
func NewOrchestrator(cfg OrchestratorConfig, mqttClient MQTTClient, logger Logger) *Orchestrator {
	if logger == nil {
		logger = nopLogger{}
	}

	o := &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		mqttClient: mqttClient,
		done:       make(chan struct{}),
	}

	o.tracker = NewTracker(logger)
	o.pool = NewPool(cfg.Pool, logger)

	o.cmdQueue = NewThrottledQueue(cfg.MessageInterval, o.executeCommand, logger)
	o.pubQueue = NewThrottledQueue(cfg.MessageInterval, o.publishMessage, logger)

	o.router = NewCommandRouter(cfg.Project, o.tracker, cfg.DiscoveryEnabled, o.cmdQueue.Add, logger)
	o.router.SetOnTreeRequested(func(network string) {
		o.logger.Info("tree requested via mqtt command", "network", network)
	})
	o.router.SetOnAnnounce(o.triggerDiscovery)

	o.publisher = NewEventPublisher(cfg.PirAppID, cfg.RetainReads, o.pubQueue.Add)
	o.discovery = NewDiscovery(cfg.Discovery, logger, o.enqueueCommand, o.pubQueue.Add)

	o.response = NewResponseProcessor(logger)
	o.response.SetOnEvent(o.handleEvent)
	o.response.SetOnTreeData(o.discovery.HandleTreeData)

	o.pool.SetOnData(o.response.HandleLine)
	o.pool.SetOnHealthChange(func(int) { o.evaluateReadiness() })
	o.pool.SetOnAllUnhealthy(func() { o.evaluateReadiness() })

	return o
}

// Start subscribes to MQTT command topics, starts the event connection and
// the command pool, and enters the readiness state machine.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.setState(StateStarting)

	o.mqttClient.SetOnConnect(func() { o.evaluateReadiness() })
	o.mqttClient.SetOnDisconnect(func(error) { o.evaluateReadiness() })

	if err := o.mqttClient.Subscribe(mqtt.Topics{}.WriteCommandWildcard(), 1, o.handleMQTTMessage); err != nil {
		return fmt.Errorf("subscribing to command topics: %w", err)
	}

	o.eventConn = NewConnection(ConnectionConfig{
		Host:                  o.cfg.EventHost,
		Port:                  o.cfg.EventPort,
		Type:                  EventConnection,
		DialTimeout:           o.cfg.EventDialTimeout,
		AutoReconnect:         true,
		InitialReconnectDelay: o.cfg.EventReconnectInitial,
		MaxReconnectDelay:     o.cfg.EventReconnectMax,
		MaxReconnectAttempts:  o.cfg.EventMaxReconnects,
	}, o.logger)
	o.eventConn.SetOnLine(o.handleEventLine)
	o.eventConn.SetOnConnect(func() { o.evaluateReadiness() })
	o.eventConn.SetOnClose(func(bool) { o.evaluateReadiness() })

	if err := o.eventConn.Start(ctx); err != nil {
		return fmt.Errorf("starting event connection: %w", err)
	}

	if err := o.pool.Start(ctx); err != nil {
		return fmt.Errorf("starting command pool: %w", err)
	}

	o.setState(StateWaitingForReady)
	o.evaluateReadiness()

	return nil
}

// Stop leaves Ready if entered, stops the periodic get-all timer, clears
// and closes both throttled queues, and disconnects the event connection
// and the command pool. The MQTT client is not closed here. Safe to call
// multiple times.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.setState(StateStopping)
		close(o.done)

		o.mu.Lock()
		o.stopGetAllTimerLocked()
		o.mu.Unlock()

		o.cmdQueue.Clear()
		o.pubQueue.Clear()
		o.cmdQueue.Close()
		o.pubQueue.Close()

		if o.eventConn != nil {
			o.eventConn.Disconnect()
		}
		o.pool.Stop()

		o.wg.Wait()
		o.setState(StateStopped)
		o.logger.Info("bridge stopped")
	})
}

// Metrics returns a snapshot of orchestrator activity counters and pool
// health, for an operator to log or expose.
func (o *Orchestrator) Metrics() Metrics {
	o.mu.Lock()
	state := o.state
	o.mu.Unlock()

	eventConnected := o.eventConn != nil && o.eventConn.IsConnected()

	return Metrics{
		State:           state.String(),
		EventsProcessed: o.eventsProcessed.Load(),
		CommandsSent:    o.commandsSent.Load(),
		PublishesSent:   o.publishesSent.Load(),
		EventConnected:  eventConnected,
		Pool:            o.pool.Stats(),
	}
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// evaluateReadiness recomputes the Ready condition and transitions the
// state machine, running or tearing down Ready's entry actions as needed.
func (o *Orchestrator) evaluateReadiness() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateStopping || o.state == StateStopped {
		return
	}

	ready := o.mqttClient.IsConnected() &&
		o.pool.HealthyCount() > 0 &&
		o.eventConn != nil && o.eventConn.IsConnected()

	if ready {
		if o.state != StateReady {
			o.state = StateReady
			o.onReadyLocked()
		}
		return
	}

	if o.state == StateReady {
		o.logger.Warn("bridge left ready state")
		o.stopGetAllTimerLocked()
	}
	o.state = StateWaitingForReady
}

// onReadyLocked runs Ready's entry actions. Called with o.mu held.
func (o *Orchestrator) onReadyLocked() {
	o.logger.Info("bridge ready")

	if o.cfg.GetAllOnStart && o.cfg.GetAllNetApp != "" {
		o.cmdQueue.Add(o.getAllLine())
	}

	o.stopGetAllTimerLocked()
	if o.cfg.GetAllPeriod > 0 && o.cfg.GetAllNetApp != "" {
		stop := make(chan struct{})
		o.getAllStop = stop
		o.wg.Add(1)
		go o.runGetAllPeriodic(stop)
	}

	if o.cfg.DiscoveryEnabled {
		go o.triggerDiscovery()
	}
}

func (o *Orchestrator) getAllLine() string {
	return fmt.Sprintf("GET //%s/%s/* level\n", o.cfg.Project, o.cfg.GetAllNetApp)
}

func (o *Orchestrator) runGetAllPeriodic(stop chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.cfg.GetAllPeriod)
	defer ticker.Stop()

	line := o.getAllLine()
	for {
		select {
		case <-stop:
			return
		case <-o.done:
			return
		case <-ticker.C:
			o.cmdQueue.Add(line)
		}
	}
}

// stopGetAllTimerLocked stops the periodic get-all timer, if running.
// Called with o.mu held; safe to call when no timer is running.
func (o *Orchestrator) stopGetAllTimerLocked() {
	if o.getAllStop != nil {
		close(o.getAllStop)
		o.getAllStop = nil
	}
}

// triggerDiscovery requests a tree transfer for every configured discovery
// network, fired on the announce topic and on entry into Ready.
func (o *Orchestrator) triggerDiscovery() {
	for _, network := range o.discoveryNetworks() {
		if err := o.discovery.RequestTree(network); err != nil {
			o.logger.Warn("discovery tree request failed", "network", network, "error", err)
		}
	}
}

// discoveryNetworks returns the networks to run tree discovery against. If
// none are explicitly configured, it falls back to the network segment of
// GetAllNetApp (e.g. "254/56" -> "254") so haDiscoveryEnabled still does
// something useful with just a getAllNetApp set.
func (o *Orchestrator) discoveryNetworks() []string {
	if len(o.cfg.DiscoveryNetworks) > 0 {
		return o.cfg.DiscoveryNetworks
	}
	network, _, ok := strings.Cut(o.cfg.GetAllNetApp, "/")
	if !ok || network == "" {
		return nil
	}
	return []string{network}
}

func (o *Orchestrator) handleMQTTMessage(topic string, payload []byte) error {
	o.router.HandleTopic(topic, string(payload))
	return nil
}

func (o *Orchestrator) handleEventLine(line string) {
	ev, ok := ParseLine(line)
	if !ok {
		o.logger.Warn("unparseable event line, dropping", "line", line)
		return
	}
	o.handleEvent(ev)
}

func (o *Orchestrator) handleEvent(ev Event) {
	o.eventsProcessed.Add(1)
	if ev.Level != nil {
		o.tracker.Update(ev.Address, *ev.Level)
	}
	o.publisher.Publish(ev)
}

func (o *Orchestrator) executeCommand(line string) {
	o.commandsSent.Add(1)
	if err := o.pool.Execute(line); err != nil {
		o.logger.Warn("command dispatch failed", "error", err)
	}
}

func (o *Orchestrator) publishMessage(p Publication) {
	o.publishesSent.Add(1)
	if err := o.mqttClient.Publish(p.Topic, []byte(p.Payload), p.QoS, p.Retain); err != nil {
		o.logger.Warn("publish failed", "topic", p.Topic, "error", err)
	}
}

func (o *Orchestrator) enqueueCommand(line string) error {
	o.cmdQueue.Add(line)
	return nil
}
