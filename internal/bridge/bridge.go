package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hallgate/edinbridge/internal/history"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
	"github.com/hallgate/edinbridge/internal/infrastructure/mqtt"
	"github.com/hallgate/edinbridge/internal/npu"
)

// commandTimeout bounds a single gateway command triggered over MQTT.
const commandTimeout = 5 * time.Second

// MQTTClient is the slice of the mqtt client the bridge uses. Tests
// substitute a recording fake.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// TelemetryWriter receives channel levels and input events for long-term
// storage. The influxdb client satisfies it; nil disables telemetry.
type TelemetryWriter interface {
	WriteChannelLevel(gateway, deviceID, name string, address, channel, level int)
	WriteInputEvent(gateway, deviceID, name, event string)
}

// Options carries the optional sinks and identity settings for a Bridge.
type Options struct {
	// History records state changes and events to SQLite when non-nil.
	History *history.Store

	// Telemetry ships state changes and events to InfluxDB when non-nil.
	Telemetry TelemetryWriter

	// HealthInterval overrides the periodic health publish interval.
	HealthInterval time.Duration
}

// Bridge wires one gateway session onto MQTT.
type Bridge struct {
	session *npu.Session
	mqttc   MQTTClient
	log     *logging.Logger
	opts    Options

	gateway string // sanitized gateway id used in topics
	root    string // "<prefix>/<gateway>"
	qos     byte

	startedAt time.Time

	mu      sync.RWMutex
	dimmers map[string]*npu.Dimmer
	relays  map[string]*npu.Relay
	pulses  map[string]*npu.RelayPulse
	scenes  map[string]*npu.Scene

	discoveryHandle npu.CallbackHandle
	eventHandle     npu.CallbackHandle

	stop    chan struct{}
	wg      sync.WaitGroup
	startMu sync.Mutex
	started bool
}

// GatewayID sanitizes a host into a topic segment: lowercase, dots and
// colons replaced so the id never splits into extra topic levels.
func GatewayID(host string) string {
	id := strings.ToLower(host)
	id = strings.ReplaceAll(id, ".", "-")
	id = strings.ReplaceAll(id, ":", "-")
	id = strings.ReplaceAll(id, "/", "-")
	return id
}

// New creates a bridge for the session. topicPrefix is the configured
// MQTT root (e.g. "edin"); host is the gateway host used to derive the
// topic segment.
func New(session *npu.Session, mqttc MQTTClient, topicPrefix, host string, qos byte, log *logging.Logger, opts Options) *Bridge {
	if log == nil {
		log = logging.Default()
	}
	gateway := GatewayID(host)
	if opts.HealthInterval <= 0 {
		opts.HealthInterval = defaultHealthInterval
	}
	return &Bridge{
		session: session,
		mqttc:   mqttc,
		log:     log.With("component", "bridge", "gateway", gateway),
		opts:    opts,
		gateway: gateway,
		root:    fmt.Sprintf("%s/%s", topicPrefix, gateway),
		qos:     qos,
		dimmers: make(map[string]*npu.Dimmer),
		relays:  make(map[string]*npu.Relay),
		pulses:  make(map[string]*npu.RelayPulse),
		scenes:  make(map[string]*npu.Scene),
	}
}

// HealthTopic returns the retained health/LWT topic for a gateway.
// Exposed so main can register the Will before connecting.
func HealthTopic(topicPrefix, host string) string {
	return fmt.Sprintf("%s/%s/bridge/state", topicPrefix, GatewayID(host))
}

// Start subscribes to command topics, binds to the session's discovery
// and input-event streams and launches the health reporter. Idempotent.
func (b *Bridge) Start() error {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if b.started {
		return nil
	}

	for _, filter := range []string{
		b.root + "/+/+/set",
		b.root + "/+/+/press",
	} {
		if err := b.mqttc.Subscribe(filter, b.qos, b.handleCommand); err != nil {
			return fmt.Errorf("subscribe %s: %w", filter, err)
		}
	}

	b.discoveryHandle = b.session.OnDiscovery(b.rebind)
	b.eventHandle = b.session.OnInputEvent(b.handleInputEvent)

	// Entities may already exist if discovery beat us to it.
	b.rebind()

	b.started = true
	b.startedAt = time.Now()
	b.stop = make(chan struct{})
	b.wg.Add(1)
	go b.healthLoop()

	b.log.Info("bridge started", "topic_root", b.root)
	return nil
}

// Stop detaches from the session and stops the health reporter.
func (b *Bridge) Stop() {
	b.startMu.Lock()
	defer b.startMu.Unlock()
	if !b.started {
		return
	}
	b.started = false

	b.session.RemoveDiscoveryCallback(b.discoveryHandle)
	b.session.RemoveInputEventCallback(b.eventHandle)
	close(b.stop)
	b.wg.Wait()

	b.publishHealth("offline")
	b.log.Info("bridge stopped")
}

// rebind rebuilds the command routing tables and registers state
// callbacks against the session's current entity set. Runs after every
// discovery pass; the session already cleared callbacks on replaced
// entities.
func (b *Bridge) rebind() {
	dimmers := make(map[string]*npu.Dimmer)
	relays := make(map[string]*npu.Relay)
	pulses := make(map[string]*npu.RelayPulse)
	scenes := make(map[string]*npu.Scene)

	for _, d := range b.session.Dimmers() {
		d := d
		dimmers[d.ID()] = d
		d.RegisterCallback(func() { b.publishDimmerState(d) })
	}
	for _, r := range b.session.Relays() {
		r := r
		relays[r.ID()] = r
		r.RegisterCallback(func() { b.publishRelayState(r) })
	}
	for _, p := range b.session.RelayPulses() {
		pulses[p.ID()] = p
	}
	for _, s := range b.session.BinarySensors() {
		s := s
		s.RegisterCallback(func() { b.publishSensorState(s) })
	}
	for _, sc := range b.session.Scenes() {
		scenes[sc.ID()] = sc
	}

	b.mu.Lock()
	b.dimmers = dimmers
	b.relays = relays
	b.pulses = pulses
	b.scenes = scenes
	b.mu.Unlock()

	b.log.Info("entities bound",
		"dimmers", len(dimmers),
		"relays", len(relays),
		"pulses", len(pulses),
		"scenes", len(scenes))
}

func (b *Bridge) publishDimmerState(d *npu.Dimmer) {
	state := dimmerState{Name: d.Name(), Area: d.Area()}
	if level, known := d.Level(); known {
		on := level > 0
		state.Level = &level
		state.IsOn = &on

		if b.opts.History != nil {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			if err := b.opts.History.RecordStateChange(ctx, d.ID(), d.Name(), level); err != nil {
				b.log.Warn("history write failed", "device_id", d.ID(), "error", err)
			}
			cancel()
		}
		if b.opts.Telemetry != nil {
			b.opts.Telemetry.WriteChannelLevel(b.gateway, d.ID(), d.Name(), d.Address(), d.Channel(), level)
		}
	}
	b.publishJSON(fmt.Sprintf("%s/dimmer/%s/state", b.root, d.ID()), state, true)
}

func (b *Bridge) publishRelayState(r *npu.Relay) {
	state := switchState{Name: r.Name(), Area: r.Area()}
	if on, known := r.IsOn(); known {
		state.IsOn = &on

		level := 0
		if on {
			level = 255
		}
		if b.opts.History != nil {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			if err := b.opts.History.RecordStateChange(ctx, r.ID(), r.Name(), level); err != nil {
				b.log.Warn("history write failed", "device_id", r.ID(), "error", err)
			}
			cancel()
		}
		if b.opts.Telemetry != nil {
			b.opts.Telemetry.WriteChannelLevel(b.gateway, r.ID(), r.Name(), r.Address(), r.Channel(), level)
		}
	}
	b.publishJSON(fmt.Sprintf("%s/relay/%s/state", b.root, r.ID()), state, true)
}

func (b *Bridge) publishSensorState(s *npu.BinarySensor) {
	state := switchState{Name: s.Name(), Area: s.Area()}
	if on, known := s.IsOn(); known {
		state.IsOn = &on
	}
	b.publishJSON(fmt.Sprintf("%s/sensor/%s/state", b.root, s.ID()), state, true)
}

// handleInputEvent publishes button/contact events and feeds the
// optional sinks. Events are never retained: a press is a moment, not a
// state.
func (b *Bridge) handleInputEvent(event npu.InputEvent) {
	payload, err := marshalEvent(event.DeviceID, event.Event)
	if err != nil {
		b.log.Error("event marshal failed", "device_id", event.DeviceID, "error", err)
		return
	}
	if err := b.mqttc.Publish(b.root+"/event", payload, b.qos, false); err != nil {
		b.log.Warn("event publish failed", "device_id", event.DeviceID, "error", err)
	}

	if b.opts.History != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		if err := b.opts.History.RecordInputEvent(ctx, event.DeviceID, event.Event); err != nil {
			b.log.Warn("history write failed", "device_id", event.DeviceID, "error", err)
		}
		cancel()
	}
	if b.opts.Telemetry != nil {
		b.opts.Telemetry.WriteInputEvent(b.gateway, event.DeviceID, "", event.Event)
	}
}

// handleCommand routes an inbound command topic to the matching entity.
// Topic shape: <root>/<kind>/<id>/<action>.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	rel := strings.TrimPrefix(topic, b.root+"/")
	parts := strings.Split(rel, "/")
	if len(parts) != 3 {
		return fmt.Errorf("unexpected command topic %q", topic)
	}
	kind, id, action := parts[0], parts[1], parts[2]

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch {
	case kind == "dimmer" && action == "set":
		return b.commandDimmer(ctx, id, payload)
	case kind == "relay" && action == "set":
		return b.commandRelay(ctx, id, payload)
	case kind == "pulse" && action == "press":
		return b.commandPulse(ctx, id)
	case kind == "scene" && action == "set":
		return b.commandScene(ctx, id, payload)
	default:
		return fmt.Errorf("unsupported command %s/%s", kind, action)
	}
}

func (b *Bridge) commandDimmer(ctx context.Context, id string, payload []byte) error {
	b.mu.RLock()
	dimmer, ok := b.dimmers[id]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown dimmer %q", id)
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		return err
	}
	switch {
	case cmd.Level != nil:
		return dimmer.SetLevel(ctx, *cmd.Level)
	case cmd.State == "on":
		return dimmer.TurnOn(ctx)
	case cmd.State == "off":
		return dimmer.TurnOff(ctx)
	default:
		return fmt.Errorf("dimmer command needs state or level")
	}
}

func (b *Bridge) commandRelay(ctx context.Context, id string, payload []byte) error {
	b.mu.RLock()
	relay, ok := b.relays[id]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown relay %q", id)
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		return err
	}
	switch cmd.State {
	case "on":
		return relay.TurnOn(ctx)
	case "off":
		return relay.TurnOff(ctx)
	default:
		return fmt.Errorf("relay command needs state on or off")
	}
}

func (b *Bridge) commandPulse(ctx context.Context, id string) error {
	b.mu.RLock()
	pulse, ok := b.pulses[id]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown pulse output %q", id)
	}
	return pulse.Press(ctx)
}

func (b *Bridge) commandScene(ctx context.Context, id string, payload []byte) error {
	b.mu.RLock()
	scene, ok := b.scenes[id]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown scene %q", id)
	}

	cmd, err := parseCommand(payload)
	if err != nil {
		return err
	}
	switch {
	case cmd.Level != nil:
		fade := 0
		if cmd.FadeMs != nil {
			fade = *cmd.FadeMs
		}
		return scene.RecallAt(ctx, *cmd.Level, fade)
	case cmd.State == "on":
		return scene.Recall(ctx)
	case cmd.State == "off":
		return scene.Off(ctx)
	default:
		return fmt.Errorf("scene command needs state or level")
	}
}

// publishJSON marshals and publishes a payload, logging failures rather
// than propagating them: a broker hiccup must not disturb the session.
func (b *Bridge) publishJSON(topic string, v any, retained bool) {
	payload, err := json.Marshal(v)
	if err != nil {
		b.log.Error("payload marshal failed", "topic", topic, "error", err)
		return
	}
	if err := b.mqttc.Publish(topic, payload, b.qos, retained); err != nil {
		b.log.Warn("publish failed", "topic", topic, "error", err)
	}
}
