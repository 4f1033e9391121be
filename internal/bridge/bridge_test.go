package bridge

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hallgate/edinbridge/internal/infrastructure/config"
	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
	"github.com/hallgate/edinbridge/internal/infrastructure/mqtt"
	"github.com/hallgate/edinbridge/internal/npu"
)

func quietLogger() *logging.Logger {
	return logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, "test")
}

// fakeMQTT records publishes and subscriptions.
type fakeMQTT struct {
	mu        sync.Mutex
	published map[string][]publishRecord
	subs      map[string]mqtt.MessageHandler
	connected bool
}

type publishRecord struct {
	payload  []byte
	retained bool
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		published: make(map[string][]publishRecord),
		subs:      make(map[string]mqtt.MessageHandler),
		connected: true,
	}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = append(f.published[topic], publishRecord{payload: payload, retained: retained})
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[topic] = handler
	return nil
}

func (f *fakeMQTT) IsConnected() bool { return f.connected }

func (f *fakeMQTT) lastPublish(t *testing.T, topic string) publishRecord {
	t.Helper()
	// Health is published from a goroutine; give it a moment.
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		records := f.published[topic]
		if len(records) > 0 {
			record := records[len(records)-1]
			f.mu.Unlock()
			return record
		}
		f.mu.Unlock()
		if time.Now().After(deadline) {
			t.Fatalf("nothing published on %s; topics: %v", topic, f.topics())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeMQTT) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for topic := range f.published {
		out = append(out, topic)
	}
	return out
}

func testBridge(t *testing.T) (*Bridge, *fakeMQTT, *npu.Session) {
	t.Helper()
	session := npu.NewSession(npu.Config{Host: "npu.local", TCPPort: 26}, quietLogger())
	fake := newFakeMQTT()
	b := New(session, fake, "edin", "npu.local", 1, quietLogger(), Options{
		HealthInterval: time.Hour,
	})
	return b, fake, session
}

func TestGatewayID(t *testing.T) {
	tests := []struct {
		host string
		want string
	}{
		{"npu.local", "npu-local"},
		{"192.168.1.50", "192-168-1-50"},
		{"NPU-House", "npu-house"},
		{"[::1]:80", "[--1]-80"},
	}
	for _, tt := range tests {
		if got := GatewayID(tt.host); got != tt.want {
			t.Errorf("GatewayID(%q) = %q, want %q", tt.host, got, tt.want)
		}
	}
}

func TestBridgeStartSubscribesCommandTopics(t *testing.T) {
	b, fake, _ := testBridge(t)

	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, want := range []string{
		"edin/npu-local/+/+/set",
		"edin/npu-local/+/+/press",
	} {
		if _, ok := fake.subs[want]; !ok {
			t.Errorf("missing subscription %s", want)
		}
	}
}

func TestBridgePublishesHealth(t *testing.T) {
	b, fake, _ := testBridge(t)

	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	record := fake.lastPublish(t, "edin/npu-local/bridge/state")
	if !record.retained {
		t.Error("health payload must be retained")
	}

	var health healthPayload
	if err := json.Unmarshal(record.payload, &health); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	// Session is not connected, so the bridge reports itself degraded.
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded while session offline", health.Status)
	}
	if health.Gateway != "npu-local" {
		t.Errorf("gateway = %q", health.Gateway)
	}
	if health.SessionState != "disconnected" {
		t.Errorf("session_state = %q", health.SessionState)
	}

	b.Stop()

	record = fake.lastPublish(t, "edin/npu-local/bridge/state")
	if err := json.Unmarshal(record.payload, &health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "offline" {
		t.Errorf("status after stop = %q, want offline", health.Status)
	}
}

func TestBridgePublishesInputEvents(t *testing.T) {
	b, fake, _ := testBridge(t)

	if err := b.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	b.handleInputEvent(npu.InputEvent{
		DeviceID: "edinplus-1004339-7-1",
		Event:    "Button 3 Short-press",
	})

	record := fake.lastPublish(t, "edin/npu-local/event")
	if record.retained {
		t.Error("events must not be retained")
	}

	var event eventPayload
	if err := json.Unmarshal(record.payload, &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.DeviceID != "edinplus-1004339-7-1" || event.Event != "Button 3 Short-press" {
		t.Errorf("event = %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("event timestamp not set")
	}
}

func TestHandleCommandUnknownEntity(t *testing.T) {
	b, _, _ := testBridge(t)
	if err := b.Start(); err != nil {
		t.Fatal(err)
	}
	defer b.Stop()

	err := b.handleCommand("edin/npu-local/dimmer/edinplus-x-1-1/set", []byte(`{"state":"on"}`))
	if err == nil || !strings.Contains(err.Error(), "unknown dimmer") {
		t.Errorf("err = %v, want unknown dimmer", err)
	}
}

func TestHandleCommandBadTopic(t *testing.T) {
	b, _, _ := testBridge(t)

	err := b.handleCommand("edin/npu-local/oops", []byte(`on`))
	if err == nil {
		t.Error("expected error for malformed topic")
	}
}

func TestParseCommand(t *testing.T) {
	level := func(n int) *int { return &n }

	tests := []struct {
		name    string
		payload string
		want    commandPayload
		wantErr bool
	}{
		{name: "bare on", payload: "on", want: commandPayload{State: "on"}},
		{name: "bare off uppercase", payload: "OFF", want: commandPayload{State: "off"}},
		{name: "json state", payload: `{"state":"On"}`, want: commandPayload{State: "on"}},
		{name: "json level", payload: `{"level":180}`, want: commandPayload{Level: level(180)}},
		{name: "json level and fade", payload: `{"level":128,"fade_ms":2000}`,
			want: commandPayload{Level: level(128), FadeMs: level(2000)}},
		{name: "garbage", payload: "{not json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseCommand([]byte(tt.payload))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseCommand: %v", err)
			}
			if got.State != tt.want.State {
				t.Errorf("state = %q, want %q", got.State, tt.want.State)
			}
			if (got.Level == nil) != (tt.want.Level == nil) {
				t.Fatalf("level presence mismatch: %+v", got)
			}
			if got.Level != nil && *got.Level != *tt.want.Level {
				t.Errorf("level = %d, want %d", *got.Level, *tt.want.Level)
			}
		})
	}
}

func TestHealthTopicMatchesWill(t *testing.T) {
	if got := HealthTopic("edin", "npu.local"); got != "edin/npu-local/bridge/state" {
		t.Errorf("HealthTopic = %q", got)
	}

	var health healthPayload
	if err := json.Unmarshal(OfflinePayload("npu.local"), &health); err != nil {
		t.Fatalf("unmarshal offline payload: %v", err)
	}
	if health.Status != "offline" || health.Gateway != "npu-local" {
		t.Errorf("offline payload = %+v", health)
	}
}
