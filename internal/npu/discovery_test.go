package npu

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const testNamesPayload = `AREA,1,Kitchen
AREA,2,Hall
AREA,3,Garage
CHAN,1,12,1,1,Kitchen Downlights
CHAN,1,12,2,1,
CHAN,2,16,1,3,Door Motor
CHAN,3,18,1,1,Blind Output
INPSTATE,5,9,1,2,Front Door
INPSTATE,7,2,1,2,
INPSTATE,7,2,2,2,
INPSTATE,9,24,1,1,Multisensor
PLATE,7,2,2,Hall Plate
`

const testLevelsPayload = `!SYSTEMID,1004339,1023-4059,1023-4059;
SCENE,1,1,Kitchen Full
SCNFADE,1,1500
SCNCHANLEVEL,1,1,12,1,255

SCENE,2,1,Evening
SCNFADE,2,2000
SCNCHANLEVEL,2,1,12,1,128
SCNCHANLEVEL,2,1,12,2,64
`

// discoveryServer serves the two /info endpoints; the levels payload is
// swappable so tests can change the configuration fingerprint.
func discoveryServer(t *testing.T, levels *atomic.Value) (*httptest.Server, *Session) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/info" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("what") {
		case "names":
			fmt.Fprint(w, testNamesPayload)
		case "levels":
			fmt.Fprint(w, levels.Load().(string))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	host := strings.TrimPrefix(server.URL, "http://")
	s := NewSession(Config{
		Host:          host,
		TCPPort:       26,
		UseSceneProxy: true,
		HTTPClient:    server.Client(),
	}, quietLogger())
	return server, s
}

func TestCheckSystemInfoDiscovers(t *testing.T) {
	var levels atomic.Value
	levels.Store(testLevelsPayload)
	_, s := discoveryServer(t, &levels)

	if err := s.CheckSystemInfo(context.Background()); err != nil {
		t.Fatalf("CheckSystemInfo: %v", err)
	}

	if got := s.SerialNumber(); got != "1004339" {
		t.Errorf("serial = %q", got)
	}

	dimmers := s.Dimmers()
	if len(dimmers) != 2 {
		t.Fatalf("dimmers = %d, want 2", len(dimmers))
	}
	// Display name composes area and channel name, even when they repeat.
	if dimmers[0].Name() != "Kitchen Kitchen Downlights" {
		t.Errorf("dimmer name = %q", dimmers[0].Name())
	}
	if dimmers[0].ID() != "edinplus-1004339-1-1" {
		t.Errorf("dimmer id = %q", dimmers[0].ID())
	}
	// The unnamed channel gets a generated name.
	if !strings.Contains(dimmers[1].Name(), "Unnamed") {
		t.Errorf("unnamed dimmer = %q", dimmers[1].Name())
	}

	relays := s.Relays()
	pulses := s.RelayPulses()
	if len(relays) != 1 || len(pulses) != 1 {
		t.Fatalf("relays = %d, pulses = %d, want 1 each", len(relays), len(pulses))
	}
	if relays[0].Name() != "Garage Door Motor" {
		t.Errorf("relay name = %q", relays[0].Name())
	}
	if !strings.HasSuffix(pulses[0].Name(), "pulse toggle") {
		t.Errorf("pulse name = %q", pulses[0].Name())
	}

	// The configurable-output module (devcode 18) is unsupported and the
	// multisensor input (devcode 24) is unknown: both are skipped.
	sensors := s.BinarySensors()
	if len(sensors) != 1 {
		t.Fatalf("sensors = %d, want 1", len(sensors))
	}
	if sensors[0].Name() != "Hall Front Door" {
		t.Errorf("sensor name = %q", sensors[0].Name())
	}

	// The plate's two listed channels collapse into one keypad entity
	// named from the PLATE record.
	keypads := s.Keypads()
	if len(keypads) != 1 {
		t.Fatalf("keypads = %d, want 1", len(keypads))
	}
	if keypads[0].Name() != "Hall Hall Plate keypad" {
		t.Errorf("keypad name = %q", keypads[0].Name())
	}
	if keypads[0].ID() != "edinplus-1004339-7-1" {
		t.Errorf("keypad id = %q", keypads[0].ID())
	}

	scenes := s.Scenes()
	if len(scenes) != 2 {
		t.Fatalf("scenes = %d, want 2", len(scenes))
	}

	// Scene 1 is a single-channel full-level scene, so channel 1-1 is
	// proxied through it.
	proxy, ok := s.sceneProxyFor(1, 1)
	if !ok {
		t.Fatal("expected scene proxy for channel 1-1")
	}
	if proxy.SceneNumber != 1 || proxy.FadeMs != 1500 {
		t.Errorf("proxy = %+v", proxy)
	}
	if _, ok := s.sceneProxyFor(1, 2); ok {
		t.Error("channel 1-2 must not be proxied")
	}

	areas := s.Areas()
	if areas[1] != "Kitchen" || areas[2] != "Hall" {
		t.Errorf("areas = %v", areas)
	}
}

func TestCheckSystemInfoUnchangedSkipsRediscovery(t *testing.T) {
	var levels atomic.Value
	levels.Store(testLevelsPayload)
	_, s := discoveryServer(t, &levels)

	if err := s.CheckSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Dimmers()

	if err := s.CheckSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := s.Dimmers()

	// Same fingerprint: the entity set must be untouched, not rebuilt.
	if before[0] != after[0] {
		t.Error("entities rebuilt despite unchanged fingerprint")
	}
}

func TestCheckSystemInfoFingerprintChangeRediscovers(t *testing.T) {
	var levels atomic.Value
	levels.Store(testLevelsPayload)
	_, s := discoveryServer(t, &levels)

	if err := s.CheckSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	before := s.Dimmers()

	fired := false
	before[0].RegisterCallback(func() { fired = true })

	discoveries := 0
	s.OnDiscovery(func() { discoveries++ })

	levels.Store(strings.Replace(testLevelsPayload, "1023-4059,1023-4059", "1023-4059,1024-0100", 1))

	if err := s.CheckSystemInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	after := s.Dimmers()

	if before[0] == after[0] {
		t.Error("entities not rebuilt after fingerprint change")
	}
	if discoveries != 1 {
		t.Errorf("discovery callbacks = %d, want 1", discoveries)
	}

	// Replaced entities must have been detached from their subscribers.
	before[0].notify()
	if fired {
		t.Error("callback on replaced entity still fires")
	}
}

func TestCheckSystemInfoMissingSystemID(t *testing.T) {
	var levels atomic.Value
	levels.Store("SCENE,1,1,No SystemID Here\n")
	_, s := discoveryServer(t, &levels)

	err := s.CheckSystemInfo(context.Background())
	if !errors.Is(err, ErrSystemIDNotFound) {
		t.Errorf("err = %v, want ErrSystemIDNotFound", err)
	}
}

func TestCheckSystemInfoHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	s := NewSession(Config{
		Host:       strings.TrimPrefix(server.URL, "http://"),
		TCPPort:    26,
		HTTPClient: server.Client(),
	}, quietLogger())

	err := s.CheckSystemInfo(context.Background())
	if !errors.Is(err, ErrDiscoveryFailed) {
		t.Errorf("err = %v, want ErrDiscoveryFailed", err)
	}
}

func TestTestConnection(t *testing.T) {
	var levels atomic.Value
	levels.Store(testLevelsPayload)
	server, s := discoveryServer(t, &levels)

	// Point the TCP probe at the HTTP listener: any accepting socket
	// proves reachability.
	host := strings.TrimPrefix(server.URL, "http://")
	_, portStr, err := net.SplitHostPort(host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	s.cfg.TCPPort = port

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.TestConnection(ctx); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}

func TestTestConnectionUnreachable(t *testing.T) {
	s := NewSession(Config{
		Host:       "127.0.0.1:0",
		TCPPort:    1,
		HTTPClient: &http.Client{Timeout: 200 * time.Millisecond},
	}, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.TestConnection(ctx)
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}
