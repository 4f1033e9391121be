package npu

import (
	"testing"
	"time"
)

// newTestSession builds an unstarted session with a known entity set
// installed, bypassing HTTP discovery.
func newTestSession() (*Session, *Dimmer, *BinarySensor) {
	s := NewSession(Config{Host: "npu.test", TCPPort: 26}, quietLogger())
	s.fingerprint = systemID{Serial: "1004339", EditStamp: "1-1", AdjustStamp: "1-1"}

	d := newDimmer("1004339",
		chanRecord{Address: 1, DevCode: DevCodeDimmer8, Channel: 4, AreaNum: 1, Name: "Downlights"},
		"Kitchen Downlights", "Kitchen", s)
	b := newBinarySensor("1004339",
		inputRecord{Address: 5, DevCode: DevCodeContactInput, Channel: 1, AreaNum: 1, Name: "Front Door"},
		"Hall Front Door", "Hall", s)

	s.dimmers = []*Dimmer{d}
	s.sensors = []*BinarySensor{b}
	return s, d, b
}

func TestHandleFrameChannelLevel(t *testing.T) {
	s, d, _ := newTestSession()

	fired := 0
	d.RegisterCallback(func() { fired++ })

	s.handleFrame("!CHANLEVEL,1,12,4,180;")

	level, known := d.Level()
	if !known || level != 180 {
		t.Errorf("level = %d (known=%v), want 180 known", level, known)
	}
	if !d.IsOn() {
		t.Error("IsOn() = false, want true at level 180")
	}
	if fired != 1 {
		t.Errorf("callback fired %d times, want 1", fired)
	}

	s.handleFrame("!CHANFADE,1,12,4,0,2000;")
	if d.IsOn() {
		t.Error("IsOn() = true after fade to 0")
	}
	if fired != 2 {
		t.Errorf("callback fired %d times, want 2", fired)
	}
}

func TestHandleFrameChannelLevelOtherChannelIgnored(t *testing.T) {
	s, d, _ := newTestSession()

	s.handleFrame("!CHANLEVEL,1,12,5,200;")

	if _, known := d.Level(); known {
		t.Error("level update for another channel must not touch this dimmer")
	}
}

func TestHandleFrameInputStatePrimingSuppressed(t *testing.T) {
	s, _, sensor := newTestSession()

	var events []InputEvent
	s.OnInputEvent(func(e InputEvent) { events = append(events, e) })

	// First frame answers the post-discovery ?INP request: it primes the
	// sensor but must not replay into automations.
	s.handleFrame("!INPSTATE,5,9,1,1;")
	if on, known := sensor.IsOn(); !known || !on {
		t.Errorf("sensor state = %v, %v after priming", on, known)
	}
	if len(events) != 0 {
		t.Fatalf("priming frame dispatched %d events, want 0", len(events))
	}

	// Subsequent frames are real activity.
	s.handleFrame("!INPSTATE,5,9,1,0;")
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].DeviceID != "edinplus-1004339-5-1" {
		t.Errorf("device id = %q", events[0].DeviceID)
	}
	if events[0].Event != "Release-off" {
		t.Errorf("event = %q, want Release-off", events[0].Event)
	}
}

func TestHandleFrameButtonState(t *testing.T) {
	s, _, _ := newTestSession()

	var events []InputEvent
	s.OnInputEvent(func(e InputEvent) { events = append(events, e) })

	s.handleFrame("!BTNSTATE,7,2,3,5;")

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	// Keypad identity pins the channel to 1; the button number travels
	// in the event name.
	if events[0].DeviceID != "edinplus-1004339-7-1" {
		t.Errorf("device id = %q, want channel pinned to 1", events[0].DeviceID)
	}
	if events[0].Event != "Button 3 Short-press" {
		t.Errorf("event = %q", events[0].Event)
	}
}

func TestHandleFrameKeepaliveAck(t *testing.T) {
	s, _, _ := newTestSession()

	if s.lastKeepaliveAck.Load() != 0 {
		t.Fatal("ack timestamp must start at zero")
	}

	before := time.Now().UnixNano()
	s.handleFrame("!OK;")

	if ack := s.lastKeepaliveAck.Load(); ack < before {
		t.Errorf("ack timestamp %d not updated", ack)
	}
}

func TestHandleFrameVersion(t *testing.T) {
	s, _, _ := newTestSession()

	s.handleFrame("!VERSION,2.3.1;")

	if got := s.Version(); got != "2.3.1" {
		t.Errorf("Version() = %q, want 2.3.1", got)
	}
}

func TestHandleFrameMalformedDoesNotPanic(t *testing.T) {
	s, _, _ := newTestSession()

	for _, frame := range []string{
		"!CHANLEVEL,x,y,z;",
		"!INPSTATE;",
		"!BTNSTATE,1;",
		"!MODULEERR,nope;",
		"garbage without structure",
		"",
	} {
		s.handleFrame(frame)
	}
}

func TestHandleFrameCallbackPanicContained(t *testing.T) {
	s, _, _ := newTestSession()

	calls := 0
	s.OnInputEvent(func(InputEvent) { panic("subscriber bug") })
	s.OnInputEvent(func(InputEvent) { calls++ })

	s.handleFrame("!BTNSTATE,7,2,1,1;")

	if calls != 1 {
		t.Errorf("well-behaved subscriber called %d times, want 1", calls)
	}
}

func TestHandleFrameCountsFrames(t *testing.T) {
	s, _, _ := newTestSession()

	s.handleFrame("!OK;")
	s.handleFrame("!VERSION,2.3.1;")

	if got := s.Stats().FramesReceived; got != 2 {
		t.Errorf("FramesReceived = %d, want 2", got)
	}
	if s.LastMessageAt().IsZero() {
		t.Error("LastMessageAt() still zero after frames")
	}
}
