package npu

import (
	"fmt"
	"strings"
	"time"
)

// handleFrame routes one inbound frame to the matching entities and
// subscribers. A panic while handling a frame is contained: one bad
// frame must not take the receive loop down.
func (s *Session) handleFrame(line string) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("frame handler panic", "frame", line, "panic", r)
			s.errorCount.Add(1)
		}
	}()

	s.framesReceived.Add(1)
	now := time.Now()
	s.lastMessage.Store(now.UnixNano())

	// Keep-alive acks can arrive glued to other traffic, so match by
	// substring before structured parsing.
	if strings.Contains(line, "!OK;") {
		s.lastKeepaliveAck.Store(now.UnixNano())
		s.log.Debug("keep-alive ack received", "frame", line)
		return
	}

	typ, fields := splitFrame(line)
	switch typ {
	case "!GATRDY":
		// Handshake replies are consumed during connect; one here means
		// the gateway restarted its session underneath us.
		s.log.Warn("unexpected GATRDY on event stream", "frame", line)

	case "!VERSION":
		if len(fields) >= 1 {
			version := strings.TrimSpace(fields[0])
			s.mu.Lock()
			s.version = version
			s.mu.Unlock()
			s.log.Info("gateway firmware version", "version", version)
		}

	case "!INPSTATE":
		s.handleInputState(fields)

	case "!BTNSTATE":
		s.handleButtonState(fields)

	case "!CHANFADE", "!CHANLEVEL":
		s.handleChannelLevel(line, fields)

	case "!MODULEERR":
		s.handleModuleError(fields)

	case "!CHANERR":
		s.handleChannelError(fields)

	case "!SCNRECALL":
		if len(fields) >= 1 {
			s.log.Debug("scene recalled on gateway", "scene", fields[0])
		}

	case "!SCNOFF":
		if len(fields) >= 1 {
			s.log.Debug("scene turned off on gateway", "scene", fields[0])
		}

	case "!SCNSTATE":
		if len(fields) >= 3 {
			s.log.Debug("scene state reported", "scene", fields[0], "level", fields[2])
		}

	default:
		s.log.Debug("unhandled frame", "frame", line)
	}
}

// handleInputState processes a contact input change:
// !INPSTATE,Address,DevCode,ChanNum,NewState;
//
// The sensor's state is updated and its callbacks fire on every frame.
// The input event is suppressed for the priming frame (the reply to the
// initial ?INP request after discovery) so restarting the bridge does
// not replay stale presses into automations.
func (s *Session) handleInputState(fields []string) {
	address, err1 := frameInt(fields, 0)
	channel, err2 := frameInt(fields, 2)
	state, err3 := frameInt(fields, 3)
	if err1 != nil || err2 != nil || err3 != nil {
		s.log.Warn("malformed INPSTATE frame", "fields", strings.Join(fields, ","))
		s.errorCount.Add(1)
		return
	}

	eventName := ButtonEventName(state)

	s.mu.RLock()
	serial := s.fingerprint.Serial
	sensors := s.sensors
	s.mu.RUnlock()

	var sensor *BinarySensor
	for _, candidate := range sensors {
		if candidate.address == address && candidate.channel == channel {
			sensor = candidate
			break
		}
	}
	if sensor == nil {
		s.log.Warn("input state for unknown sensor", "address", address, "channel", channel)
		return
	}

	priming := sensor.applyFeedback(state > 0)
	sensor.notify()

	if priming {
		s.log.Debug("sensor primed", "address", address, "channel", channel, "on", state > 0)
		return
	}

	event := InputEvent{
		DeviceID: entityID(serial, address, channel),
		Event:    eventName,
	}
	s.log.Debug("dispatching input event", "device_id", event.DeviceID, "event", event.Event)
	s.dispatchInputEvent(event)
}

// handleButtonState processes a keypad button press:
// !BTNSTATE,Address,DevCode,ChanNum,NewState;
//
// Keypads carry no per-button state, so every frame becomes an event.
// The device identity pins the channel to 1 (one entity per plate); the
// button number travels in the event name instead.
func (s *Session) handleButtonState(fields []string) {
	address, err1 := frameInt(fields, 0)
	channel, err2 := frameInt(fields, 2)
	state, err3 := frameInt(fields, 3)
	if err1 != nil || err2 != nil || err3 != nil {
		s.log.Warn("malformed BTNSTATE frame", "fields", strings.Join(fields, ","))
		s.errorCount.Add(1)
		return
	}

	s.mu.RLock()
	serial := s.fingerprint.Serial
	s.mu.RUnlock()

	event := InputEvent{
		DeviceID: entityID(serial, address, 1),
		Event:    fmt.Sprintf("Button %d %s", channel, ButtonEventName(state)),
	}
	s.log.Debug("dispatching keypad event", "device_id", event.DeviceID, "event", event.Event)
	s.dispatchInputEvent(event)
}

// handleChannelLevel processes output feedback:
// !CHANFADE/!CHANLEVEL,Address,DevCode,ChanNum,Level[,FadeTime];
func (s *Session) handleChannelLevel(line string, fields []string) {
	address, err1 := frameInt(fields, 0)
	channel, err2 := frameInt(fields, 2)
	level, err3 := frameInt(fields, 3)
	if err1 != nil || err2 != nil || err3 != nil {
		s.log.Warn("malformed channel level frame", "frame", line)
		s.errorCount.Add(1)
		return
	}

	s.mu.RLock()
	dimmers := s.dimmers
	relays := s.relays
	s.mu.RUnlock()

	for _, dimmer := range dimmers {
		if dimmer.address == address && dimmer.channel == channel {
			dimmer.applyFeedback(level)
			dimmer.notify()
			s.log.Debug("dimmer level updated", "address", address, "channel", channel, "level", level)
		}
	}
	for _, relay := range relays {
		if relay.address == address && relay.channel == channel {
			relay.applyFeedback(level)
			relay.notify()
			s.log.Debug("relay state updated", "address", address, "channel", channel, "on", level > 0)
		}
	}
}

// handleModuleError processes !MODULEERR,Address,DevCode,StatusCode;
// Status code 0 means all clear and is not logged.
func (s *Session) handleModuleError(fields []string) {
	address, err1 := frameInt(fields, 0)
	devcode, err2 := frameInt(fields, 1)
	status, err3 := frameInt(fields, 2)
	if err1 != nil || err2 != nil || err3 != nil || status == 0 {
		return
	}
	s.log.Warn("module error reported",
		"address", address,
		"module", DevCode(devcode).ProdName(),
		"status", StatusSummary(status),
		"detail", StatusDescription(status))
}

// handleChannelError processes !CHANERR,Address,DevCode,ChanNum,StatusCode;
func (s *Session) handleChannelError(fields []string) {
	address, err1 := frameInt(fields, 0)
	devcode, err2 := frameInt(fields, 1)
	channel, err3 := frameInt(fields, 2)
	status, err4 := frameInt(fields, 3)
	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || status == 0 {
		return
	}
	s.log.Warn("channel error reported",
		"address", address,
		"module", DevCode(devcode).ProdName(),
		"channel", channel,
		"status", StatusSummary(status),
		"detail", StatusDescription(status))
}
