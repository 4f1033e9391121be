package npu

import (
	"context"
	"fmt"
	"sync"
)

// Relay is an on/off output channel on a relay module. Relays take the
// same $ChanFade command as dimmers but only honour levels 0 and 255.
type Relay struct {
	channelEntity

	stateMu sync.Mutex
	on      bool
	known   bool
}

func newRelay(serial string, rec chanRecord, name, area string, hub commandSender) *Relay {
	return &Relay{channelEntity: newChannelEntity(serial, rec, name, area, hub)}
}

// IsOn returns the relay state and whether it is known yet.
func (r *Relay) IsOn() (bool, bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.on, r.known
}

// TurnOn closes the relay.
func (r *Relay) TurnOn(ctx context.Context) error {
	cmd := fmt.Sprintf("$ChanFade,%d,%d,%d,255,0;", r.address, int(r.devcode), r.channel)
	if err := r.hub.send(ctx, cmd); err != nil {
		return err
	}
	r.setOptimistic(true)
	r.hub.logger().Debug("relay turned on", "address", r.address, "channel", r.channel)
	return nil
}

// TurnOff opens the relay.
func (r *Relay) TurnOff(ctx context.Context) error {
	cmd := fmt.Sprintf("$ChanFade,%d,%d,%d,0,0;", r.address, int(r.devcode), r.channel)
	if err := r.hub.send(ctx, cmd); err != nil {
		return err
	}
	r.setOptimistic(false)
	r.hub.logger().Debug("relay turned off", "address", r.address, "channel", r.channel)
	return nil
}

// RequestState asks the gateway to report the relay's state on the
// event stream.
func (r *Relay) RequestState(ctx context.Context) error {
	cmd := fmt.Sprintf("?CHAN,%d,%d,%d;", r.address, int(r.devcode), r.channel)
	return r.hub.send(ctx, cmd)
}

func (r *Relay) setOptimistic(on bool) {
	r.stateMu.Lock()
	r.on = on
	r.known = true
	r.stateMu.Unlock()
}

// applyFeedback installs a state reported by the gateway.
func (r *Relay) applyFeedback(level int) {
	r.stateMu.Lock()
	r.on = level > 0
	r.known = true
	r.stateMu.Unlock()
}

// RelayPulse is the momentary companion to a relay channel: Press closes
// the relay for the configured pulse duration, then the module opens it
// again by itself. Useful for garage doors, gate strikes and the like.
type RelayPulse struct {
	channelEntity
}

func newRelayPulse(serial string, rec chanRecord, name, area string, hub commandSender) *RelayPulse {
	return &RelayPulse{channelEntity: newChannelEntity(serial, rec, name, area, hub)}
}

// Press pulses the relay for the session's configured pulse time.
func (p *RelayPulse) Press(ctx context.Context) error {
	pulseMs := int(p.hub.pulseTime().Milliseconds())
	cmd := fmt.Sprintf("$ChanPulse,%d,%d,%d,3,%d;", p.address, int(p.devcode), p.channel, pulseMs)
	if err := p.hub.send(ctx, cmd); err != nil {
		return err
	}
	p.hub.logger().Debug("relay pulsed", "address", p.address, "channel", p.channel, "pulse_ms", pulseMs)
	return nil
}
