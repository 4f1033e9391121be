package npu

import (
	"context"
	"fmt"
	"sync"
)

// Dimmer is a variable-brightness output channel on a dimmer or IO module.
//
// Level is the raw gateway range 0-255. A level is "unknown" until the
// first feedback frame arrives; unknown is distinct from zero so a
// freshly discovered channel is not misreported as off.
type Dimmer struct {
	channelEntity

	stateMu    sync.Mutex
	level      int
	levelKnown bool
}

func newDimmer(serial string, rec chanRecord, name, area string, hub commandSender) *Dimmer {
	return &Dimmer{channelEntity: newChannelEntity(serial, rec, name, area, hub)}
}

// Level returns the current level and whether it is known.
func (d *Dimmer) Level() (int, bool) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.level, d.levelKnown
}

// IsOn reports whether the channel is known to be on.
func (d *Dimmer) IsOn() bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.levelKnown && d.level > 0
}

// SetLevel fades the channel to the given level (clamped to 0-255).
//
// When a scene proxy exists for this channel the command is routed
// through $SCNRECALLX with the scene's own fade time; otherwise a direct
// $ChanFade with no fade is issued.
func (d *Dimmer) SetLevel(ctx context.Context, level int) error {
	level = clampLevel(level)

	var cmd string
	if proxy, ok := d.hub.sceneProxyFor(d.address, d.channel); ok {
		cmd = fmt.Sprintf("$SCNRECALLX,%d,%d,%d;", proxy.SceneNumber, level, proxy.FadeMs)
	} else {
		cmd = fmt.Sprintf("$ChanFade,%d,%d,%d,%d,0;", d.address, int(d.devcode), d.channel, level)
	}
	if err := d.hub.send(ctx, cmd); err != nil {
		return err
	}

	d.setLevelOptimistic(level)
	d.hub.logger().Debug("dimmer level set", "address", d.address, "channel", d.channel, "level", level)
	return nil
}

// TurnOn fades the channel to full. A scene proxy, when present, is
// recalled instead so the gateway's scene state stays consistent.
func (d *Dimmer) TurnOn(ctx context.Context) error {
	var cmd string
	if proxy, ok := d.hub.sceneProxyFor(d.address, d.channel); ok {
		cmd = fmt.Sprintf("$SCNRECALL,%d;", proxy.SceneNumber)
	} else {
		cmd = fmt.Sprintf("$ChanFade,%d,%d,%d,255,0;", d.address, int(d.devcode), d.channel)
	}
	if err := d.hub.send(ctx, cmd); err != nil {
		return err
	}

	d.setLevelOptimistic(255)
	d.hub.logger().Debug("dimmer turned on", "address", d.address, "channel", d.channel)
	return nil
}

// TurnOff fades the channel to zero, via $SCNOFF when a proxy exists.
func (d *Dimmer) TurnOff(ctx context.Context) error {
	var cmd string
	if proxy, ok := d.hub.sceneProxyFor(d.address, d.channel); ok {
		cmd = fmt.Sprintf("$SCNOFF,%d;", proxy.SceneNumber)
	} else {
		cmd = fmt.Sprintf("$ChanFade,%d,%d,%d,0,0;", d.address, int(d.devcode), d.channel)
	}
	if err := d.hub.send(ctx, cmd); err != nil {
		return err
	}

	d.setLevelOptimistic(0)
	d.hub.logger().Debug("dimmer turned off", "address", d.address, "channel", d.channel)
	return nil
}

// RequestState asks the gateway to report the channel's current level on
// the event stream.
func (d *Dimmer) RequestState(ctx context.Context) error {
	cmd := fmt.Sprintf("?CHAN,%d,%d,%d;", d.address, int(d.devcode), d.channel)
	return d.hub.send(ctx, cmd)
}

// setLevelOptimistic records the commanded level without notifying
// callbacks; the authoritative update and notification come from the
// gateway's feedback frame.
func (d *Dimmer) setLevelOptimistic(level int) {
	d.stateMu.Lock()
	d.level = level
	d.levelKnown = true
	d.stateMu.Unlock()
}

// applyFeedback installs a level reported by the gateway. The dispatcher
// notifies callbacks after every feedback frame.
func (d *Dimmer) applyFeedback(level int) {
	d.stateMu.Lock()
	d.level = clampLevel(level)
	d.levelKnown = true
	d.stateMu.Unlock()
}

func clampLevel(level int) int {
	if level < 0 {
		return 0
	}
	if level > 255 {
		return 255
	}
	return level
}
