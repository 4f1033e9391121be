package npu

import (
	"context"
	"fmt"
	"sync"
)

// BinarySensor is a contact input channel on a contact-input or IO
// module. State is nil-like "unknown" until the first !INPSTATE frame
// arrives; the dispatcher uses that to suppress the priming event fired
// by the gateway in response to the initial ?INP state request.
type BinarySensor struct {
	channelEntity

	stateMu sync.Mutex
	on      bool
	known   bool
}

func newBinarySensor(serial string, rec inputRecord, name, area string, hub commandSender) *BinarySensor {
	return &BinarySensor{channelEntity: channelEntity{
		address: rec.Address,
		channel: rec.Channel,
		devcode: rec.DevCode,
		id:      entityID(serial, rec.Address, rec.Channel),
		name:    name,
		area:    area,
		model:   rec.DevCode.ProdName(),
		hub:     hub,
	}}
}

// IsOn returns the contact state and whether it is known yet.
func (b *BinarySensor) IsOn() (bool, bool) {
	b.stateMu.Lock()
	defer b.stateMu.Unlock()
	return b.on, b.known
}

// RequestState asks the gateway to report the input's current state on
// the event stream.
func (b *BinarySensor) RequestState(ctx context.Context) error {
	cmd := fmt.Sprintf("?INP,%d,%d,%d;", b.address, int(b.devcode), b.channel)
	return b.hub.send(ctx, cmd)
}

// applyFeedback installs a state reported by the gateway and reports
// whether this was the priming update (state previously unknown).
func (b *BinarySensor) applyFeedback(on bool) (priming bool) {
	b.stateMu.Lock()
	priming = !b.known
	b.on = on
	b.known = true
	b.stateMu.Unlock()
	return priming
}

// Keypad is a button wall plate. The gateway cannot report how many
// buttons a plate carries, so a keypad is a single entity identified by
// channel 1; individual buttons surface only through input events
// ("Button <n> <state>").
type Keypad struct {
	address int
	devcode DevCode
	id      string
	name    string
	area    string
	model   string
}

func newKeypad(serial string, rec inputRecord, name, area string) *Keypad {
	return &Keypad{
		address: rec.Address,
		devcode: rec.DevCode,
		id:      entityID(serial, rec.Address, 1),
		name:    name,
		area:    area,
		model:   rec.DevCode.ProdName(),
	}
}

// ID returns the stable entity identity (channel pinned to 1).
func (k *Keypad) ID() string { return k.id }

// Name returns the display name ("<area> <plate name> keypad").
func (k *Keypad) Name() string { return k.name }

// Area returns the area the plate is installed in.
func (k *Keypad) Area() string { return k.area }

// Model returns the plate product name.
func (k *Keypad) Model() string { return k.model }

// Address returns the module address on the MBus.
func (k *Keypad) Address() int { return k.address }
