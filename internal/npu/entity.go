package npu

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hallgate/edinbridge/internal/infrastructure/logging"
)

// commandSender is the slice of Session that entities need. Entities
// hold this interface rather than *Session so tests can drive them with
// a recording fake.
type commandSender interface {
	send(ctx context.Context, command string) error
	sceneProxyFor(address, channel int) (SceneProxy, bool)
	pulseTime() time.Duration
	logger() *logging.Logger
}

// entityID builds the stable identity for a channel. It survives
// rediscovery and process restarts so downstream automations keyed on it
// keep working.
func entityID(serial string, address, channel int) string {
	return fmt.Sprintf("edinplus-%s-%d-%d", serial, address, channel)
}

// sceneID builds the stable identity for a scene.
func sceneID(serial string, number int) string {
	return fmt.Sprintf("edinplus-%s-scene-%d", serial, number)
}

// channelEntity carries the identity and callback plumbing shared by all
// per-channel entities.
type channelEntity struct {
	address int
	channel int
	devcode DevCode
	id      string
	name    string
	area    string
	model   string
	hub     commandSender

	cbMu       sync.Mutex
	callbacks  map[CallbackHandle]func()
	nextHandle CallbackHandle
}

func newChannelEntity(serial string, rec chanRecord, name, area string, hub commandSender) channelEntity {
	return channelEntity{
		address: rec.Address,
		channel: rec.Channel,
		devcode: rec.DevCode,
		id:      entityID(serial, rec.Address, rec.Channel),
		name:    name,
		area:    area,
		model:   rec.DevCode.ProdName(),
		hub:     hub,
	}
}

// ID returns the stable entity identity.
func (e *channelEntity) ID() string { return e.id }

// Name returns the display name ("<area> <channel name>").
func (e *channelEntity) Name() string { return e.name }

// Area returns the area name the channel belongs to.
func (e *channelEntity) Area() string { return e.area }

// Model returns the module product name.
func (e *channelEntity) Model() string { return e.model }

// Address returns the module address on the MBus.
func (e *channelEntity) Address() int { return e.address }

// Channel returns the channel number within the module.
func (e *channelEntity) Channel() int { return e.channel }

// RegisterCallback registers a function called whenever the entity's
// state changes from gateway feedback. The returned handle removes it.
func (e *channelEntity) RegisterCallback(fn func()) CallbackHandle {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	if e.callbacks == nil {
		e.callbacks = make(map[CallbackHandle]func())
	}
	e.nextHandle++
	e.callbacks[e.nextHandle] = fn
	return e.nextHandle
}

// RemoveCallback removes a previously registered callback.
func (e *channelEntity) RemoveCallback(handle CallbackHandle) {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	delete(e.callbacks, handle)
}

// ClearCallbacks drops all registered callbacks. Called on entities that
// were replaced by a rediscovery pass so stale subscribers stop firing.
func (e *channelEntity) ClearCallbacks() {
	e.cbMu.Lock()
	defer e.cbMu.Unlock()
	e.callbacks = nil
}

// notify invokes all registered callbacks. Callers hold no entity locks.
func (e *channelEntity) notify() {
	e.cbMu.Lock()
	fns := make([]func(), 0, len(e.callbacks))
	for _, fn := range e.callbacks {
		fns = append(fns, fn)
	}
	e.cbMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
