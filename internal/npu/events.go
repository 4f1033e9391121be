package npu

import (
	"sync"
)

// InputEvent is a button or contact input notification from the gateway.
//
// DeviceID is the stable entity identity ("edinplus-<serial>-<addr>-<chan>",
// with the channel pinned to 1 for keypads). Event is the decoded state
// name, e.g. "Press-on" for contact inputs or "Button 3 Short-press" for
// keypads.
type InputEvent struct {
	DeviceID string
	Event    string
}

// CallbackHandle identifies a registered callback for later removal.
type CallbackHandle uint64

// eventDispatcher fans an input event out to registered subscribers.
// The zero value is ready to use.
type eventDispatcher struct {
	mu   sync.Mutex
	next CallbackHandle
	subs map[CallbackHandle]func(InputEvent)
}

func (d *eventDispatcher) register(fn func(InputEvent)) CallbackHandle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.subs == nil {
		d.subs = make(map[CallbackHandle]func(InputEvent))
	}
	d.next++
	d.subs[d.next] = fn
	return d.next
}

func (d *eventDispatcher) remove(handle CallbackHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, handle)
}

// dispatch invokes all subscribers with the event. A panicking subscriber
// is logged by the caller-provided recover hook and does not affect the
// other subscribers.
func (d *eventDispatcher) dispatch(event InputEvent, onPanic func(recovered any)) {
	d.mu.Lock()
	subs := make([]func(InputEvent), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil && onPanic != nil {
					onPanic(r)
				}
			}()
			fn(event)
		}()
	}
}

// OnInputEvent registers a callback for button and contact input events.
// The callback runs on the receive loop goroutine and must not block.
func (s *Session) OnInputEvent(fn func(InputEvent)) CallbackHandle {
	return s.events.register(fn)
}

// RemoveInputEventCallback removes a previously registered callback.
func (s *Session) RemoveInputEventCallback(handle CallbackHandle) {
	s.events.remove(handle)
}

// OnDiscovery registers a callback invoked after every completed
// discovery pass, once the new entity set is installed. Subscribers
// typically re-bind their entity callbacks.
func (s *Session) OnDiscovery(fn func()) CallbackHandle {
	return s.discoveryCb.register(func(InputEvent) { fn() })
}

// RemoveDiscoveryCallback removes a previously registered callback.
func (s *Session) RemoveDiscoveryCallback(handle CallbackHandle) {
	s.discoveryCb.remove(handle)
}

// dispatchInputEvent fans an input event out to subscribers.
func (s *Session) dispatchInputEvent(event InputEvent) {
	s.events.dispatch(event, func(r any) {
		s.log.Error("input event callback panic", "device_id", event.DeviceID, "panic", r)
	})
}

// dispatchDiscovery notifies subscribers that discovery completed.
func (s *Session) dispatchDiscovery() {
	s.discoveryCb.dispatch(InputEvent{}, func(r any) {
		s.log.Error("discovery callback panic", "panic", r)
	})
}
