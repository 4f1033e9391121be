// Package npu implements a resilient client for the Mode Lighting eDIN+
// Network Processor Unit (NPU) gateway.
//
// The NPU speaks a line-oriented ASCII protocol over TCP: commands start
// with '$' or '?', events and replies start with '!', and every message
// ends with ';'. A Session owns a single TCP connection plus three
// background loops:
//
//   - receive loop: sole reader of the stream, reconnects with exponential
//     backoff and dispatches every inbound frame
//   - keep-alive watchdog: periodic $OK; probe, forces a reconnect after
//     repeated missed acknowledgements
//   - system-info poller: re-reads the NPU's HTTP configuration endpoints
//     and triggers rediscovery when the configuration fingerprint changes
//
// Discovery over HTTP (the /info endpoints) yields the device entities:
// dimmer channels, relay channels with pulse buttons, contact-input binary
// sensors, keypads and scenes. Entities issue commands through the owning
// Session and are updated by the dispatcher as feedback frames arrive.
package npu
