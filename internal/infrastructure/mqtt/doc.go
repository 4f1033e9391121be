// Package mqtt provides the MQTT client used by the edinbridge bridge layer.
//
// It wraps paho.mqtt.golang with:
//
//   - Connection management with automatic reconnection
//   - Subscription tracking and restoration after reconnect
//   - Optional Last Will and Testament registration
//   - Panic-safe message handlers
//
// The bridge publishes retained entity state and bridge health, publishes
// non-retained button/input events, and subscribes to command topics. See
// the bridge package for the topic layout.
package mqtt
