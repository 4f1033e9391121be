package bridge

import (
	"encoding/json"
	"time"
)

// defaultHealthInterval is how often the retained health payload is
// refreshed when the config does not override it.
const defaultHealthInterval = 30 * time.Second

// healthPayload is the retained bridge health document. The same topic
// carries the LWT, so consumers watching it see "offline" both on a
// clean shutdown and on a crash.
type healthPayload struct {
	Status         string    `json:"status"`
	Gateway        string    `json:"gateway"`
	SessionState   string    `json:"session_state"`
	Firmware       string    `json:"firmware,omitempty"`
	Serial         string    `json:"serial,omitempty"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	FramesReceived uint64    `json:"frames_received"`
	CommandsSent   uint64    `json:"commands_sent"`
	Reconnects     uint64    `json:"reconnects"`
	Errors         uint64    `json:"errors"`
	LastMessageAt  time.Time `json:"last_message_at,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// OfflinePayload is the LWT body registered with the broker at connect
// time so a crashed bridge is reported as offline.
func OfflinePayload(host string) []byte {
	payload, _ := json.Marshal(healthPayload{
		Status:    "offline",
		Gateway:   GatewayID(host),
		Timestamp: time.Now().UTC(),
	})
	return payload
}

// healthLoop publishes the health document immediately and then at the
// configured interval until the bridge stops.
func (b *Bridge) healthLoop() {
	defer b.wg.Done()

	b.publishHealth("online")

	ticker := time.NewTicker(b.opts.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.publishHealth("online")
		}
	}
}

// publishHealth publishes the retained health document. Status degrades
// to "degraded" while the session is offline: the bridge process is up
// but the gateway is not answering.
func (b *Bridge) publishHealth(status string) {
	if !b.mqttc.IsConnected() {
		// Nothing to publish to; the LWT covers the broker-side view.
		return
	}
	if status == "online" && !b.session.Online() {
		status = "degraded"
	}

	stats := b.session.Stats()
	payload := healthPayload{
		Status:         status,
		Gateway:        b.gateway,
		SessionState:   b.session.State().String(),
		Firmware:       b.session.Version(),
		Serial:         b.session.SerialNumber(),
		UptimeSeconds:  int64(time.Since(b.startedAt).Seconds()),
		FramesReceived: stats.FramesReceived,
		CommandsSent:   stats.CommandsSent,
		Reconnects:     stats.Reconnects,
		Errors:         stats.Errors,
		LastMessageAt:  b.session.LastMessageAt(),
		Timestamp:      time.Now().UTC(),
	}

	b.publishJSON(b.root+"/bridge/state", payload, true)
}
