package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// dimmerState is the retained state payload for a dimmer channel.
// Level is omitted until the first feedback frame arrives.
type dimmerState struct {
	Name  string `json:"name"`
	Area  string `json:"area"`
	Level *int   `json:"level,omitempty"`
	IsOn  *bool  `json:"is_on,omitempty"`
}

// switchState is the retained state payload for relays and sensors.
type switchState struct {
	Name string `json:"name"`
	Area string `json:"area"`
	IsOn *bool  `json:"is_on,omitempty"`
}

// commandPayload is the inbound command format for set topics.
//
// For dimmers, Level takes precedence over State when both are present.
// For scenes, State "on" recalls and "off" deactivates; Level with an
// optional FadeMs recalls at a scaled level.
type commandPayload struct {
	State  string `json:"state,omitempty"`
	Level  *int   `json:"level,omitempty"`
	FadeMs *int   `json:"fade_ms,omitempty"`
}

// eventPayload is the published format for input events.
type eventPayload struct {
	DeviceID  string    `json:"device_id"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

func marshalEvent(deviceID, event string) ([]byte, error) {
	return json.Marshal(eventPayload{
		DeviceID:  deviceID,
		Event:     event,
		Timestamp: time.Now().UTC(),
	})
}

// parseCommand decodes a command payload. A bare "on"/"off" string body
// is accepted as shorthand for the JSON form.
func parseCommand(payload []byte) (commandPayload, error) {
	body := strings.TrimSpace(string(payload))
	switch strings.ToLower(body) {
	case "on", "off":
		return commandPayload{State: strings.ToLower(body)}, nil
	}

	var cmd commandPayload
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return commandPayload{}, fmt.Errorf("parse command payload: %w", err)
	}
	cmd.State = strings.ToLower(strings.TrimSpace(cmd.State))
	return cmd, nil
}
