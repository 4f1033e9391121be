package npu

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// fetchInfo retrieves one of the NPU's /info configuration endpoints
// ("names" or "levels").
func (s *Session) fetchInfo(ctx context.Context, what string) (string, error) {
	url := fmt.Sprintf("http://%s/info?what=%s", s.cfg.Host, what)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrDiscoveryFailed, err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: fetch %s: %w", ErrDiscoveryFailed, what, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetch %s: status %d", ErrDiscoveryFailed, what, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %w", ErrDiscoveryFailed, what, err)
	}
	return string(body), nil
}

// CheckSystemInfo fetches the NPU configuration endpoints, compares the
// !SYSTEMID fingerprint (serial, edit stamp, adjust stamp) against the
// last discovery pass, and runs discovery when they differ. The first
// call after startup always discovers.
func (s *Session) CheckSystemInfo(ctx context.Context) error {
	names, err := s.fetchInfo(ctx, "names")
	if err != nil {
		return err
	}
	levels, err := s.fetchInfo(ctx, "levels")
	if err != nil {
		return err
	}

	id, err := parseSystemID(levels)
	if err != nil {
		s.log.Error("could not find system id in levels payload; cannot assign stable entity identities")
		return err
	}

	s.mu.RLock()
	unchanged := id == s.fingerprint
	s.mu.RUnlock()

	if unchanged {
		s.log.Debug("gateway configuration unchanged", "fingerprint", id.String())
		return nil
	}

	s.log.Info("gateway configuration changed, running discovery", "fingerprint", id.String())
	return s.discover(id, names, levels)
}

// discover rebuilds the entity set from the configuration payloads and
// installs it atomically.
//
// Entities replaced by the new set get their callbacks cleared so stale
// subscribers stop firing, then discovery subscribers are notified to
// re-bind against the new set. Finally each stateful entity is asked to
// report its current state on the event stream.
func (s *Session) discover(id systemID, names, levels string) error {
	areas := parseAreas(names)
	plates := parsePlateRecords(names)

	var (
		dimmers []*Dimmer
		relays  []*Relay
		pulses  []*RelayPulse
		sensors []*BinarySensor
		keypads []*Keypad
	)

	for _, rec := range parseChanRecords(names) {
		area := areas[rec.AreaNum]
		name := rec.Name
		if name == "" {
			name = fmt.Sprintf("Unnamed %s addr %d chan %d", rec.DevCode.ProdName(), rec.Address, rec.Channel)
		}
		fullName := fmt.Sprintf("%s %s", area, name)

		switch rec.DevCode {
		case DevCodeDimmer8, DevCodeIOModule:
			dimmers = append(dimmers, newDimmer(id.Serial, rec, fullName, area, s))
		case DevCodeDimmer4:
			s.log.Warn("output module type has limited support, adding anyway",
				"module", rec.DevCode.ProdName(), "area", area, "name", name, "channel", rec.Channel)
			dimmers = append(dimmers, newDimmer(id.Serial, rec, fullName, area, s))
		case DevCodeRelay4:
			relays = append(relays, newRelay(id.Serial, rec, fullName, area, s))
			pulses = append(pulses, newRelayPulse(id.Serial, rec, fullName+" pulse toggle", area, s))
		default:
			s.log.Warn("incompatible output module type, skipping",
				"module", rec.DevCode.ProdName(), "area", area, "name", name, "channel", rec.Channel)
		}
	}

	for _, rec := range parseInputRecords(names) {
		switch rec.DevCode {
		case DevCodeContactInput, DevCodeIOModule:
			area := areas[rec.AreaNum]
			name := rec.Name
			if name == "" {
				name = fmt.Sprintf("Unnamed %s addr %d chan %d", rec.DevCode.ProdName(), rec.Address, rec.Channel)
			}
			sensors = append(sensors, newBinarySensor(id.Serial, rec, fmt.Sprintf("%s %s", area, name), area, s))
		case DevCodeButtonPlate:
			// The names payload lists plate channels 1 and 2 regardless of
			// how many buttons the plate actually has, so one keypad entity
			// is created per plate, keyed off channel 1.
			if rec.Channel != 1 {
				continue
			}
			plate, ok := plates[rec.Address]
			var plateName, plateArea string
			if !ok {
				s.log.Warn("no plate record for keypad", "address", rec.Address)
				plateName = fmt.Sprintf("Unnamed Wall Plate address %d", rec.Address)
				plateArea = "Unknown area"
			} else {
				plateName = plate.Name
				plateArea = areas[plate.AreaNum]
			}
			keypads = append(keypads, newKeypad(id.Serial, rec, fmt.Sprintf("%s %s keypad", plateArea, plateName), plateArea))
		default:
			s.log.Warn("unknown input module type, skipping",
				"module", rec.DevCode.ProdName(), "address", rec.Address, "channel", rec.Channel)
		}
	}

	sceneRecords := parseSceneRecords(levels)
	scenes := make([]*Scene, 0, len(sceneRecords))
	for _, rec := range sceneRecords {
		scenes = append(scenes, newScene(id.Serial, rec, s))
	}
	proxies := buildSceneProxy(sceneRecords)

	// Swap the entity set, collecting the replaced entities.
	s.mu.Lock()
	oldDimmers := s.dimmers
	oldRelays := s.relays
	oldSensors := s.sensors
	s.fingerprint = id
	s.areas = areas
	s.dimmers = dimmers
	s.relays = relays
	s.pulses = pulses
	s.sensors = sensors
	s.keypads = keypads
	s.scenes = scenes
	s.proxies = proxies
	s.mu.Unlock()

	for _, d := range oldDimmers {
		d.ClearCallbacks()
	}
	for _, r := range oldRelays {
		r.ClearCallbacks()
	}
	for _, b := range oldSensors {
		b.ClearCallbacks()
	}

	s.log.Info("discovery completed",
		"serial", id.Serial,
		"areas", len(areas),
		"dimmers", len(dimmers),
		"relays", len(relays),
		"pulse_buttons", len(pulses),
		"binary_sensors", len(sensors),
		"keypads", len(keypads),
		"scenes", len(scenes),
		"scene_proxies", len(proxies))

	s.dispatchDiscovery()
	s.primeStates()

	return nil
}

// primeStates asks every stateful entity to report its current state on
// the event stream. Best effort: failures are logged and skipped, the
// next feedback frame will fill the gap.
func (s *Session) primeStates() {
	ctx := context.Background()

	s.mu.RLock()
	dimmers := s.dimmers
	relays := s.relays
	sensors := s.sensors
	s.mu.RUnlock()

	for _, d := range dimmers {
		if err := d.RequestState(ctx); err != nil {
			s.log.Debug("state request skipped", "entity", d.ID(), "error", err)
		}
	}
	for _, r := range relays {
		if err := r.RequestState(ctx); err != nil {
			s.log.Debug("state request skipped", "entity", r.ID(), "error", err)
		}
	}
	for _, b := range sensors {
		if err := b.RequestState(ctx); err != nil {
			s.log.Debug("state request skipped", "entity", b.ID(), "error", err)
		}
	}
}

// Entity accessors return copies of the current entity slices so callers
// can iterate without holding session locks across a rediscovery.

// Dimmers returns the discovered dimmer channels.
func (s *Session) Dimmers() []*Dimmer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Dimmer, len(s.dimmers))
	copy(out, s.dimmers)
	return out
}

// Relays returns the discovered relay channels.
func (s *Session) Relays() []*Relay {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Relay, len(s.relays))
	copy(out, s.relays)
	return out
}

// RelayPulses returns the pulse buttons paired with relay channels.
func (s *Session) RelayPulses() []*RelayPulse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*RelayPulse, len(s.pulses))
	copy(out, s.pulses)
	return out
}

// BinarySensors returns the discovered contact input channels.
func (s *Session) BinarySensors() []*BinarySensor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*BinarySensor, len(s.sensors))
	copy(out, s.sensors)
	return out
}

// Keypads returns the discovered button wall plates.
func (s *Session) Keypads() []*Keypad {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Keypad, len(s.keypads))
	copy(out, s.keypads)
	return out
}

// Scenes returns the discovered scenes.
func (s *Session) Scenes() []*Scene {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Scene, len(s.scenes))
	copy(out, s.scenes)
	return out
}

// Areas returns the discovered area names keyed by area number.
func (s *Session) Areas() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.areas))
	for k, v := range s.areas {
		out[k] = v
	}
	return out
}
