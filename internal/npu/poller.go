package npu

import (
	"time"
)

// onlinePollInterval is how often the poller re-checks for the session
// coming online before the initial discovery pass.
const onlinePollInterval = time.Second

// pollerLoop runs the initial discovery once the session comes online,
// then re-checks the configuration fingerprint at the configured
// interval. A fingerprint change (installer edited the configuration)
// triggers a full rediscovery.
func (s *Session) pollerLoop() {
	defer s.wg.Done()

	interval := s.cfg.SystemInfoInterval
	if interval <= 0 {
		s.log.Error("invalid system-info interval; poller disabled", "interval", interval)
		return
	}

	// Initial discovery as soon as the handshake completes.
	for {
		select {
		case <-s.stop:
			return
		case <-time.After(onlinePollInterval):
		}
		if s.State() != StateOnline {
			continue
		}
		if err := s.CheckSystemInfo(s.ctx); err != nil {
			s.log.Error("initial discovery failed, will retry", "error", err)
			continue
		}
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if s.State() != StateOnline {
			continue
		}
		if err := s.CheckSystemInfo(s.ctx); err != nil {
			s.log.Error("system info check failed", "error", err)
		}
	}
}
