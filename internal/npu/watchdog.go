package npu

import (
	"context"
	"time"
)

// watchdogLoop sends a periodic $OK; keep-alive and validates that the
// gateway acknowledges it.
//
// The watchdog never reads from the TCP stream: the receive loop owns it
// exclusively, records each !OK; acknowledgement timestamp, and the
// watchdog checks that timestamp after the ack window elapses. Repeated
// misses force the connection closed so the receive loop reconnects.
func (s *Session) watchdogLoop() {
	defer s.wg.Done()

	interval := s.cfg.KeepAliveInterval
	if interval <= 0 {
		s.log.Error("invalid keep-alive interval; watchdog disabled", "interval", interval)
		return
	}
	s.log.Debug("keep-alive watchdog starting", "interval", interval)

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

		sentAt := time.Now()
		s.log.Debug("sending keep-alive")
		if err := s.Send(context.Background(), cmdKeepAlive); err != nil {
			s.recordKeepaliveFailure(err)
			continue
		}

		// Give the receive loop the full ack window before judging.
		select {
		case <-s.stop:
			return
		case <-time.After(s.cfg.KeepAliveTimeout):
		}

		if s.keepaliveAcked(sentAt, time.Now()) {
			s.kaFailures = 0
			s.log.Debug("keep-alive acknowledged")
		} else {
			s.recordKeepaliveFailure(nil)
		}
	}
}

// keepaliveAcked reports whether the keep-alive sent at sentAt can be
// considered acknowledged at time now.
//
// An ack timestamped after sentAt is a direct acknowledgement. An older
// ack still counts if it falls within the timeout plus grace window of
// now: event traffic can delay the !OK; past the probe, and a healthy
// gateway answering the previous probe is not a dead connection.
func (s *Session) keepaliveAcked(sentAt, now time.Time) bool {
	ns := s.lastKeepaliveAck.Load()
	if ns == 0 {
		return false
	}
	ack := time.Unix(0, ns)
	if !ack.Before(sentAt) {
		return true
	}
	return now.Sub(ack) <= s.cfg.KeepAliveTimeout+s.cfg.KeepAliveGrace
}

// recordKeepaliveFailure counts a missed keep-alive and, at the
// configured threshold, drops the connection and resets the counter.
func (s *Session) recordKeepaliveFailure(sendErr error) {
	s.kaFailures++
	if sendErr != nil {
		s.log.Error("keep-alive send failed",
			"error", sendErr,
			"attempt", s.kaFailures,
			"max_attempts", s.cfg.KeepAliveMaxFailures)
	} else {
		s.log.Error("keep-alive not acknowledged",
			"timeout", s.cfg.KeepAliveTimeout,
			"attempt", s.kaFailures,
			"max_attempts", s.cfg.KeepAliveMaxFailures)
	}

	if s.kaFailures >= s.cfg.KeepAliveMaxFailures {
		s.log.Warn("max keep-alive failures reached; dropping tcp connection")
		s.teardown()
		s.kaFailures = 0
	}
}
