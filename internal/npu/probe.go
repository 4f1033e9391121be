package npu

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// TestConnection verifies the gateway is reachable on both interfaces:
// the HTTP configuration endpoint (port 80) and the TCP event port. It
// does not disturb an active session; the probe connection is closed
// immediately.
func (s *Session) TestConnection(ctx context.Context) error {
	httpCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/info?what=names", s.cfg.Host)
	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build http probe: %w", ErrUnreachable, err)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: http probe: %w", ErrUnreachable, err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: http probe: status %d", ErrUnreachable, resp.StatusCode)
	}
	s.log.Debug("http connection test successful")

	tcpCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	addr := s.cfg.tcpAddress()
	conn, err := s.dialer.DialContext(tcpCtx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: tcp probe to %s: %w", ErrUnreachable, addr, err)
	}
	// Closing promptly matters: the NPU has a small TCP session budget.
	_ = conn.SetDeadline(time.Now().Add(probeTimeout))
	if err := conn.Close(); err != nil {
		s.log.Warn("probe connection not closed cleanly, relying on gateway to reap it", "error", err)
	}
	s.log.Debug("tcp connection test successful")

	return nil
}
