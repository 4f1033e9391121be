package npu

import (
	"net"
	"testing"
	"time"
)

func watchdogSession() *Session {
	return NewSession(Config{
		Host:                 "npu.test",
		TCPPort:              26,
		KeepAliveInterval:    time.Minute,
		KeepAliveTimeout:     2 * time.Second,
		KeepAliveGrace:       time.Second,
		KeepAliveMaxFailures: 5,
	}, quietLogger())
}

func TestKeepaliveAcked(t *testing.T) {
	base := time.Now()

	tests := []struct {
		name   string
		ackAgo time.Duration // how long before "now" the ack arrived; -1 means never
		sentAt time.Duration // how long before "now" the probe was sent
		want   bool
	}{
		{
			name:   "no ack ever",
			ackAgo: -1,
			sentAt: 2 * time.Second,
			want:   false,
		},
		{
			name:   "fresh ack after probe",
			ackAgo: time.Second,
			sentAt: 2 * time.Second,
			want:   true,
		},
		{
			name:   "stale ack within grace window",
			ackAgo: 2500 * time.Millisecond, // timeout 2s + grace 1s = 3s window
			sentAt: 2 * time.Second,
			want:   true,
		},
		{
			name:   "stale ack beyond grace window",
			ackAgo: 10 * time.Second,
			sentAt: 2 * time.Second,
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := watchdogSession()
			if tt.ackAgo >= 0 {
				s.lastKeepaliveAck.Store(base.Add(-tt.ackAgo).UnixNano())
			}
			got := s.keepaliveAcked(base.Add(-tt.sentAt), base)
			if got != tt.want {
				t.Errorf("keepaliveAcked() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecordKeepaliveFailureSingleMiss(t *testing.T) {
	s := watchdogSession()

	s.recordKeepaliveFailure(nil)

	if s.kaFailures != 1 {
		t.Errorf("kaFailures = %d, want 1", s.kaFailures)
	}
	// A single miss must not drop the connection.
	if s.State() != StateDisconnected {
		// Session never connected, state stays disconnected; the real
		// assertion is on the live-connection case below.
		t.Logf("state = %v", s.State())
	}
}

func TestRecordKeepaliveFailureForcesDisconnect(t *testing.T) {
	s := watchdogSession()

	client, server := net.Pipe()
	defer server.Close()

	s.mu.Lock()
	s.conn = client
	s.state = StateOnline
	s.mu.Unlock()

	for i := 0; i < s.cfg.KeepAliveMaxFailures-1; i++ {
		s.recordKeepaliveFailure(nil)
	}
	if s.State() != StateOnline {
		t.Fatalf("state = %v before threshold, want online", s.State())
	}

	s.recordKeepaliveFailure(nil)

	if s.State() != StateDisconnected {
		t.Errorf("state = %v after max failures, want disconnected", s.State())
	}
	if s.kaFailures != 0 {
		t.Errorf("kaFailures = %d after forced disconnect, want 0", s.kaFailures)
	}

	// The socket really was closed.
	client.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("connection still readable after forced disconnect")
	}
}

func TestKeepaliveAckResetsViaDispatcher(t *testing.T) {
	s := watchdogSession()

	sentAt := time.Now()
	if s.keepaliveAcked(sentAt, time.Now()) {
		t.Fatal("no ack yet, should not be acked")
	}

	s.handleFrame("!OK;")

	if !s.keepaliveAcked(sentAt, time.Now()) {
		t.Error("ack observed by dispatcher not visible to watchdog")
	}
}

func TestNextBackoff(t *testing.T) {
	tests := []struct {
		current, cap, want time.Duration
	}{
		{5 * time.Second, 300 * time.Second, 10 * time.Second},
		{160 * time.Second, 300 * time.Second, 300 * time.Second},
		{300 * time.Second, 300 * time.Second, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := nextBackoff(tt.current, tt.cap); got != tt.want {
			t.Errorf("nextBackoff(%v, %v) = %v, want %v", tt.current, tt.cap, got, tt.want)
		}
	}
}
