package npu

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Wire commands sent to the NPU. Commands are ASCII, ';'-terminated, no
// line ending required on the transmit side.
const (
	cmdRegisterEvents = "$EVENTS,1;"
	cmdKeepAlive      = "$OK;"
)

// Gateway replies checked by name.
const (
	replyGatewayReady = "!GATRDY;"
)

const (
	// handshakeTimeout bounds the wait for !GATRDY; after event registration.
	handshakeTimeout = 10 * time.Second

	// writeTimeout bounds a single command write.
	writeTimeout = 5 * time.Second

	// probeTimeout bounds each half of TestConnection.
	probeTimeout = 5 * time.Second
)

// Dialer abstracts TCP connection establishment so tests can substitute
// in-memory transports.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// writeCommand writes one command to the connection under a deadline.
// The NPU parses on the ';' terminator so no newline is appended.
func writeCommand(conn net.Conn, command string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if _, err := conn.Write([]byte(command)); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	// Clear the deadline so it cannot fire on an idle connection.
	return conn.SetWriteDeadline(time.Time{})
}
