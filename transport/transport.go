package transport

import (
	"errors"
	"net"
)

// ErrTransportClosed is returned by Recv after the transport has been
// closed. Receive loops treat any Recv error as a signal to stop.
var ErrTransportClosed = errors.New("transport closed")

// Transport defines the datagram primitive the protocol runs over. This
// abstraction keeps the ARQ engine independent of the underlying socket and
// lets tests substitute in-memory, lossy implementations.
type Transport interface {
	// Send transmits one datagram to the specified address. Fire-and-forget;
	// delivery is not guaranteed.
	Send(data []byte, addr net.Addr) error

	// Recv blocks until one datagram arrives, returning its bytes and the
	// sender's address. After Close it returns an error.
	Recv() ([]byte, net.Addr, error)

	// LocalAddr returns the local address the transport is bound to.
	LocalAddr() net.Addr

	// Close shuts down the transport, unblocking any pending Recv.
	Close() error
}
