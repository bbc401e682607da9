package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// recvBufferSize is comfortably larger than MaxFrameSize so oversized
// datagrams are read in full and rejected by ParseFrame rather than
// truncated into something that might still checksum.
const recvBufferSize = 2048

// UDPTransport implements Transport over a UDP socket.
type UDPTransport struct {
	conn      net.PacketConn // interface type, not *net.UDPConn
	closeOnce sync.Once
	closeErr  error
}

// NewUDPTransport creates a UDP transport bound to listenAddr. An address
// of ":0" binds an ephemeral local port, which is what a sender wants; a
// receiver passes its well-known port.
func NewUDPTransport(listenAddr string) (*UDPTransport, error) {
	// net.ListenPacket instead of net.ListenUDP for more abstraction
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen udp %s", listenAddr)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": conn.LocalAddr().String(),
	}).Info("UDP transport listening")

	return &UDPTransport{conn: conn}, nil
}

// Send transmits one datagram to the specified address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	_, err := t.conn.WriteTo(data, addr)
	return err
}

// Recv blocks until one datagram arrives. After Close it returns
// ErrTransportClosed, which callers treat as "stop looping".
func (t *UDPTransport) Recv() ([]byte, net.Addr, error) {
	buffer := make([]byte, recvBufferSize)

	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrTransportClosed
		}
		return nil, nil, err
	}

	return buffer[:n], addr, nil
}

// LocalAddr returns the local address the transport is bound to.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Close shuts down the transport, unblocking any pending Recv. Idempotent.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"local_addr": t.conn.LocalAddr().String(),
		}).Info("Closing UDP transport")
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
