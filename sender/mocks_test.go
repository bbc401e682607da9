package sender

import (
	"net"
	"sync"

	"github.com/steveofficer/gobackn/transport"
)

// mockAddr is a trivial net.Addr for tests.
type mockAddr string

func (a mockAddr) Network() string { return "udp" }
func (a mockAddr) String() string  { return string(a) }

var testPeer = mockAddr("192.0.2.1:9000")

// mockTransport implements transport.Transport for testing. Sends are
// recorded; inbound datagrams are injected through a channel.
type mockTransport struct {
	mu   sync.Mutex
	sent [][]byte

	inbox     chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		inbox:  make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (m *mockTransport) Send(data []byte, addr net.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	m.sent = append(m.sent, buf)
	return nil
}

func (m *mockTransport) Recv() ([]byte, net.Addr, error) {
	select {
	case data := <-m.inbox:
		return data, testPeer, nil
	case <-m.closed:
		return nil, nil, transport.ErrTransportClosed
	}
}

func (m *mockTransport) LocalAddr() net.Addr {
	return mockAddr("192.0.2.2:0")
}

func (m *mockTransport) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

// inject delivers a datagram to the next Recv call.
func (m *mockTransport) inject(data []byte) {
	m.inbox <- data
}

// injectAck delivers an acknowledgment frame for seq.
func (m *mockTransport) injectAck(seq uint32) {
	m.inject(transport.AckFrame(seq))
}

// sentFrames decodes everything sent so far.
func (m *mockTransport) sentFrames() []*transport.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	frames := make([]*transport.Frame, 0, len(m.sent))
	for _, data := range m.sent {
		frames = append(frames, transport.ParseFrame(data))
	}
	return frames
}

func (m *mockTransport) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}
