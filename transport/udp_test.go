package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUDPTransportSendRecv(t *testing.T) {
	a, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer a.Close()

	b, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)
	defer b.Close()

	sent := EncodeFrame(5, []byte{0x41})
	require.NoError(t, a.Send(sent, b.LocalAddr()))

	data, addr, err := b.Recv()
	require.NoError(t, err)

	assert.Equal(t, sent, data)
	assert.Equal(t, a.LocalAddr().String(), addr.String())
}

func TestUDPTransportCloseUnblocksRecv(t *testing.T) {
	trans, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)

	recvErr := make(chan error, 1)
	go func() {
		_, _, err := trans.Recv()
		recvErr <- err
	}()

	// Give the goroutine a moment to block in Recv.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, trans.Close())

	select {
	case err := <-recvErr:
		assert.ErrorIs(t, err, ErrTransportClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Recv did not unblock after Close")
	}
}

func TestUDPTransportCloseIdempotent(t *testing.T) {
	trans, err := NewUDPTransport("127.0.0.1:0")
	require.NoError(t, err)

	first := trans.Close()
	assert.Equal(t, first, trans.Close())
}
