package sender

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveofficer/gobackn/transport"
)

// neverFire keeps the automatic timer out of deterministic tests; timeout
// behaviour is exercised by calling onTimeout directly.
const neverFire = time.Hour

func newTestSender(t *testing.T, windowSize int) (*Sender, *mockTransport) {
	t.Helper()

	trans := newMockTransport()
	s, err := NewSender(trans, testPeer, windowSize, WithRetransmitInterval(neverFire))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s, trans
}

func TestNewSenderRejectsInvalidWindowSize(t *testing.T) {
	_, err := NewSender(newMockTransport(), testPeer, 0)
	assert.ErrorIs(t, err, ErrInvalidWindowSize)
}

func TestSendTransmitsAndBuffers(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))

	frames := trans.sentFrames()
	require.Len(t, frames, 2)

	assert.Equal(t, uint32(0), frames[0].Seq)
	assert.Equal(t, []byte{0x41}, frames[0].Payload)
	assert.Equal(t, uint32(1), frames[1].Seq)
	assert.Equal(t, []byte{0x42}, frames[1].Payload)

	assert.Equal(t, 2, s.Outstanding())
}

func TestSendEndOfStreamMarker(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send(nil))

	frames := trans.sentFrames()
	require.Len(t, frames, 1)
	assert.False(t, frames[0].HasPayload())
}

func TestSendRejectsMultiBytePayload(t *testing.T) {
	s, trans := newTestSender(t, 5)

	assert.ErrorIs(t, s.Send([]byte("ab")), ErrPayloadTooLarge)
	assert.Equal(t, 0, trans.sentCount())
	assert.Equal(t, 0, s.Outstanding())
}

func TestAckDrainsWindow(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))
	require.NoError(t, s.Send([]byte{0x43}))

	trans.injectAck(1)

	require.Eventually(t, func() bool {
		return s.Outstanding() == 1
	}, 2*time.Second, 10*time.Millisecond, "cumulative ack did not drain the window")
}

func TestStaleAndFutureAcksIgnored(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))

	trans.injectAck(0)
	require.Eventually(t, func() bool {
		return s.Outstanding() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Stale: seq 0 is already acknowledged. Future: seq 9 was never sent.
	trans.injectAck(0)
	trans.injectAck(9)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.Outstanding())
}

func TestMalformedAckIgnored(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))

	trans.inject([]byte{0x01, 0x02})
	corrupt := transport.AckFrame(0)
	corrupt[5] ^= 0xFF
	trans.inject(corrupt)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, s.Outstanding())
}

func TestRetransmitResendsWholeWindowInOrder(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))

	s.onTimeout()

	frames := trans.sentFrames()
	require.Len(t, frames, 4)

	assert.Equal(t, uint32(0), frames[2].Seq)
	assert.Equal(t, []byte{0x41}, frames[2].Payload)
	assert.Equal(t, uint32(1), frames[3].Seq)
	assert.Equal(t, []byte{0x42}, frames[3].Payload)
}

func TestRetransmitIsIdempotent(t *testing.T) {
	s, trans := newTestSender(t, 5)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))

	s.onTimeout()
	s.onTimeout()

	frames := trans.sentFrames()
	require.Len(t, frames, 6)

	// Both fires replay identical sequence and payload.
	for _, batch := range [][]*transport.Frame{frames[2:4], frames[4:6]} {
		assert.Equal(t, uint32(0), batch[0].Seq)
		assert.Equal(t, []byte{0x41}, batch[0].Payload)
		assert.Equal(t, uint32(1), batch[1].Seq)
		assert.Equal(t, []byte{0x42}, batch[1].Payload)
	}
}

func TestRetransmitEmptyWindowIsNoOp(t *testing.T) {
	s, trans := newTestSender(t, 5)

	s.onTimeout()
	assert.Equal(t, 0, trans.sentCount())
}

func TestTimerFiresAutomatically(t *testing.T) {
	trans := newMockTransport()
	s, err := NewSender(trans, testPeer, 5, WithRetransmitInterval(30*time.Millisecond))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send([]byte{0x41}))

	// Original transmit plus at least one timer resend.
	require.Eventually(t, func() bool {
		return trans.sentCount() >= 2
	}, 2*time.Second, 10*time.Millisecond, "retransmit timer never fired")
}

func TestSendBlocksOnFullWindow(t *testing.T) {
	s, trans := newTestSender(t, 1)

	require.NoError(t, s.Send([]byte{0x41}))

	sent := make(chan error, 1)
	go func() {
		sent <- s.Send([]byte{0x42})
	}()

	select {
	case <-sent:
		t.Fatal("Send returned while the window was full")
	case <-time.After(50 * time.Millisecond):
	}

	trans.injectAck(0)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not unblock after the window drained")
	}
}

func TestWaitUntilEmptyWakesOnFinalAck(t *testing.T) {
	s, trans := newTestSender(t, 3)

	require.NoError(t, s.Send([]byte{0x41}))
	require.NoError(t, s.Send([]byte{0x42}))
	require.NoError(t, s.Send([]byte{0x43}))

	done := make(chan struct{})
	go func() {
		s.WaitUntilEmpty()
		close(done)
	}()

	trans.injectAck(1)
	select {
	case <-done:
		t.Fatal("WaitUntilEmpty returned with a frame still outstanding")
	case <-time.After(100 * time.Millisecond):
	}

	trans.injectAck(2)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitUntilEmpty did not return after the final ack")
	}
}

func TestCloseIsIdempotentAndStopsSends(t *testing.T) {
	s, _ := newTestSender(t, 5)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Send([]byte{0x41}), ErrSenderClosed)
}

func TestCloseUnblocksFullWindowSend(t *testing.T) {
	s, _ := newTestSender(t, 1)

	require.NoError(t, s.Send([]byte{0x41}))

	sent := make(chan error, 1)
	go func() {
		sent <- s.Send([]byte{0x42})
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-sent:
		assert.ErrorIs(t, err, ErrSenderClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked Send did not unblock on Close")
	}
}
