// Package receiver implements the receiving side of the reliable delivery
// protocol: strict in-order acceptance with duplicate suppression and
// cumulative acknowledgment replay.
//
// Example:
//
//	r := receiver.NewReceiver(trans, func(payload []byte) {
//	    if payload == nil {
//	        fmt.Println("end of stream")
//	        return
//	    }
//	    out.Write(payload)
//	})
//	r.Listen()
package receiver

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/steveofficer/gobackn/transport"
)

// SinkFunc consumes delivered payloads. It is invoked synchronously and in
// sequence order, once per accepted frame. A nil payload signals
// end-of-stream for the current peer.
type SinkFunc func(payload []byte)

// Receiver accepts frames from a single peer at a time and delivers their
// payloads strictly in sequence order. Out-of-order and duplicate frames
// are answered by replaying the last acknowledgment sent, which covers the
// lost-ACK retransmission case without ever delivering a byte twice.
//
// The receiver's whole state is the current peer and the next expected
// sequence number. A datagram from a different address silently restarts
// the sequence space for that new peer; there is no handshake.
type Receiver struct {
	transport transport.Transport
	sink      SinkFunc

	// mu guards the sequencing state below. The receive loop is the only
	// writer, but Close reads from the caller's goroutine.
	mu          sync.Mutex
	expectedSeq uint32
	peer        net.Addr
	lastAck     []byte // encoded ACK frame, replayed verbatim
	lastAckSeq  uint32

	closeOnce sync.Once
	closeErr  error
}

// NewReceiver creates a receiver delivering to the given sink.
func NewReceiver(t transport.Transport, sink SinkFunc) *Receiver {
	logrus.WithFields(logrus.Fields{
		"function":   "NewReceiver",
		"local_addr": t.LocalAddr().String(),
	}).Info("Creating receiver")

	return &Receiver{
		transport: t,
		sink:      sink,
	}
}

// Listen runs the receive loop on the calling goroutine until the
// transport closes.
func (r *Receiver) Listen() {
	for {
		data, addr, err := r.transport.Recv()
		if err != nil {
			// The transport closing is the exit signal.
			logrus.WithFields(logrus.Fields{
				"function": "Listen",
				"error":    err.Error(),
			}).Debug("Receive loop exiting")
			return
		}

		r.handleDatagram(data, addr)
	}
}

// Run starts the receive loop in the background.
func (r *Receiver) Run() {
	go r.Listen()
}

// Close releases the transport, unblocking Listen. Idempotent.
func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.mu.Lock()
		expected := r.expectedSeq
		r.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function":     "Close",
			"expected_seq": expected,
		}).Info("Closing receiver")
		r.closeErr = r.transport.Close()
	})
	return r.closeErr
}

// handleDatagram processes one inbound datagram: validate, sequence,
// deliver, acknowledge. Nothing in here may fail loudly; every rejected
// frame is an ignore outcome.
func (r *Receiver) handleDatagram(data []byte, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	frame := transport.ParseFrame(data)
	if frame == nil {
		// Malformed or corrupt. The claimed sequence number of a corrupt
		// frame is untrustworthy, so no ACK replay either; the sender's
		// timer recovers as if the datagram was lost.
		return
	}

	if r.peer == nil || r.peer.String() != addr.String() {
		r.adoptPeer(addr)
	}

	if frame.Seq != r.expectedSeq {
		logrus.WithFields(logrus.Fields{
			"function":     "handleDatagram",
			"seq":          frame.Seq,
			"expected_seq": r.expectedSeq,
		}).Debug("Out-of-order frame, replaying last acknowledgment")
		r.resendLastAck()
		return
	}

	r.deliver(frame)
	r.acknowledge(frame.Seq, addr)
	r.expectedSeq++
}

// adoptPeer switches to a new peer and restarts the sequence space.
func (r *Receiver) adoptPeer(addr net.Addr) {
	if r.peer != nil {
		logrus.WithFields(logrus.Fields{
			"function": "adoptPeer",
			"old_peer": r.peer.String(),
			"new_peer": addr.String(),
		}).Info("New peer, restarting sequence space")
	}

	r.peer = addr
	r.expectedSeq = 0
	r.lastAck = nil
}

// deliver hands the accepted payload to the sink. A frame with no payload
// arriving at the receiver is the end-of-stream marker, passed through as
// a nil payload.
func (r *Receiver) deliver(frame *transport.Frame) {
	logrus.WithFields(logrus.Fields{
		"function": "deliver",
		"seq":      frame.Seq,
		"payload":  frame.HasPayload(),
	}).Debug("Delivering frame")

	r.sink(frame.Payload)
}

// acknowledge sends a fresh ACK echoing seq and records it for replay.
func (r *Receiver) acknowledge(seq uint32, addr net.Addr) {
	ack := transport.AckFrame(seq)
	r.lastAck = ack
	r.lastAckSeq = seq

	if err := r.transport.Send(ack, addr); err != nil {
		// The sender retransmits and we replay this ACK then.
		logrus.WithFields(logrus.Fields{
			"function": "acknowledge",
			"seq":      seq,
			"error":    err.Error(),
		}).Warn("Failed to send acknowledgment")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "acknowledge",
		"seq":      seq,
	}).Debug("Sent acknowledgment")
}

// resendLastAck replays the most recent acknowledgment to the current
// peer. A no-op if no frame has been accepted from this peer yet.
func (r *Receiver) resendLastAck() {
	if r.lastAck == nil {
		return
	}

	if err := r.transport.Send(r.lastAck, r.peer); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "resendLastAck",
			"seq":      r.lastAckSeq,
			"error":    err.Error(),
		}).Warn("Failed to replay acknowledgment")
		return
	}

	logrus.WithFields(logrus.Fields{
		"function": "resendLastAck",
		"seq":      r.lastAckSeq,
	}).Debug("Replayed acknowledgment")
}
