package sender

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/steveofficer/gobackn/transport"
)

// DefaultRetransmitInterval is the fixed delay before all outstanding
// frames are resent when no acknowledgment has arrived.
const DefaultRetransmitInterval = 2 * time.Second

// ErrSenderClosed is returned by Send after the sender has been closed.
var ErrSenderClosed = errors.New("sender closed")

// ErrPayloadTooLarge indicates a payload longer than the single byte a
// frame can carry.
var ErrPayloadTooLarge = errors.New("payload exceeds one byte")

// ErrInvalidWindowSize indicates a window size below 1.
var ErrInvalidWindowSize = errors.New("window size must be at least 1")

// Option configures a Sender.
type Option func(*Sender)

// WithRetransmitInterval overrides the retransmission delay.
func WithRetransmitInterval(d time.Duration) Option {
	return func(s *Sender) {
		s.interval = d
	}
}

// Sender transmits payload bytes to a single peer with go-back-N
// reliability. Frames stay buffered in the window until they are
// cumulatively acknowledged; a timer resends the whole window when
// acknowledgments stop arriving.
//
// Retransmission is unbounded: a peer that never acknowledges causes the
// sender to resend forever and WaitUntilEmpty to block until Close. There
// is no giving-up policy.
type Sender struct {
	transport transport.Transport
	peer      net.Addr
	window    *Window
	interval  time.Duration

	sendMu  sync.Mutex // serializes Send callers
	nextSeq uint32

	mu     sync.Mutex // guards timer and closed
	timer  *time.Timer
	closed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{} // closed when the ack listener exits
}

// NewSender creates a sender for the given peer and starts its
// acknowledgment listener. windowSize bounds the number of outstanding
// unacknowledged frames.
func NewSender(t transport.Transport, peer net.Addr, windowSize int, opts ...Option) (*Sender, error) {
	if windowSize < 1 {
		return nil, ErrInvalidWindowSize
	}

	s := &Sender{
		transport: t,
		peer:      peer,
		window:    NewWindow(windowSize),
		interval:  DefaultRetransmitInterval,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewSender",
		"peer":        peer.String(),
		"window_size": windowSize,
		"interval":    s.interval,
	}).Info("Creating sender")

	go s.listenAcks()

	return s, nil
}

// Send transmits one unit: a single payload byte, or nil for the
// end-of-stream marker. Longer payloads are rejected with
// ErrPayloadTooLarge. It blocks while the window is at capacity and
// returns ErrSenderClosed once the sender is closed.
//
// Send is safe for concurrent use; concurrent calls are serialized.
func (s *Sender) Send(payload []byte) error {
	if len(payload) > 1 {
		return ErrPayloadTooLarge
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	seq := s.nextSeq
	data := transport.EncodeFrame(seq, payload)

	// Buffer first so a timeout firing between transmit and append can
	// never miss the frame.
	if err := s.window.Append(OutboundFrame{Seq: seq, Data: data}); err != nil {
		return ErrSenderClosed
	}

	logrus.WithFields(logrus.Fields{
		"function": "Send",
		"seq":      seq,
		"payload":  payload != nil,
	}).Debug("Sending frame")

	if err := s.transport.Send(data, s.peer); err != nil {
		// The frame is buffered; the retransmit timer recovers it.
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"seq":      seq,
			"error":    err.Error(),
		}).Warn("Transmit failed, frame left for retransmission")
	}

	s.nextSeq++

	s.mu.Lock()
	s.armTimerLocked()
	s.mu.Unlock()

	return nil
}

// WaitUntilEmpty blocks until every outstanding frame has been
// acknowledged, or the sender is closed.
func (s *Sender) WaitUntilEmpty() {
	logrus.WithFields(logrus.Fields{
		"function":    "WaitUntilEmpty",
		"outstanding": s.window.Len(),
	}).Info("Waiting for all frames to be acknowledged")

	s.window.WaitEmpty()
}

// Outstanding returns the number of sent-but-unacknowledged frames.
func (s *Sender) Outstanding() int {
	return s.window.Len()
}

// Close stops the retransmit timer and the acknowledgment listener and
// releases the transport. Blocked Send and WaitUntilEmpty calls are woken.
// Idempotent, and safe to call while a timer fire or an acknowledgment is
// concurrently in flight.
func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		logrus.WithFields(logrus.Fields{
			"function":    "Close",
			"outstanding": s.window.Len(),
		}).Info("Closing sender")

		s.mu.Lock()
		s.closed = true
		s.stopTimerLocked()
		s.mu.Unlock()

		s.window.Close()
		s.closeErr = s.transport.Close()
		<-s.done
	})
	return s.closeErr
}

// listenAcks is the background acknowledgment loop. It runs for the
// lifetime of the sender and exits when the transport closes.
func (s *Sender) listenAcks() {
	defer close(s.done)

	for {
		data, _, err := s.transport.Recv()
		if err != nil {
			// The transport closing is the exit signal.
			logrus.WithFields(logrus.Fields{
				"function": "listenAcks",
				"error":    err.Error(),
			}).Debug("Acknowledgment listener exiting")
			return
		}

		s.handleAck(data)
	}
}

// handleAck validates one inbound datagram and advances the window. Frames
// reaching the sender are structurally acknowledgments; any payload they
// carry is ignored.
func (s *Sender) handleAck(data []byte) {
	frame := transport.ParseFrame(data)
	if frame == nil {
		return
	}

	if s.window.IsEmpty() {
		// Expected at protocol edges: the receiver replays its last ACK
		// for duplicates we have already accounted for.
		logrus.WithFields(logrus.Fields{
			"function": "handleAck",
			"seq":      frame.Seq,
		}).Debug("Ignoring acknowledgment, no unacknowledged frames")
		return
	}

	acked := s.window.AckThrough(frame.Seq)
	if acked > 0 {
		logrus.WithFields(logrus.Fields{
			"function":    "handleAck",
			"seq":         frame.Seq,
			"acked":       acked,
			"outstanding": s.window.Len(),
		}).Info("Received acknowledgment")
	}

	s.mu.Lock()
	if s.window.IsEmpty() {
		s.stopTimerLocked()
	} else {
		// Restart the countdown for whatever is still outstanding.
		s.stopTimerLocked()
		s.armTimerLocked()
	}
	s.mu.Unlock()
}

// onTimeout resends every outstanding frame in ascending sequence order,
// then re-arms the timer. Firing with an empty window is a no-op beyond
// leaving the timer disarmed.
func (s *Sender) onTimeout() {
	s.mu.Lock()
	s.timer = nil
	s.mu.Unlock()

	frames := s.window.Snapshot()
	if len(frames) == 0 {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":    "onTimeout",
		"outstanding": len(frames),
		"base":        frames[0].Seq,
	}).Info("Timeout, resending unacknowledged frames")

	for _, f := range frames {
		if err := s.transport.Send(f.Data, s.peer); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "onTimeout",
				"seq":      f.Seq,
				"error":    err.Error(),
			}).Warn("Resend failed")
			continue
		}
		logrus.WithFields(logrus.Fields{
			"function": "onTimeout",
			"seq":      f.Seq,
		}).Debug("Re-sent frame")
	}

	s.mu.Lock()
	if !s.closed && !s.window.IsEmpty() {
		s.armTimerLocked()
	}
	s.mu.Unlock()
}

// armTimerLocked starts the retransmit timer if it is not already armed.
// Caller holds s.mu.
func (s *Sender) armTimerLocked() {
	if s.closed || s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.interval, s.onTimeout)
}

// stopTimerLocked cancels the retransmit timer if armed. Caller holds s.mu.
func (s *Sender) stopTimerLocked() {
	if s.timer == nil {
		return
	}
	s.timer.Stop()
	s.timer = nil
}
