// Package sender implements the sending side of the reliable delivery
// protocol: a go-back-N sliding window with cumulative acknowledgment and
// timeout-driven retransmission.
//
// Example:
//
//	s, err := sender.NewSender(trans, peerAddr, 5)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	for _, b := range data {
//	    s.Send([]byte{b})
//	}
//	s.Send(nil) // end-of-stream marker
//	s.WaitUntilEmpty()
package sender

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrWindowClosed is returned by Append after the window has been closed.
var ErrWindowClosed = errors.New("window closed")

// ErrSequenceGap indicates an attempt to append a frame whose sequence
// number does not directly follow the newest entry.
var ErrSequenceGap = errors.New("sequence number not contiguous with window")

// OutboundFrame is one sent-but-unacknowledged frame held for possible
// retransmission.
type OutboundFrame struct {
	Seq  uint32
	Data []byte // encoded wire bytes, resent verbatim on timeout
}

// Window is the bounded buffer of outstanding frames. Entries are held in
// ascending sequence order with no gaps; the oldest entry's sequence number
// is the base of the window.
//
// The window is mutated from two execution contexts, the send path
// (appends) and the acknowledgment listener (drains), so every operation is
// atomic under a single mutex. Append blocks while the window is full and
// WaitEmpty blocks while it is non-empty; both are condition waits on the
// same lock, never polls.
type Window struct {
	mu     sync.Mutex
	space  *sync.Cond // signalled when an entry is removed
	empty  *sync.Cond // signalled when the window drains to zero
	frames []OutboundFrame
	cap    int
	closed bool
}

// NewWindow creates an empty window with the given capacity.
func NewWindow(capacity int) *Window {
	w := &Window{
		frames: make([]OutboundFrame, 0, capacity),
		cap:    capacity,
	}
	w.space = sync.NewCond(&w.mu)
	w.empty = sync.NewCond(&w.mu)
	return w
}

// Append adds a frame to the window, blocking while the window is at
// capacity. It returns ErrWindowClosed if the window is closed before space
// becomes available, and ErrSequenceGap if the frame would break the
// contiguity invariant.
func (w *Window) Append(f OutboundFrame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.frames) == w.cap && !w.closed {
		w.space.Wait()
	}
	if w.closed {
		return ErrWindowClosed
	}

	if n := len(w.frames); n > 0 && f.Seq != w.frames[n-1].Seq+1 {
		return ErrSequenceGap
	}

	w.frames = append(w.frames, f)
	return nil
}

// AckThrough applies a cumulative acknowledgment: every entry with a
// sequence number up to and including seq is removed. Acknowledging
// sequence N implicitly acknowledges all unacknowledged sequence numbers
// before it, so one ACK can drain a whole prefix of the window.
//
// Stale acknowledgments (before the window base) and acknowledgments for
// sequence numbers never sent are ignored. Comparison is modular in uint32
// space: a distance of 2^31 or more from the base is treated as stale,
// which is correct for any window capacity far below 2^31.
//
// It returns the number of entries removed.
func (w *Window) AckThrough(seq uint32) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.frames) == 0 {
		return 0
	}

	base := w.frames[0].Seq
	diff := seq - base
	if diff >= 1<<31 {
		logrus.WithFields(logrus.Fields{
			"function": "AckThrough",
			"seq":      seq,
			"base":     base,
		}).Debug("Ignoring stale acknowledgment")
		return 0
	}

	acked := int(diff) + 1
	if acked > len(w.frames) {
		logrus.WithFields(logrus.Fields{
			"function":    "AckThrough",
			"seq":         seq,
			"base":        base,
			"outstanding": len(w.frames),
		}).Debug("Ignoring acknowledgment for unsent sequence number")
		return 0
	}

	w.frames = w.frames[acked:]

	logrus.WithFields(logrus.Fields{
		"function":    "AckThrough",
		"seq":         seq,
		"acked":       acked,
		"outstanding": len(w.frames),
	}).Debug("Acknowledged frames removed from window")

	w.space.Broadcast()
	if len(w.frames) == 0 {
		w.empty.Broadcast()
	}
	return acked
}

// Snapshot returns a copy of the window contents in ascending sequence
// order. The copy is safe to iterate without holding the window's lock.
func (w *Window) Snapshot() []OutboundFrame {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]OutboundFrame, len(w.frames))
	copy(out, w.frames)
	return out
}

// Len returns the number of outstanding frames.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.frames)
}

// IsEmpty reports whether the window holds no outstanding frames.
func (w *Window) IsEmpty() bool {
	return w.Len() == 0
}

// Base returns the oldest outstanding sequence number. ok is false when
// the window is empty.
func (w *Window) Base() (seq uint32, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.frames) == 0 {
		return 0, false
	}
	return w.frames[0].Seq, true
}

// WaitEmpty blocks until the window holds no outstanding frames or the
// window is closed. The predicate is re-checked after every wakeup under
// the same lock used for notification.
func (w *Window) WaitEmpty() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.frames) > 0 && !w.closed {
		w.empty.Wait()
	}
}

// Close marks the window closed and wakes every blocked Append and
// WaitEmpty. Idempotent.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	w.closed = true
	w.space.Broadcast()
	w.empty.Broadcast()
}
