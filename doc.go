// Package gobackn provides reliable, exactly-once, in-order byte delivery
// over an unreliable datagram transport using a go-back-N automatic
// repeat-request protocol.
//
// The protocol layers three pieces over a raw datagram primitive:
//
//   - transport: the wire frame (sequence number, CRC-32 checksum, optional
//     single payload byte) and the UDP adapter
//   - sender: a bounded sliding window of unacknowledged frames with
//     cumulative acknowledgment and timeout-driven batch retransmission
//   - receiver: strict in-order acceptance with duplicate suppression and
//     acknowledgment replay
//
// One sender talks to one receiver. The receiver adopts whichever peer
// addressed it last and restarts the sequence space when the peer changes;
// there is no handshake, no encryption, and no congestion control.
//
// Sending side:
//
//	trans, _ := transport.NewUDPTransport(":0")
//	s, _ := sender.NewSender(trans, peerAddr, 5)
//	s.Send([]byte{0x41})
//	s.Send(nil) // end-of-stream
//	s.WaitUntilEmpty()
//	s.Close()
//
// Receiving side:
//
//	trans, _ := transport.NewUDPTransport(":9000")
//	r := receiver.NewReceiver(trans, func(payload []byte) {
//	    // payload is one byte, or nil at end-of-stream
//	})
//	r.Listen()
package gobackn
