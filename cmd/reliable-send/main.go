// Command reliable-send streams a file to a reliable-recv instance, one
// byte per frame, over the go-back-N protocol.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/steveofficer/gobackn/sender"
	"github.com/steveofficer/gobackn/transport"
)

var (
	peerHost   string
	peerPort   int
	filePath   string
	windowSize int
	interval   time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "reliable-send",
	Short: "Send a file over the reliable go-back-N protocol",
	Long: `reliable-send reads a file and streams it to a receiver one byte per
frame, buffering up to the window size of unacknowledged frames and
retransmitting on timeout. An empty frame marks the end of the stream.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().StringVar(&peerHost, "addr", "127.0.0.1", "receiver host")
	rootCmd.Flags().IntVar(&peerPort, "port", 0, "receiver port")
	rootCmd.Flags().StringVar(&filePath, "file", "", "file to send")
	rootCmd.Flags().IntVar(&windowSize, "window", 5, "maximum unacknowledged frames")
	rootCmd.Flags().DurationVar(&interval, "interval", sender.DefaultRetransmitInterval, "retransmission interval")

	_ = rootCmd.MarkFlagRequired("port")
	_ = rootCmd.MarkFlagRequired("file")
}

func run() error {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return errors.Wrapf(err, "read %s", filePath)
	}

	peer, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", peerHost, peerPort))
	if err != nil {
		return errors.Wrapf(err, "resolve %s:%d", peerHost, peerPort)
	}

	trans, err := transport.NewUDPTransport(":0")
	if err != nil {
		return errors.Wrap(err, "create transport")
	}

	s, err := sender.NewSender(trans, peer, windowSize, sender.WithRetransmitInterval(interval))
	if err != nil {
		return errors.Wrap(err, "create sender")
	}
	defer s.Close()

	logrus.WithFields(logrus.Fields{
		"file":        filePath,
		"size":        len(content),
		"peer":        peer.String(),
		"window_size": windowSize,
	}).Info("Sending file")

	// One byte per frame to illustrate the windowed stop-and-wait nature
	// of the protocol.
	for i := range content {
		if err := s.Send(content[i : i+1]); err != nil {
			return errors.Wrap(err, "send")
		}
	}

	// An empty frame marks the end of the stream.
	if err := s.Send(nil); err != nil {
		return errors.Wrap(err, "send end-of-stream")
	}

	s.WaitUntilEmpty()
	logrus.Info("All frames acknowledged")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
