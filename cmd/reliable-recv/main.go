// Command reliable-recv listens for a reliable-send stream, accumulates
// the delivered bytes, and logs the full content at each end-of-stream.
package main

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/steveofficer/gobackn/receiver"
	"github.com/steveofficer/gobackn/transport"
)

var listenPort int

var rootCmd = &cobra.Command{
	Use:   "reliable-recv",
	Short: "Receive a byte stream over the reliable go-back-N protocol",
	Long: `reliable-recv listens on a UDP port for frames from a reliable-send
instance, delivers them strictly in order, and prints the accumulated data
when the end-of-stream marker arrives. It then keeps listening for the next
stream.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func init() {
	rootCmd.Flags().IntVar(&listenPort, "port", 0, "port to listen on")
	_ = rootCmd.MarkFlagRequired("port")
}

func run() error {
	trans, err := transport.NewUDPTransport(fmt.Sprintf(":%d", listenPort))
	if err != nil {
		return errors.Wrap(err, "create transport")
	}

	var received bytes.Buffer
	r := receiver.NewReceiver(trans, func(payload []byte) {
		if payload == nil {
			logrus.WithFields(logrus.Fields{
				"size": received.Len(),
				"data": received.String(),
			}).Info("End of stream, total received data")
			received.Reset()
			return
		}
		received.Write(payload)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		r.Close()
	}()

	logrus.WithFields(logrus.Fields{
		"local_addr": trans.LocalAddr().String(),
	}).Info("Receiver listening")

	r.Listen()
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
