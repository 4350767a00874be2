// Command udpmsub receives messages from a multicast transport and
// prints them to stdout, in the style of firestige-Otus/cmd's
// cobra/pflag layout.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zcmgo/udpm/internal/logging"
	"github.com/zcmgo/udpm/internal/udpmconfig"
	"github.com/zcmgo/udpm/transport"
)

var (
	url      string
	channel  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "udpmsub",
	Short: "Subscribe to messages on a UDP multicast transport",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&url, "url", "u", "udpm://239.255.76.67:7667", "transport construction URL")
	rootCmd.Flags().StringVarP(&channel, "channel", "c", "", "channel to filter for (empty = all)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func run(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return fmt.Errorf("udpmsub: init logging: %w", err)
	}

	cfg, err := udpmconfig.ParseURL(url)
	if err != nil {
		return fmt.Errorf("udpmsub: %w", err)
	}

	t, err := transport.New(cfg, log)
	if err != nil {
		return fmt.Errorf("udpmsub: %w", err)
	}
	defer t.Close()

	if err := t.SubscribeEnable(channel, true); err != nil {
		return fmt.Errorf("udpmsub: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		<-sigCh
		close(done)
		t.Close()
	}()

	for {
		select {
		case <-done:
			return nil
		default:
		}

		msg, err := t.Recv(500 * time.Millisecond)
		if err != nil {
			if err == transport.ErrAgain {
				continue
			}
			if err == transport.ErrClosed {
				return nil
			}
			log.WithError(err).Error("recv failed")
			return err
		}

		if channel != "" && msg.Channel != channel {
			continue
		}
		log.WithFields(logrus.Fields{
			"channel": msg.Channel,
			"bytes":   len(msg.Payload),
			"ts":      msg.RecvTimestamp,
		}).Info(string(msg.Payload))
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
