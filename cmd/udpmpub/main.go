// Command udpmpub sends messages on a multicast transport from the
// command line, in the style of firestige-Otus/cmd's cobra/pflag
// layout.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/zcmgo/udpm/internal/logging"
	"github.com/zcmgo/udpm/internal/udpmconfig"
	"github.com/zcmgo/udpm/transport"
)

var (
	url     string
	channel string
	message string
	count   int
	period  time.Duration
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "udpmpub",
	Short: "Publish messages on a UDP multicast transport",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVarP(&url, "url", "u", "udpm://239.255.76.67:7667", "transport construction URL")
	rootCmd.Flags().StringVarP(&channel, "channel", "c", "default", "channel name")
	rootCmd.Flags().StringVarP(&message, "message", "m", "hello", "payload to send")
	rootCmd.Flags().IntVarP(&count, "count", "n", 1, "number of times to send")
	rootCmd.Flags().DurationVarP(&period, "period", "p", time.Second, "delay between sends")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
}

func run(cmd *cobra.Command, args []string) error {
	log, err := logging.New(logging.Config{Level: logLevel})
	if err != nil {
		return fmt.Errorf("udpmpub: init logging: %w", err)
	}

	cfg, err := udpmconfig.ParseURL(url)
	if err != nil {
		return fmt.Errorf("udpmpub: %w", err)
	}

	t, err := transport.New(cfg, log)
	if err != nil {
		return fmt.Errorf("udpmpub: %w", err)
	}
	defer t.Close()

	for i := 0; i < count; i++ {
		if err := t.Send(channel, []byte(message)); err != nil {
			log.WithFields(logrus.Fields{"channel": channel, "err": err}).Error("send failed")
			return err
		}
		log.WithFields(logrus.Fields{"channel": channel, "n": i + 1}).Info("sent")
		if i+1 < count {
			time.Sleep(period)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
