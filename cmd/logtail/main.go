// Command logtail prints the proxy's live log events in the terminal.
//
// Usage:
//
//	logtail --url ws://localhost:8080/ws
//	logtail --url ws://dash:8080/ws --token "$TOKEN" --all
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"logging_proxy/internal/logger"
	"logging_proxy/internal/models"
	"logging_proxy/internal/observer"

	"github.com/spf13/cobra"
)

var tailFlags struct {
	url      string
	token    string
	all      bool
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "logtail",
	Short: "Follow the logging proxy's event stream",
	Long: `Connect to the dashboard websocket and print one line per log event.

Error events are shown only when their message carries the error marker, the
same rule the dashboard applies. Use --all to print every event.`,
	SilenceUsage: true,
	RunE:         runTail,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&tailFlags.url, "url", "u", "ws://localhost:8080/ws", "dashboard websocket URL")
	flags.StringVar(&tailFlags.token, "token", os.Getenv("LOGPROXY_TOKEN"), "access token (env LOGPROXY_TOKEN)")
	flags.BoolVarP(&tailFlags.all, "all", "a", false, "print every event, including unmarked errors")
	flags.StringVar(&tailFlags.logLevel, "log-level", logger.InfoLevel, "log level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runTail(cmd *cobra.Command, _ []string) error {
	log := logger.Get(tailFlags.logLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := &observer.Client{URL: tailFlags.url, Token: tailFlags.token, All: tailFlags.all}
	log.Debugw("connecting", "url", tailFlags.url)

	out := cmd.OutOrStdout()
	err := client.Run(ctx, func(ev models.LogEvent) {
		fmt.Fprintln(out, observer.FormatLine(ev))
	})
	if err != nil {
		log.Errorw("stream ended", "err", err)
		return err
	}
	log.Debugw("stream closed")
	return nil
}
