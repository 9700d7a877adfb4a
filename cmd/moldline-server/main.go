// Package main runs the moldline development chat server.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/omochice/moldline/internal/logging"
	"github.com/omochice/moldline/internal/server"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	var (
		addr         string
		secret       string
		tokenTTL     time.Duration
		requireToken bool
		logLevel     string
	)
	cmd := &cobra.Command{
		Use:   "moldline-server",
		Short: "Run the in-memory development chat server",
		Long: `Run a development chat server on a single port.

It serves the auth API, the chat API and the /ws event stream. All state
is kept in memory and lost on exit.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logging.New(os.Stderr, logLevel)

			if secret == "" {
				secret = os.Getenv("MOLDLINE_TOKEN_SECRET")
			}
			srv := server.New(server.Config{
				Addr:         addr,
				TokenSecret:  secret,
				TokenTTL:     tokenTTL,
				RequireToken: requireToken,
				Logger:       log,
			})
			if err := srv.Start(); err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			sig := <-sigChan
			log.Info().Str("signal", sig.String()).Msg("shutting down")

			srv.Stop()
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "Listen address")
	cmd.Flags().StringVar(&secret, "token-secret", "", "Token signing secret (or MOLDLINE_TOKEN_SECRET; random when unset)")
	cmd.Flags().DurationVar(&tokenTTL, "token-ttl", 24*time.Hour, "Session token lifetime; negative disables expiry")
	cmd.Flags().BoolVar(&requireToken, "require-token", false, "Reject event streams without a bearer token")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	return cmd
}
