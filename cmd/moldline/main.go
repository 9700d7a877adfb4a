// Package main provides the moldline terminal chat client.
//
// # Basic Usage
//
// Create an account and open a direct message:
//
//	moldline register alice
//	moldline dm bob
//	moldline chat <conversation-id>
//
// Settings are read from ~/.moldline/config.toml; the global flags override
// them for one invocation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, set by ldflags.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globalFlags override values from the config file.
type globalFlags struct {
	configPath     string
	chatURL        string
	authURL        string
	wsURL          string
	store          string
	credentialPath string
	logLevel       string
}

func buildRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:           "moldline",
		Short:         "Terminal client for the moldline chat service",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", "", "Path to TOML config file (default ~/.moldline/config.toml)")
	pf.StringVar(&flags.chatURL, "chat-url", "", "Chat API base URL")
	pf.StringVar(&flags.authURL, "auth-url", "", "Auth API base URL")
	pf.StringVar(&flags.wsURL, "ws-url", "", "Real-time endpoint (ws:// or wss://)")
	pf.StringVar(&flags.store, "store", "", "Credential store: file, sqlite or memory")
	pf.StringVar(&flags.credentialPath, "credential-path", "", "Credential file or database path")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(
		buildRegisterCmd(flags),
		buildLoginCmd(flags),
		buildLogoutCmd(flags),
		buildWhoamiCmd(flags),
		buildUsersCmd(flags),
		buildConversationsCmd(flags),
		buildDMCmd(flags),
		buildRoomCmd(flags),
		buildChatCmd(flags),
	)
	return rootCmd
}
