// Command socketsession runs a chat relay over the session layer, or joins
// one as a client.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cyberinferno/go-sockets/logger"
)

// chatKind is the application message kind relayed by serve and sent by
// connect.
const chatKind = "chat"

// chatMessage is the body of a chat message.
type chatMessage struct {
	From string `json:"from,omitempty"`
	Text string `json:"text"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "socketsession",
		Short: "Event-driven socket sessions",
		Long: `socketsession runs either side of a socket session.

  socketsession serve     accept clients and relay chat messages
  socketsession connect   join a server and chat from stdin`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// newLogger builds the console logger for a subcommand from the persistent
// --log-level flag.
func newLogger(cmd *cobra.Command, service string) (logger.Logger, error) {
	raw, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", raw, err)
	}

	return logger.NewConsoleLogger(service, level), nil
}
