// =============================================================================
// ROOT COMMAND
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "topicbus",
	Short: "topicbus pub/sub broker",
	Long: `topicbus - a pub/sub message broker with per-consumer telemetry.

Every attached consumer gets its own labeled metric series (messages out,
bytes out, acks, redeliveries, unacked backlog, flow-control permits),
exported in Prometheus exposition format on /metrics and removed the moment
the consumer detaches.

Use "topicbus [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
