// =============================================================================
// TOPICBUS - MAIN ENTRY POINT
// =============================================================================
//
// USAGE:
//   topicbus serve --config /etc/topicbus/config.yaml
//   topicbus version
//
// =============================================================================

package main

import (
	"os"

	"topicbus/cmd/topicbus/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
