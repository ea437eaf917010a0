// =============================================================================
// CONFIG VALIDATION
// =============================================================================
//
// WHY VALIDATE AT STARTUP?
// Bad config caught at startup is a clear error before traffic hits; bad
// config caught later is a page. Validation runs before any listener binds.
//
// PATTERN: ACCUMULATE ERRORS
// All validation errors are collected and returned together so the operator
// fixes everything in one pass instead of playing whack-a-mole.
//
// =============================================================================

package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError holds one or more configuration validation failures.
type ValidationError struct {
	Errors []string
}

// Error implements the error interface. Multiple failures format as a
// numbered list.
func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0])
	}

	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for i, err := range e.Errors {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, err)
	}
	return b.String()
}

// Validate checks the whole configuration and returns a *ValidationError
// listing every problem found, or nil.
func (c Config) Validate() error {
	var errs []string

	if c.Node.Name == "" {
		errs = append(errs, "node.name must not be empty")
	}

	if c.API.Addr == "" {
		errs = append(errs, "api.addr must not be empty")
	} else if _, _, err := net.SplitHostPort(c.API.Addr); err != nil {
		errs = append(errs, fmt.Sprintf("api.addr %q is not a valid host:port", c.API.Addr))
	}
	if c.API.ReadTimeoutMs < 0 {
		errs = append(errs, "api.read_timeout_ms must not be negative")
	}
	if c.API.WriteTimeoutMs < 0 {
		errs = append(errs, "api.write_timeout_ms must not be negative")
	}
	if c.API.IdleTimeoutMs < 0 {
		errs = append(errs, "api.idle_timeout_ms must not be negative")
	}

	if c.Dispatch.AckTimeoutMs <= 0 {
		errs = append(errs, "dispatch.ack_timeout_ms must be positive")
	}
	if c.Dispatch.RedeliverySweepIntervalMs <= 0 {
		errs = append(errs, "dispatch.redelivery_sweep_interval_ms must be positive")
	}
	if c.Dispatch.DefaultReceiverQueueSize <= 0 {
		errs = append(errs, "dispatch.default_receiver_queue_size must be positive")
	}
	if c.Dispatch.AckTimeoutMs > 0 && c.Dispatch.RedeliverySweepIntervalMs > c.Dispatch.AckTimeoutMs {
		errs = append(errs, "dispatch.redelivery_sweep_interval_ms should not exceed dispatch.ack_timeout_ms")
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		errs = append(errs, "metrics.namespace must not be empty when metrics are enabled")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
