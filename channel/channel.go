// Package channel defines the contract for inbound integrations
// (Slack, etc.) that submit runs and relay progress back to users.
package channel

import "context"

// Channel is a long-running integration surface.
type Channel interface {
	// Name identifies the channel in logs.
	Name() string
	// Run blocks until the context is canceled or a fatal error occurs.
	Run(ctx context.Context) error
}
