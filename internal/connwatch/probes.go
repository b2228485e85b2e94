package connwatch

import (
	"context"
	"fmt"
)

// Service names used by datalookup.
const (
	ServiceLLM      = "llm"
	ServiceDatabase = "database"
)

// Pinger is implemented by the model client and the database executor.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingProbe adapts a Pinger into a ProbeFunc. Errors are prefixed with
// the service name so /health shows where the failure came from.
func PingProbe(name string, p Pinger) ProbeFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	}
}
