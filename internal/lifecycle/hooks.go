package lifecycle

import "context"

// Phase orders shutdown hooks; lower phases complete before higher ones start.
type Phase int

const (
	// PhaseIngress stops accepting new work: HTTP server and trigger backends.
	PhaseIngress Phase = iota
	// PhaseWorkers drains running tickers and background loops.
	PhaseWorkers
	// PhaseResources closes stores and connections.
	PhaseResources
	// PhaseTelemetry flushes error reporting and log files.
	PhaseTelemetry
)

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
