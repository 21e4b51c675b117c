// Package lifecycle defines the Service contract every long-running
// component of the Application composition root implements: explicitly
// constructed, explicitly started/stopped services rather than module-level
// singletons.
package lifecycle

import "context"

// Service represents a lifecycle-managed component. AgentScheduler and the
// telemetry server implement this so the root Application can start and stop
// them deterministically; LLMBroker and TokenGovernor have no Start/Stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Descriptor advertises introspection metadata for a Service.
type Descriptor struct {
	Name         string
	Capabilities []string
}

// DescriptorProvider optionally exposes a Descriptor; Manager.Descriptors
// collects one from every registered Service that implements it, and
// ExternalFacade.ListComponents surfaces the result.
type DescriptorProvider interface {
	Descriptor() Descriptor
}
