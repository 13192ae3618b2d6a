// Package app provides application services that orchestrate domain logic
// between the HTTP layer, the local state store, and the billing vendor.
package app

// Instrumentation receives the counters app services bump. The metrics
// adapter provides the production implementation; tests use Nop.
type Instrumentation interface {
	EventIngested(tier string)
	EventRejected(reason string)
	TxIDAllocated(tier string)
	StateSaveError()
}

// NopInstrumentation discards all counter bumps.
type NopInstrumentation struct{}

func (NopInstrumentation) EventIngested(string) {}
func (NopInstrumentation) EventRejected(string) {}
func (NopInstrumentation) TxIDAllocated(string) {}
func (NopInstrumentation) StateSaveError()      {}
