// Package shutdown tears the controller down in a fixed order when it is
// asked to stop:
//
//   - PhaseControl: stop accepting HTTP requests so no task can be requested
//   - PhaseTasks: stop the active task and wait for it
//   - PhaseStorage: close the art cache, run ledger and status store
//   - PhaseTelemetry: flush pending spans
//
// Steps in one phase run at the same time.
//
//	coord := shutdown.NewCoordinator(shutdown.DefaultConfig())
//	coord.RegisterFuncWithPhase("tasks", sup.Stop, shutdown.PhaseTasks)
//	<-ctx.Done()
//	err := coord.ShutdownWithTimeout(0)
package shutdown
