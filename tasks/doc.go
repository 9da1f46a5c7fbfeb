// Package tasks defines the closed set of panel tasks and the run ledger.
//
// A Kind is one of dashboard, weather, music, message or clean. Its wire key
// is the lowercase name stored in the active-task record; its display name
// is what the control plane reports as status. Only music keeps running
// after its first frame.
//
// A Spec is a launch request: the kind plus the typed parameters that kind
// needs (message text for message, nothing for the rest).
//
// The Ledger records each launch as a Run in a state.StateStore so the
// control plane can list what ran, when, and how it ended.
//
//	spec, err := tasks.ParseSpec("message", "Back at 5")
//	runID, _ := ledger.Start(ctx, spec, generation)
//	...
//	ledger.Finish(ctx, runID, err)
package tasks
