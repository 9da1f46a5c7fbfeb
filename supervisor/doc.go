// Package supervisor enforces that at most one panel task runs at a time.
//
// The supervisor owns the handle of the task it launched. A request always
// stops the held task first, waits for it to exit, writes the new key to
// the active-task record and then launches the new task without waiting for
// it. Writing the record is best effort: a failed write is logged and the
// task still starts, with generation 0.
//
// The record's revision is the task's generation. A persistent task (the
// now-playing monitor) compares it with the record to notice that it has
// been superseded, even when it runs in another process.
//
// Two launchers are provided: InProcessLauncher runs a Runner in a goroutine
// and ProcessLauncher re-executes the binary in its own process group.
package supervisor
