// Package runner executes build and deploy invocations as subprocesses.
//
// An Invocation is an argv run in the checkout directory with the build
// environment layered on top of the process environment. The process's own
// environment is never modified.
//
// Timeout handling:
//   - Invocations run without a deadline unless Invocation.Timeout is set
//   - When the timeout expires (or the context is cancelled), SIGTERM is sent
//   - After a 5 second grace period, SIGKILL is sent if the process is still running
//
// Failures are reported as *ExecutionError carrying the invocation name, the
// exit code and the tail of stderr (capped at 64KB).
package runner
