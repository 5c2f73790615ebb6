// Package scheduler runs deferred and periodic tasks on a single goroutine.
//
// All device logic (resource tree, registration session, client) is owned by
// the goroutine that calls Run. Other goroutines such as network readers or
// hardware input watchers never touch that state directly; they Post a task
// instead, and the task later executes on the Run goroutine.
//
// # Ordering
//
// Tasks execute in order of fire time. Tasks with the same fire time execute
// in the order they were posted. A periodic task re-enters the queue at its
// previous fire time plus the period, so it does not drift when a callback
// runs late.
//
// # Cancellation
//
// Cancelling a task that has already fired is a no-op. Cancelling a periodic
// task from inside its own callback prevents all further occurrences.
//
// # Termination
//
// Run returns when Stop is called, when its context is cancelled, or when the
// queue is empty and no Hold is outstanding. Hold lets a collaborator with
// in-flight asynchronous work keep Run alive until its result is posted.
//
// # Virtual Time
//
// A Scheduler built with a ManualClock never waits on wall time. Tests drive
// it with RunUntil, which executes every task due up to a deadline and moves
// the clock to each task's fire time before running it.
package scheduler
