// Package poll issues periodic pull requests for mounted views.
//
// # Cadence
//
// Each job pulls at Policy.Interval while push is not authoritative for its
// view and at the longer Policy.PushInterval while it is. The interval is
// chosen afresh on every check, so the cadence follows authority changes
// without rescheduling. A rolling window re-resolves its bounds on each
// pull; a fixed window is simply fetched again.
//
// # Timers
//
// One shared timer fires every Granularity while at least one job exists
// and checks which jobs are due. It stops when the last job is removed.
//
// # Cancellation
//
// Unschedule removes a job synchronously on the executor and cancels its
// in-flight pull. A result that arrives for a removed or replaced job is
// discarded, so nothing fires for a view after Unschedule returns.
package poll
