// Package loop provides the single logical event loop that the sync client
// runs on.
//
// Every stateful component (connection manager, subscription protocol,
// polling scheduler, fusion arbiter) is confined to the loop goroutine. Work
// that must block (dialing, reading frames, pull requests) happens on helper
// goroutines which post their results back with Post. Timer callbacks do the
// same. Tasks run strictly in FIFO order, one at a time, so ordering hazards
// come only from interleaving between tasks, never from data races.
package loop
