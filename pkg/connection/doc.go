// Package connection manages the push connection lifecycle.
//
// A Manager connects when enabled, probes the open connection for latency,
// and reconnects with exponential backoff after every close or failure
// until disabled.
//
// # Reconnection Strategy
//
// Delays follow min(base·2^n, cap):
//
//  1. Initial delay: 3 seconds
//  2. Exponential increase: 6s, 12s, 24s
//  3. Maximum delay: 30 seconds, repeated until a connect succeeds
//  4. Reset to 3s on every successful connect
//
// Jitter is off by default and can be enabled in BackoffConfig.
//
// # Generations
//
// Every connect attempt starts a new generation. Goroutines and timers
// capture the generation they belong to and post their results back to the
// sync loop, where results from any earlier generation are dropped.
//
// # Health Probe
//
// While connected, a ping is sent every probe interval (10s by default) and
// the matching pong yields a latency sample. Unanswered probes are counted
// and logged but never force a reconnect.
package connection
