// Package testutil provides in-memory stand-ins for the push collector and
// the pull API, plus helpers for driving a sync loop from tests.
package testutil
