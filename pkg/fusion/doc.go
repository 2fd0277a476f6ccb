// Package fusion merges the push and pull channels into one value per
// mounted view.
//
// The Arbiter decides per view whether push is authoritative: the
// connection is open, the current subscription has been sent and answered
// by at least one stats frame, and the view sits inside the push feed's
// fixed top-N. Push frames fan out into the cache under every key they
// cover. Pull results go through the same cache, whose overwrite rule asks
// the Arbiter for authority, so the two channels never need a shared lock.
//
// Consumers never see an empty view because of a failure: a failed pull or
// an errored push connection sets the view's error flag and keeps the last
// value.
package fusion
