// Package subscription builds the push subscription and keeps it in sync
// with the collector.
//
// A Subscription is derived from the views consumers have mounted: one
// backend, one time window, and the breakdown toggles and detail parameters
// those views ask for. The Protocol holds the latest Subscription and sends
// it as a single subscribe frame:
//
//   - whenever it changes while connected, and
//   - on every (re)connect.
//
// Only one subscription is active per connection and each subscribe frame
// replaces the previous one in full. Changes made while disconnected are
// coalesced; only the latest is sent once the connection opens.
package subscription
