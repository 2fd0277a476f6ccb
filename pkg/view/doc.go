// Package view describes the slices of traffic statistics a consumer can ask
// to keep current.
//
// A Descriptor names a view kind (summary, per-country, per-device,
// per-proxy, per-rule, paginated domain and IP lists), the backend it is read
// from, a time window and optional pagination and scope parameters. Its Key
// is the identity under which results are cached:
//
//	summary:1:[1700000000000,1700003600000]
//	domains:1:last=15m0s|limit=50&sort=download&order=desc
//
// # Push coverage
//
// The push feed embeds the summary plus a fixed top-N of the country,
// device, proxy and rule breakdowns. A descriptor is push covered only when
// it asks for data inside that guarantee: first page, limit at most N, no
// search, default sort, no scope. Anything deeper is served by pull.
package view
