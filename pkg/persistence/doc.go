// Package persistence stores last known good cache entries in SQLite so a
// restarted client can show data before the first pull or push arrives.
//
// Values are stored as CBOR blobs and decoded back into their typed payload
// by view kind. Restored entries keep their original timestamps; the cache
// demotes them to generation 0, so any live write supersedes them.
package persistence
