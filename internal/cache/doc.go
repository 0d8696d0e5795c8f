// Package cache implements the directory-scoped TTL store used to memoize
// expensive lookups (remote price lists, currency tables). Every key maps to
// <CacheRoot>/<SubPath>/<key>.json; the file body carries the caller payload
// plus the reserved "expired" field (TTL in seconds), and freshness is derived
// from the file modtime at read time. Writes go through temp file + rename.
// Expired entries are only hidden, never reclaimed implicitly: Forget/Flush or
// the opt-in Sweeper remove them. Memoizer layers single-flight on top of
// Store.Remember for callers that must not run a producer twice per race.
package cache
