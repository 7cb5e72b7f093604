// Package cache defines the disk-backed memoization layer. Store persists one
// JSON envelope per cache key under CacheDir/<prefix>_<hash>.json using atomic
// temp-file + rename writes, and reports what was stored together with the
// source fingerprint it was derived from. Coordinator sits on top: it compares
// the stored fingerprint with the live one, recomputes on miss, and exposes
// invalidation, statistics and warming. Storage faults never reach callers;
// they degrade into cache misses.
package cache
