/*
Package cache indexes the bytecode compilation cache with a small
BoltDB database: a single bucket of JSON-encoded validity records,
keyed by a natural string id — here the absolute source path rather
than a UUID. The index is a supervisor-side concern only; worker
processes resolve module loads against the registry's exported gob
snapshot and never open this file.

The directory holding both the bbolt file and the cached blobs is safe
to delete at any time: losing the index only costs a round of cache
misses, since validity is always re-derived from the source's current
mtime and the running interpreter's version-magic rather than trusted
blindly.
*/
package cache
