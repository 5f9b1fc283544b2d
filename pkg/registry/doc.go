/*
Package registry implements the module registry.

The registry is a plain Go map behind a one-shot freeze gate: Register
populates it, Freeze ends the writer phase, and every lookup thereafter
is lock-free since the map is never mutated again. The freeze is
enforced at runtime — Register panics if called after Freeze.

Export/Import carry a frozen registry's contents across a process
boundary as a gob-encoded snapshot: each worker subprocess loads its
own read-only copy rather than sharing the supervisor's live map, so
the one-way freeze invariant still holds once the snapshot is written.
*/
package registry
