/*
Package types defines the core data structures shared across Tach:
bytecode entries, the toxicity classification, captured memory regions,
worker lifecycle states, and test cases/results.

These are plain data records — no behavior lives here. The registry,
physics engine, worker, and scheduler packages hold the logic that
creates, transitions, and consumes them.

# Invariants

  - BytecodeEntry is immutable once registered.
  - Toxicity is monotone: Safe -> Toxic is a valid transition, the
    reverse is not.
  - MemoryRegion is captured for writable, private, anonymous regions
    only — never file-backed, shared, or executable-only.
*/
package types
