/*
Package scheduler implements the Scheduler: a bounded pool of workers
(Config.PoolSize) drained from a priority queue.

Enqueue appends test cases and stable-sorts the pending queue so every
Safe test runs before any Toxic or Unknown one (Unknown is scheduled as
conservatively as Toxic, matching its classification) — this is the
whole of the priority policy, and it's a plain sort rather than a heap
because the queue is re-sorted on every Enqueue rather than
incrementally maintained.

The dispatch loop (run) does two things every tick: retire any worker
that has reached its fragmentation cap or died (recreating a
replacement before the next dispatch, a desired-vs-actual
reconciliation pass), then drain the pending queue into every Idle
worker. Each dispatch's timeout is enforced by worker.Worker.Dispatch
itself, not by the scheduler. A dispatch that fails because the worker
process died mid-test records the in-flight test as a crash and lets
the next retirement sweep replace the worker.
*/
package scheduler
