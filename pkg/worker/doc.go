/*
Package worker implements the worker lifecycle: the state machine that
owns one snapshotted Python interpreter process from boot through
however many reset cycles it survives.

A Worker transitions through exactly these states:

	Booting -> Idle -> Running -> Resetting -> Idle
	                       |           |
	                       v           v
	                     Toxic      Toxic
	                       |           |
	                       v           v
	                     Dead        Dead
	                   (also: Running/Resetting -> Fragmented -> Dead)

Boot spawns the guest interpreter, accepts its control-channel
connection, receives its HELLO and announced REGIONS, captures those
regions into a physics.Engine, and exchanges REGISTER_UFFD and
SNAPSHOT_READY before declaring the worker Idle. Dispatch sends one
test and blocks for its RESULT or the test's own timeout. Reset sends
RESET — the worker madvises its own announced regions and replies
RESET_DONE — and inspects the reply's thread census:
a worker that still has threads after reset didn't fully unwind and is
promoted to Toxic rather than trusted to behave identically next
cycle. A worker whose reset count
has reached its fragmentation cap is promoted to Fragmented instead of
Idle, so the scheduler retires it before the next dispatch rather than
resetting it indefinitely.

Transitions are enforced by a fixed adjacency table rather than a
generic FSM library: the legal-edge set is small and entirely local to
one process, unlike the distributed log-replication FSM a consensus
library exists for.
*/
package worker
