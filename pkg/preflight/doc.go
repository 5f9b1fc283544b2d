/*
Package preflight fails a Tach run fast, before any worker is spawned,
when the host can't support the physics engine.

Check loads the running process's effective capability set via
github.com/syndtr/gocapability/capability's NewPid2 + Load + Get
and confirms CAP_SYS_PTRACE is present — required for
process_vm_readv — plus CAP_SYS_ADMIN when the external namespace
isolation layer is in play. A missing capability or a non-Linux kernel
returns the same "fatal: system not supported on this kernel" error
class the rest of the system uses, rather than failing confusingly
mid-run when the first uffd syscall returns EPERM.
*/
package preflight
