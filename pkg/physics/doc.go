/*
Package physics is the physics engine: the part of tach that replaces
"fork a fresh interpreter per test" with "snapshot an interpreter
once, then reset it in place."

The sequence, per worker, is:

 1. The worker announces its writable, private, anonymous regions —
    heap, stack, BSS, and bare anonymous mappings — over the control
    channel. DiscoverRegions independently walks /proc/<pid>/maps via
    prometheus/procfs and Capture cross-checks every announced region
    against that view before trusting it: file-backed, executable, and
    shared mappings are never captured, and a region the two sides
    disagree on aborts the worker rather than snapshotting a set the
    reset will not match.

 2. CapturePages reads each region's current contents out of the
    worker with process_vm_readv (golang.org/x/sys/unix.ProcessVMReadv)
    — no ptrace attach/detach cycle, and no pause of the target beyond
    the worker being blocked on its control channel.

 3. Capture wires the above into an Engine: it opens a userfaultfd,
    negotiates UFFD_API, and registers every captured region for
    missing-page notification (UFFDIO_REGISTER, MODE_MISSING). The raw
    ioctl numbers in uffd.go are reproduced from the stable kernel uapi
    header rather than sourced from x/sys/unix, which carries the
    syscall number but not the ioctl surface.

 4. The supervisor hands the registered uffd fd to the worker over
    SCM_RIGHTS; Engine.Serve then runs ServeFaults in the supervisor,
    answering each fault with UFFDIO_COPY from the captured golden page,
    or UFFDIO_ZEROPAGE when the faulting address was never captured (a
    true zero page the worker wrote to after the snapshot and that the
    reset has since discarded).

 5. The reset itself is the worker's own madvise(MADV_DONTNEED) over
    the announced regions — madvise only affects the calling process's
    mappings, so the worker "commits seppuku" on its private pages and
    the supervisor's share of a reset is CompleteReset's accounting.
    Pages the test touched are dropped; the next access re-faults
    through the same handler and rehydrates from the unchanged golden
    data. The region set is fixed at snapshot time: nothing is ever
    re-registered mid-lifetime.

The accounting on Engine (PagesFaultedCycle, PagesFaultedTotal,
ResetCount) is read by pkg/worker on each reset. Only ResetCount feeds
the fragmentation cap: a worker whose reset count reaches the cap is
retired rather than reset indefinitely. The page-fault counts go to
metrics only and do not affect retirement.
*/
package physics
