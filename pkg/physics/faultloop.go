package physics

import (
	"context"
	"errors"
	"fmt"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/types"
)

// pollTimeoutMS bounds how long one ReadEvent wait can hide a context
// cancellation from the loop.
const pollTimeoutMS = 100

// regionFor returns the region containing addr, or nil if addr falls
// outside every registered region.
func regionFor(regions []types.MemoryRegion, addr uintptr) *types.MemoryRegion {
	for i := range regions {
		r := &regions[i]
		if addr >= r.Start && addr < r.Start+r.Length {
			return r
		}
	}
	return nil
}

// ServeFaults runs the fault-service loop for one worker: it waits on
// uffd.ReadEvent, resolves each faulting address against the captured
// regions, and replies with UFFDIO_COPY (golden page present) or
// UFFDIO_ZEROPAGE (address never captured). Notifications are handled
// strictly in the order the kernel queues them on the fd; the worker
// cannot make forward progress on a faulting load until its fault has
// been satisfied here. The loop returns when ctx is cancelled or the
// uffd fd fails, which happens when the worker the fd belongs to dies.
//
// onFault is invoked once per serviced fault; callers use it to drive
// the PagesFaultedCycle / PagesFaultedTotal accounting.
func ServeFaults(ctx context.Context, uffd *FD, regions []types.MemoryRegion, onFault func()) error {
	logger := log.WithComponent("physics")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		event, err := uffd.ReadEvent(pollTimeoutMS)
		if err != nil {
			if errors.Is(err, ErrNoEvent) {
				continue
			}
			return fmt.Errorf("serve faults: %w", err)
		}
		if event.Event != UFFD_EVENT_PAGEFAULT {
			continue
		}

		region := regionFor(regions, event.Address)
		if region == nil {
			logger.Error().Uint64("addr", uint64(event.Address)).Msg("page fault outside any captured region")
			continue
		}

		pageAddr := alignDown(event.Address, region.PageSize)
		offset := pageAddr - region.Start

		if golden, ok := region.Pages[offset]; ok {
			if err := uffd.Copy(pageAddr, golden); err != nil {
				return fmt.Errorf("service fault at %#x: %w", pageAddr, err)
			}
		} else {
			if err := uffd.ZeroPage(pageAddr, region.PageSize); err != nil {
				return fmt.Errorf("service fault at %#x: %w", pageAddr, err)
			}
		}

		if onFault != nil {
			onFault()
		}
	}
}
