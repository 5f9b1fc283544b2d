package physics

import (
	"fmt"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/tach-runtime/tach/pkg/types"
)

// DiscoverRegions parses /proc/<pid>/maps and returns every region
// eligible for snapshot capture: writable, private, and anonymous.
// File-backed mappings, executable-only mappings, shared mappings, and
// stack guard pages are excluded.
func DiscoverRegions(pid int) ([]types.MemoryRegion, error) {
	proc, err := procfs.NewProc(pid)
	if err != nil {
		return nil, fmt.Errorf("open /proc/%d: %w", pid, err)
	}

	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("read /proc/%d/maps: %w", pid, err)
	}

	pageSize := uintptr(PageSize())
	var regions []types.MemoryRegion

	for _, m := range maps {
		if !eligible(m) {
			continue
		}

		start := uintptr(m.StartAddr)
		end := uintptr(m.EndAddr)
		if end <= start {
			continue
		}

		regions = append(regions, types.MemoryRegion{
			Start:    alignDown(start, pageSize),
			Length:   alignUp(end-start, pageSize),
			Class:    classify(m),
			PageSize: pageSize,
			Pages:    make(map[uintptr][]byte),
		})
	}

	return regions, nil
}

func eligible(m *procfs.ProcMap) bool {
	if m.Perms == nil || !m.Perms.Write || !m.Perms.Private {
		return false
	}
	if m.Perms.Execute {
		return false
	}
	// Anonymous: no backing path, or a conventional pseudo-path
	// ("[heap]", "[stack]", "[anon:...]") rather than a real file.
	if m.Pathname != "" && !strings.HasPrefix(m.Pathname, "[") {
		return false
	}
	return true
}

func classify(m *procfs.ProcMap) types.RegionClass {
	switch {
	case strings.HasPrefix(m.Pathname, "[heap]"):
		return types.RegionHeap
	case strings.HasPrefix(m.Pathname, "[stack"):
		return types.RegionStack
	case strings.Contains(m.Pathname, "bss"):
		return types.RegionBSS
	default:
		return types.RegionAnonymous
	}
}

func alignDown(v, align uintptr) uintptr {
	return v - (v % align)
}

func alignUp(v, align uintptr) uintptr {
	if v%align == 0 {
		return v
	}
	return v + (align - v%align)
}
