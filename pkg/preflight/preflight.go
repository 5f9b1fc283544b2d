// Package preflight checks that the host kernel and process
// capabilities support the physics engine before the Supervisor spawns
// its first worker, failing fast with a "system not supported on this
// kernel" error class rather than letting the first worker boot fail
// opaquely.
package preflight

import (
	"fmt"
	"runtime"

	"github.com/syndtr/gocapability/capability"

	"github.com/tach-runtime/tach/pkg/log"
)

// Requirement names one capability this process needs and why.
type Requirement struct {
	Cap    capability.Cap
	Reason string
}

// Requirements is the fixed capability set the physics engine depends
// on. CAP_SYS_PTRACE is always required (process_vm_readv); CAP_SYS_ADMIN
// is only checked when the caller requests namespace-isolation support,
// since userfaultfd and process_vm_readv alone don't need it.
var Requirements = []Requirement{
	{Cap: capability.CAP_SYS_PTRACE, Reason: "process_vm_readv cross-process memory capture"},
}

// NamespaceRequirement is added to the check when the external
// namespace-isolation layer is in use.
var NamespaceRequirement = Requirement{
	Cap: capability.CAP_SYS_ADMIN, Reason: "mount namespace setup for filesystem isolation",
}

// Result is one requirement's pass/fail outcome.
type Result struct {
	Requirement
	Satisfied bool
}

// Check verifies the current process holds every capability in
// Requirements (plus NamespaceRequirement when withNamespaces is true)
// in its effective set, and returns a fatal error listing every
// missing one if not.
func Check(withNamespaces bool) ([]Result, error) {
	logger := log.WithComponent("preflight")

	if runtime.GOOS != "linux" {
		return nil, fmt.Errorf("fatal: system not supported on this kernel: tach requires Linux (userfaultfd, process_vm_readv), running on %s", runtime.GOOS)
	}

	caps, err := capability.NewPid2(0)
	if err != nil {
		return nil, fmt.Errorf("fatal: system not supported on this kernel: load process capabilities: %w", err)
	}
	if err := caps.Load(); err != nil {
		return nil, fmt.Errorf("fatal: system not supported on this kernel: load process capabilities: %w", err)
	}

	reqs := append([]Requirement{}, Requirements...)
	if withNamespaces {
		reqs = append(reqs, NamespaceRequirement)
	}

	var results []Result
	var missing []string
	for _, req := range reqs {
		satisfied := caps.Get(capability.EFFECTIVE, req.Cap)
		results = append(results, Result{Requirement: req, Satisfied: satisfied})
		if !satisfied {
			missing = append(missing, fmt.Sprintf("%s (%s)", req.Cap.String(), req.Reason))
		}
		logger.Debug().Str("cap", req.Cap.String()).Bool("satisfied", satisfied).Msg("preflight capability check")
	}

	if len(missing) > 0 {
		return results, fmt.Errorf("fatal: system not supported on this kernel: missing capabilities: %v", missing)
	}
	return results, nil
}
