// Package types holds the shared data model for Tach: bytecode entries,
// toxicity classifications, captured memory regions, and the worker and
// test-case records that flow between the scheduler, worker lifecycle,
// and physics engine.
package types

import "time"

// BytecodeEntry is an immutable record produced by the compiler and held
// by the module registry. Entries are never mutated after registration.
type BytecodeEntry struct {
	ModuleName string // fully-qualified dotted module name
	SourcePath string // absolute path to the .py source
	Bytecode   []byte // marshalled code object, version header stripped
	IsPackage  bool   // true when SourcePath is a package __init__
}

// Toxicity is the classification assigned to a source module by the
// toxicity analyzer. It is monotone: once Toxic, a module cannot
// transition back to Safe.
type Toxicity string

const (
	ToxicitySafe    Toxicity = "safe"
	ToxicityToxic   Toxicity = "toxic"
	ToxicityUnknown Toxicity = "unknown"
)

// ToxicityReason names the structured cause of a Toxic classification.
type ToxicityReason string

const (
	ReasonThreadCreation     ToxicityReason = "thread-creation"
	ReasonProcessCreation    ToxicityReason = "process-creation"
	ReasonSocketOpen         ToxicityReason = "socket-open"
	ReasonNativeLibraryLoad  ToxicityReason = "native-library-load"
	ReasonBackgroundIOClient ToxicityReason = "background-io-client"
	ReasonUnresolvedImport   ToxicityReason = "unresolved-import"
	ReasonInheritedFrom      ToxicityReason = "inherited-from"
)

// ToxicityReport is the per-module output of the analyzer.
type ToxicityReport struct {
	ModuleName     string
	Classification Toxicity
	Reasons        []ToxicityReason
	InheritedFrom  string // module that contaminated this one, if any
}

// RegionClass classifies a captured memory region by its conventional
// purpose. Only writable, private, anonymous regions are ever captured.
type RegionClass string

const (
	RegionHeap      RegionClass = "heap"
	RegionStack     RegionClass = "stack"
	RegionBSS       RegionClass = "bss"
	RegionAnonymous RegionClass = "anonymous-mapping"
)

// MemoryRegion is a captured golden snapshot of one segment of a
// worker's address space.
type MemoryRegion struct {
	Start    uintptr
	Length   uintptr
	Class    RegionClass
	PageSize uintptr
	Pages    map[uintptr][]byte // page-offset (relative to Start) -> golden bytes
}

// WorkerState is a state in the worker lifecycle state machine.
type WorkerState string

const (
	WorkerBooting    WorkerState = "booting"
	WorkerIdle       WorkerState = "idle"
	WorkerRunning    WorkerState = "running"
	WorkerResetting  WorkerState = "resetting"
	WorkerToxic      WorkerState = "toxic"
	WorkerFragmented WorkerState = "fragmented"
	WorkerDead       WorkerState = "dead"
)

// TestOutcome is the terminal status of one dispatched test.
type TestOutcome string

const (
	OutcomePass    TestOutcome = "pass"
	OutcomeFail    TestOutcome = "fail"
	OutcomeError   TestOutcome = "error"
	OutcomeTimeout TestOutcome = "timeout"
	OutcomeCrash   TestOutcome = "crash"
)

// TestCase identifies a single test and its routing metadata.
type TestCase struct {
	ID         string // source-file path + in-file node id
	SourceFile string
	NodeID     string // in-file identifier (e.g. "TestFoo::test_bar")
	Toxicity   Toxicity
	Timeout    time.Duration
	Params     map[string]string
}

// TestResult is the outcome of dispatching a TestCase to a worker.
type TestResult struct {
	TestID   string
	Outcome  TestOutcome
	Duration time.Duration
	Output   string
	Reason   string // populated for Error/Crash/Timeout outcomes
}

// WorkerStats accumulates per-worker accounting used by the scheduler
// and fragmentation policy.
type WorkerStats struct {
	ResetCount        int
	PagesFaultedTotal uint64
	PagesFaultedCycle uint64
}
