// Package toxicity implements the toxicity analyzer: static
// classification of each source file as Safe, Toxic, or Unknown by
// scanning its AST for known dangerous calls, then propagating
// toxicity transitively through the module import graph.
package toxicity

import (
	"context"
	"os"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/types"
)

// dangerousCall maps a dotted call target to the reason it makes a
// module toxic. Targets are matched against the fully dotted form of
// the call's function expression (e.g. "threading.Thread",
// "multiprocessing.Process").
var dangerousCall = map[string]types.ToxicityReason{
	"threading.Thread":        types.ReasonThreadCreation,
	"Thread":                  types.ReasonThreadCreation,
	"multiprocessing.Process": types.ReasonProcessCreation,
	"Process":                 types.ReasonProcessCreation,
	"socket.socket":           types.ReasonSocketOpen,
	"ctypes.CDLL":             types.ReasonNativeLibraryLoad,
	"ctypes.PyDLL":            types.ReasonNativeLibraryLoad,
	"ctypes.cdll.LoadLibrary": types.ReasonNativeLibraryLoad,
	"cffi.FFI":                types.ReasonNativeLibraryLoad,
	"grpc.insecure_channel":   types.ReasonBackgroundIOClient,
	"grpc.secure_channel":     types.ReasonBackgroundIOClient,
	"httpx.Client":            types.ReasonBackgroundIOClient,
	"aiohttp.ClientSession":   types.ReasonBackgroundIOClient,
}

// nativeFFIModules are modules whose mere import is treated as a
// native-library load, independent of any call.
var nativeFFIModules = map[string]bool{
	"ctypes": true,
	"cffi":   true,
}

// FileReport is the raw per-file scan result before transitive
// propagation: which dangerous calls it directly contains, and which
// modules it imports.
type FileReport struct {
	ModuleName string
	Reasons    []types.ToxicityReason
	Unresolved bool // had a dynamic __import__ or conditional import
	Imports    []string
}

// Analyzer scans source files and builds Toxicity Reports.
type Analyzer struct {
	parser *sitter.Parser
}

// New creates an Analyzer with a fresh tree-sitter Python parser.
func New() *Analyzer {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Analyzer{parser: parser}
}

// ScanFile parses sourcePath and returns its direct (non-transitive)
// toxicity signal.
func (a *Analyzer) ScanFile(ctx context.Context, moduleName, sourcePath string) (FileReport, error) {
	content, err := os.ReadFile(sourcePath)
	if err != nil {
		return FileReport{}, err
	}

	tree, err := a.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return FileReport{}, err
	}
	defer tree.Close()

	report := FileReport{ModuleName: moduleName}
	walk(tree.RootNode(), content, &report)
	return report, nil
}

func walk(node *sitter.Node, content []byte, report *FileReport) {
	if node == nil {
		return
	}

	switch node.Type() {
	case "call":
		fn := node.ChildByFieldName("function")
		if fn != nil {
			target := dottedText(fn, content)
			if reason, ok := dangerousCall[target]; ok {
				report.Reasons = appendReason(report.Reasons, reason)
			}
			if target == "__import__" {
				report.Unresolved = true
			}
		}

	case "import_statement":
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			name := dottedText(child, content)
			if name == "" {
				continue
			}
			report.Imports = append(report.Imports, name)
			if nativeFFIModules[strings.SplitN(name, ".", 2)[0]] {
				report.Reasons = appendReason(report.Reasons, types.ReasonNativeLibraryLoad)
			}
		}

	case "import_from_statement":
		moduleNode := node.ChildByFieldName("module_name")
		if moduleNode != nil {
			name := dottedText(moduleNode, content)
			if name != "" {
				report.Imports = append(report.Imports, name)
				if nativeFFIModules[strings.SplitN(name, ".", 2)[0]] {
					report.Reasons = appendReason(report.Reasons, types.ReasonNativeLibraryLoad)
				}
			}
		}
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		walk(node.NamedChild(i), content, report)
	}
}

// dottedText renders an attribute/identifier/dotted-name expression as
// its dotted textual form (e.g. "threading.Thread"), or "" if the node
// isn't a simple dotted path.
func dottedText(node *sitter.Node, content []byte) string {
	if node == nil {
		return ""
	}
	switch node.Type() {
	case "identifier", "dotted_name":
		return string(content[node.StartByte():node.EndByte()])
	case "attribute":
		obj := node.ChildByFieldName("object")
		attr := node.ChildByFieldName("attribute")
		objText := dottedText(obj, content)
		if objText == "" || attr == nil {
			return ""
		}
		return objText + "." + string(content[attr.StartByte():attr.EndByte()])
	default:
		return string(content[node.StartByte():node.EndByte()])
	}
}

func appendReason(reasons []types.ToxicityReason, r types.ToxicityReason) []types.ToxicityReason {
	for _, existing := range reasons {
		if existing == r {
			return reasons
		}
	}
	return append(reasons, r)
}

// Propagate computes the monotone Toxic fixed-point over the import
// graph built from files, and returns one Toxicity Report per module.
// Iteration order is a stable sort by module name, so the result is
// reproducible across runs regardless of map iteration order.
func Propagate(files map[string]FileReport) map[string]types.ToxicityReport {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	reports := make(map[string]types.ToxicityReport, len(names))
	for _, name := range names {
		f := files[name]
		switch {
		case len(f.Reasons) > 0:
			reports[name] = types.ToxicityReport{
				ModuleName:     name,
				Classification: types.ToxicityToxic,
				Reasons:        f.Reasons,
			}
		case f.Unresolved:
			reports[name] = types.ToxicityReport{
				ModuleName:     name,
				Classification: types.ToxicityUnknown,
				Reasons:        []types.ToxicityReason{types.ReasonUnresolvedImport},
			}
		default:
			reports[name] = types.ToxicityReport{
				ModuleName:     name,
				Classification: types.ToxicitySafe,
			}
		}
	}

	// Worklist fixed-point: any module whose import resolves to a
	// Toxic (or Unknown, conservatively routed as Toxic) module
	// becomes Toxic itself, "inherited-from" that module. Repeat
	// until no report changes; the relation is monotone so this
	// always terminates within len(names) passes.
	changed := true
	for changed {
		changed = false
		for _, name := range names {
			current := reports[name]
			if current.Classification == types.ToxicityToxic {
				continue
			}
			for _, imp := range files[name].Imports {
				dep, ok := reports[imp]
				if !ok {
					continue
				}
				if dep.Classification == types.ToxicityToxic || dep.Classification == types.ToxicityUnknown {
					reports[name] = types.ToxicityReport{
						ModuleName:     name,
						Classification: types.ToxicityToxic,
						Reasons:        []types.ToxicityReason{types.ReasonInheritedFrom},
						InheritedFrom:  imp,
					}
					changed = true
					break
				}
			}
		}
	}

	return reports
}

// Analyze scans every (moduleName, sourcePath) pair and returns the
// fully propagated Toxicity Report set.
func (a *Analyzer) Analyze(ctx context.Context, sources map[string]string) map[string]types.ToxicityReport {
	logger := log.WithComponent("toxicity")

	files := make(map[string]FileReport, len(sources))
	for moduleName, sourcePath := range sources {
		report, err := a.ScanFile(ctx, moduleName, sourcePath)
		if err != nil {
			logger.Warn().Err(err).Str("module", moduleName).Msg("toxicity scan failed, treating as unresolved")
			files[moduleName] = FileReport{ModuleName: moduleName, Unresolved: true}
			continue
		}
		files[moduleName] = report
	}

	return Propagate(files)
}
