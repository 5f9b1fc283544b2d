/*
Package toxicity implements the toxicity analyzer.

Each source file is parsed with go-tree-sitter's Python grammar
(sitter.NewParser, parser.SetLanguage(python.GetLanguage()),
parser.ParseCtx) and walked for "call", "import_statement", and
"import_from_statement" nodes. A call is matched against a fixed table
of dangerous dotted targets; an import of a native-FFI module taints
the file even if never called.

Propagate then runs a worklist fixed-point over the resulting import
graph: any module reaching a Toxic (or conservatively-Toxic Unknown)
module becomes Toxic itself, tagged "inherited-from". Module names are
sorted before each pass so the result is identical across runs on the
same input tree, satisfying the determinism requirement.
*/
package toxicity
