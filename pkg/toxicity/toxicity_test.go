package toxicity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tach-runtime/tach/pkg/types"
)

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestScanFileDetectsThreadCreation(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "spawns.py", "import threading\n\ndef go():\n    threading.Thread(target=print).start()\n")

	report, err := New().ScanFile(context.Background(), "spawns", path)
	require.NoError(t, err)
	assert.Contains(t, report.Reasons, types.ReasonThreadCreation)
	assert.Contains(t, report.Imports, "threading")
}

func TestScanFileDetectsSocketOpen(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "net.py", "import socket\n\ns = socket.socket()\n")

	report, err := New().ScanFile(context.Background(), "net", path)
	require.NoError(t, err)
	assert.Contains(t, report.Reasons, types.ReasonSocketOpen)
}

func TestScanFilePlainModuleIsClean(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "plain.py", "def add(a, b):\n    return a + b\n")

	report, err := New().ScanFile(context.Background(), "plain", path)
	require.NoError(t, err)
	assert.Empty(t, report.Reasons)
	assert.False(t, report.Unresolved)
}

func TestScanFileFlagsDynamicImport(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "dyn.py", "def load(name):\n    return __import__(name)\n")

	report, err := New().ScanFile(context.Background(), "dyn", path)
	require.NoError(t, err)
	assert.True(t, report.Unresolved)
}

func TestPropagateDirectToxicity(t *testing.T) {
	files := map[string]FileReport{
		"danger": {ModuleName: "danger", Reasons: []types.ToxicityReason{types.ReasonSocketOpen}},
		"clean":  {ModuleName: "clean"},
	}

	reports := Propagate(files)
	assert.Equal(t, types.ToxicityToxic, reports["danger"].Classification)
	assert.Equal(t, types.ToxicitySafe, reports["clean"].Classification)
}

func TestPropagateTransitiveInheritance(t *testing.T) {
	files := map[string]FileReport{
		"leaf":   {ModuleName: "leaf", Reasons: []types.ToxicityReason{types.ReasonThreadCreation}},
		"middle": {ModuleName: "middle", Imports: []string{"leaf"}},
		"top":    {ModuleName: "top", Imports: []string{"middle"}},
	}

	reports := Propagate(files)
	require.Equal(t, types.ToxicityToxic, reports["middle"].Classification)
	assert.Equal(t, "leaf", reports["middle"].InheritedFrom)
	assert.Equal(t, types.ToxicityToxic, reports["top"].Classification)
}

func TestPropagateUnresolvedTreatedAsUnknownButContaminates(t *testing.T) {
	files := map[string]FileReport{
		"dyn":  {ModuleName: "dyn", Unresolved: true},
		"user": {ModuleName: "user", Imports: []string{"dyn"}},
	}

	reports := Propagate(files)
	assert.Equal(t, types.ToxicityUnknown, reports["dyn"].Classification)
	assert.Equal(t, types.ToxicityToxic, reports["user"].Classification)
}

func TestPropagateIsDeterministicAcrossCallOrder(t *testing.T) {
	files := map[string]FileReport{
		"a": {ModuleName: "a", Imports: []string{"b"}},
		"b": {ModuleName: "b", Imports: []string{"c"}},
		"c": {ModuleName: "c", Reasons: []types.ToxicityReason{types.ReasonProcessCreation}},
	}

	first := Propagate(files)
	second := Propagate(files)
	assert.Equal(t, first, second)
}
