package registry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tach-runtime/tach/pkg/types"
)

func TestRegisterThenFreezeLookups(t *testing.T) {
	r := New("/proj")
	r.Register(types.BytecodeEntry{ModuleName: "pkg.mod", SourcePath: "/proj/pkg/mod.py", Bytecode: []byte{0x01}})
	r.Register(types.BytecodeEntry{ModuleName: "pkg", SourcePath: "/proj/pkg/__init__.py", IsPackage: true})
	r.Freeze()

	code, ok := r.Bytecode("pkg.mod")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01}, code)

	path, ok := r.SourcePath("pkg.mod")
	require.True(t, ok)
	assert.Equal(t, "/proj/pkg/mod.py", path)

	isPkg, ok := r.IsPackage("pkg")
	require.True(t, ok)
	assert.True(t, isPkg)

	_, ok = r.Bytecode("does.not.exist")
	assert.False(t, ok)
}

func TestRegisterAfterFreezePanics(t *testing.T) {
	r := New("/proj")
	r.Freeze()

	assert.Panics(t, func() {
		r.Register(types.BytecodeEntry{ModuleName: "late"})
	})
}

func TestFreezeIsIdempotent(t *testing.T) {
	r := New("/proj")
	r.Register(types.BytecodeEntry{ModuleName: "a"})
	r.Freeze()
	r.Freeze()

	assert.True(t, r.Frozen())
	assert.Equal(t, 1, r.Len())
}

func TestExportImportRoundTrip(t *testing.T) {
	r := New("/proj")
	r.Register(types.BytecodeEntry{ModuleName: "pkg.mod", SourcePath: "/proj/pkg/mod.py", Bytecode: []byte{0xde, 0xad}, IsPackage: false})
	r.Freeze()

	snapshot := filepath.Join(t.TempDir(), "registry.gob")
	require.NoError(t, r.Export(snapshot))

	imported, err := Import(snapshot)
	require.NoError(t, err)
	assert.True(t, imported.Frozen())

	code, ok := imported.Bytecode("pkg.mod")
	require.True(t, ok)
	assert.Equal(t, []byte{0xde, 0xad}, code)
}

func TestExportBeforeFreezeFails(t *testing.T) {
	r := New("/proj")
	err := r.Export(filepath.Join(t.TempDir(), "registry.gob"))
	assert.Error(t, err)
}
