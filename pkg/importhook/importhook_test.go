package importhook

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tach-runtime/tach/pkg/registry"
	"github.com/tach-runtime/tach/pkg/types"
)

func bound(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New("/proj")
	r.Register(types.BytecodeEntry{ModuleName: "pkg.mod", SourcePath: "/proj/pkg/mod.py", Bytecode: []byte{0x01, 0x02}})
	r.Register(types.BytecodeEntry{ModuleName: "pkg", SourcePath: "/proj/pkg/__init__.py", IsPackage: true})
	r.Freeze()

	Bind(r)
	t.Cleanup(func() { Bind(nil) })
	return r
}

func TestGetBytecodeHit(t *testing.T) {
	bound(t)

	code, res := GetBytecode("pkg.mod")
	assert.Equal(t, Hit, res)
	assert.Equal(t, []byte{0x01, 0x02}, code)
}

func TestGetBytecodeMiss(t *testing.T) {
	bound(t)

	_, res := GetBytecode("nonexistent.module")
	assert.Equal(t, Miss, res)
}

func TestGetSourcePathAndIsPackage(t *testing.T) {
	bound(t)

	path, res := GetSourcePath("pkg")
	assert.Equal(t, Hit, res)
	assert.Equal(t, "/proj/pkg/__init__.py", path)

	isPkg, res := IsPackage("pkg")
	assert.Equal(t, Hit, res)
	assert.True(t, isPkg)

	isPkg, res = IsPackage("pkg.mod")
	assert.Equal(t, Hit, res)
	assert.False(t, isPkg)
}

func TestUnboundRegistryReturnsError(t *testing.T) {
	Bind(nil)

	_, res := GetBytecode("anything")
	assert.Equal(t, Error, res)
}
