package supervisor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root string, rel string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("x = 1\n"), 0o644))
	return path
}

func TestDiscoverSourcesFindsTestFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/__init__.py")
	writeFile(t, root, "pkg/mod.py")
	testFile := writeFile(t, root, "tests/test_mod.py")
	writeFile(t, root, "tests/helper.py")
	writeFile(t, root, "README.md")

	sources, testFiles, err := discoverSources(root)
	require.NoError(t, err)

	assert.Len(t, sources, 4)
	require.Len(t, testFiles, 1)
	assert.Equal(t, testFile, testFiles[0])
}

func TestDiscoverSourcesSkipsHiddenDirs(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pkg/mod.py")
	writeFile(t, root, ".tach/cache/stale.py")
	writeFile(t, root, ".venv/lib/junk.py")

	sources, _, err := discoverSources(root)
	require.NoError(t, err)

	require.Len(t, sources, 1)
	assert.Equal(t, filepath.Join(root, "pkg", "mod.py"), sources[0])
}
