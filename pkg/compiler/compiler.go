// Package compiler implements the bytecode compiler: it transforms
// Python source files into marshalled code objects, strips the
// compiled-file header, and caches the result on disk keyed by source
// mtime and interpreter version-magic.
package compiler

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tach-runtime/tach/pkg/cache"
	"github.com/tach-runtime/tach/pkg/log"
	"github.com/tach-runtime/tach/pkg/metrics"
	"github.com/tach-runtime/tach/pkg/registry"
	"github.com/tach-runtime/tach/pkg/types"
)

// headerSize is the length, in bytes, of CPython's compiled-file
// header (magic number + flags + source mtime-or-hash + source
// length) that precedes the marshalled code object in a .pyc file.
const headerSize = 16

// packageEntrypoint is the conventional basename that marks a source
// file as a package initializer.
const packageEntrypoint = "__init__.py"

// sourceSuffix is the extension stripped when deriving a module name.
const sourceSuffix = ".py"

// Toolchain memoizes the Interpreter executable path and its marshal
// version-magic, discovered once at process startup. Rediscovering
// either per compilation causes subprocess storms under parallel
// builds.
type Toolchain struct {
	InterpreterPath string
	VersionMagic    uint32
}

var (
	discoverOnce sync.Once
	discovered   *Toolchain
	discoverErr  error
)

// Discover locates the Interpreter executable and its marshal
// version-magic. The result is memoized for the life of the process;
// subsequent calls return the cached result regardless of ctx.
func Discover(ctx context.Context, interpreterPath string) (*Toolchain, error) {
	discoverOnce.Do(func() {
		discovered, discoverErr = discoverToolchain(ctx, interpreterPath)
	})
	return discovered, discoverErr
}

func discoverToolchain(ctx context.Context, interpreterPath string) (*Toolchain, error) {
	logger := log.WithComponent("compiler")

	path := interpreterPath
	if path == "" {
		resolved, err := exec.LookPath("python3")
		if err != nil {
			return nil, fmt.Errorf("locate interpreter executable: %w", err)
		}
		path = resolved
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(cctx, path, "-c",
		"import importlib.util,sys; sys.stdout.buffer.write(importlib.util.MAGIC_NUMBER)")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("discover interpreter version-magic: %w (stderr: %s)", err, stderr.String())
	}
	if stdout.Len() < 4 {
		return nil, fmt.Errorf("discover interpreter version-magic: short read (%d bytes)", stdout.Len())
	}

	magic := binary.LittleEndian.Uint32(stdout.Bytes()[:4])
	logger.Info().Str("interpreter", path).Uint32("version_magic", magic).Msg("discovered interpreter toolchain")

	return &Toolchain{InterpreterPath: path, VersionMagic: magic}, nil
}

// ModuleName derives the dotted module name for a source path relative
// to projectRoot, and reports whether it is a package initializer.
func ModuleName(sourcePath, projectRoot string) (name string, isPackage bool, err error) {
	rel, err := filepath.Rel(projectRoot, sourcePath)
	if err != nil {
		return "", false, fmt.Errorf("relativize %s to %s: %w", sourcePath, projectRoot, err)
	}

	isPackage = filepath.Base(rel) == packageEntrypoint
	trimmed := strings.TrimSuffix(rel, sourceSuffix)
	if isPackage {
		trimmed = strings.TrimSuffix(trimmed, string(filepath.Separator)+"__init__")
	}

	name = strings.ReplaceAll(trimmed, string(filepath.Separator), ".")
	return name, isPackage, nil
}

// Compiler compiles project sources into Bytecode Entries, caching
// results on disk.
type Compiler struct {
	toolchain *Toolchain
	cacheDir  string
	index     *cache.Index
}

// New creates a Compiler using the given toolchain, cache directory,
// and cache index.
func New(toolchain *Toolchain, cacheDir string, index *cache.Index) *Compiler {
	return &Compiler{toolchain: toolchain, cacheDir: cacheDir, index: index}
}

// Compile produces a Bytecode Entry for sourcePath, serving the disk
// cache on a validated hit and invoking the interpreter on a miss.
func (c *Compiler) Compile(ctx context.Context, sourcePath, projectRoot string) (types.BytecodeEntry, error) {
	logger := log.WithComponent("compiler")

	name, isPackage, err := ModuleName(sourcePath, projectRoot)
	if err != nil {
		return types.BytecodeEntry{}, err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		return types.BytecodeEntry{}, fmt.Errorf("stat source %s: %w", sourcePath, err)
	}
	modTime := info.ModTime().UnixNano()

	if entry, found, err := c.index.Get(sourcePath); err == nil && found && entry.Valid(modTime, c.toolchain.VersionMagic) {
		blobPath := filepath.Join(c.cacheDir, entry.BlobName)
		if raw, err := os.ReadFile(blobPath); err == nil && len(raw) >= headerSize {
			metrics.CompilerCacheHitsTotal.Inc()
			return types.BytecodeEntry{
				ModuleName: name,
				SourcePath: sourcePath,
				Bytecode:   raw[headerSize:],
				IsPackage:  isPackage,
			}, nil
		}
		logger.Warn().Str("source", sourcePath).Msg("cache blob unreadable, recompiling in-memory")
	}

	metrics.CompilerCacheMissesTotal.Inc()
	raw, err := c.compileToPyc(ctx, sourcePath)
	if err != nil {
		return types.BytecodeEntry{}, fmt.Errorf("compile %s: %w", sourcePath, err)
	}
	if len(raw) < headerSize {
		return types.BytecodeEntry{}, fmt.Errorf("compile %s: output shorter than header", sourcePath)
	}

	blobName := blobNameFor(sourcePath)
	if err := c.writeBlobAtomic(blobName, raw); err != nil {
		logger.Warn().Err(err).Str("source", sourcePath).Msg("cache write failed, continuing with in-memory result")
	} else {
		if err := c.index.Put(cache.Entry{
			SourcePath:    sourcePath,
			SourceModTime: modTime,
			VersionMagic:  c.toolchain.VersionMagic,
			BlobName:      blobName,
		}); err != nil {
			logger.Warn().Err(err).Str("source", sourcePath).Msg("cache index write failed")
		}
	}

	return types.BytecodeEntry{
		ModuleName: name,
		SourcePath: sourcePath,
		Bytecode:   raw[headerSize:],
		IsPackage:  isPackage,
	}, nil
}

// compileToPyc invokes the interpreter to produce a compiled-file blob
// (header included) for sourcePath.
func (c *Compiler) compileToPyc(ctx context.Context, sourcePath string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "tach-compile-*.pyc")
	if err != nil {
		return nil, fmt.Errorf("create temp compile target: %w", err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	script := "import py_compile,sys; py_compile.compile(sys.argv[1], cfile=sys.argv[2], doraise=True)"
	cmd := exec.CommandContext(cctx, c.toolchain.InterpreterPath, "-c", script, sourcePath, tmpPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}

	return os.ReadFile(tmpPath)
}

func (c *Compiler) writeBlobAtomic(blobName string, raw []byte) error {
	if err := os.MkdirAll(c.cacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(c.cacheDir, ".tmp-"+blobName+"-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	return os.Rename(tmpPath, filepath.Join(c.cacheDir, blobName))
}

func blobNameFor(sourcePath string) string {
	h := fnv1a(sourcePath)
	return fmt.Sprintf("%016x.pyc", h)
}

// fnv1a is a tiny non-cryptographic hash used only to derive a stable,
// collision-resistant-enough cache blob filename from a source path.
func fnv1a(s string) uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime64
	}
	return h
}

// CompileBatch compiles every source and registers the result under
// registry. A file that fails to compile is logged and omitted — the
// import hook falls back to the Interpreter's native importer for that
// module.
func (c *Compiler) CompileBatch(ctx context.Context, sources []string, projectRoot string, reg *registry.Registry) {
	logger := log.WithComponent("compiler")

	const maxInFlight = 8
	sem := make(chan struct{}, maxInFlight)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, source := range sources {
		source := source
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			entry, err := c.Compile(ctx, source, projectRoot)
			if err != nil {
				logger.Warn().Err(err).Str("source", source).Msg("compilation failed, skipping module")
				return
			}

			mu.Lock()
			reg.Register(entry)
			mu.Unlock()
		}()
	}

	wg.Wait()
}
