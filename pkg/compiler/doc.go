/*
Package compiler implements the bytecode compiler: it turns project
Python sources into cached, pre-compiled bytecode the import hook can
serve without the Interpreter ever touching the filesystem at test
time.

Discovery of the Interpreter executable and its marshal version-magic
happens once per process, memoized behind a sync.Once (extract once,
reuse the result for the life of the process) rather than a discovery
per compilation, which would storm the host with subprocesses under a
parallel build.

Compile invokes the Interpreter out-of-process with a bounded timeout,
following the same shape as an exec-based health check: build argv,
capture stdout/stderr into buffers, and turn a non-zero exit into a
wrapped error carrying the interpreter's own diagnostic text. Failures
never abort the batch — CompileBatch logs and skips the offending
file, so the import hook can fall back to the Interpreter's native
importer for that one module.
*/
package compiler
