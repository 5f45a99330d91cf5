// internal/tool/exec.go
package tool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"tcrflow/internal/chunk"
	"tcrflow/internal/stage"
)

// Runner executes one external tool over one chunk. workDir is unit-scoped
// and exclusively owned by the invocation; nothing outside it is mutated.
type Runner interface {
	Name() string
	Run(ctx context.Context, ch chunk.Chunk, threads int, workDir string) (Result, error)
	Params() Params
}

const stderrTailBytes = 4096

// runCommand invokes one external process with an optional timeout and a
// bounded stderr capture, and classifies failures into InvocationError.
func runCommand(ctx context.Context, toolName string, timeout time.Duration, dir, exe string, args ...string) error {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, exe, args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return &InvocationError{Tool: toolName, Kind: KindTimeout, Stderr: stderrTail(&stderr), Err: runCtx.Err()}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &InvocationError{Tool: toolName, Kind: KindExit, ExitCode: exitErr.ExitCode(), Stderr: stderrTail(&stderr), Err: err}
	}
	return &InvocationError{Tool: toolName, Kind: KindStart, Stderr: stderrTail(&stderr), Err: err}
}

func stderrTail(b *bytes.Buffer) string {
	s := bytes.TrimSpace(b.Bytes())
	if len(s) > stderrTailBytes {
		s = s[len(s)-stderrTailBytes:]
	}
	return string(s)
}

// checkArtifact enforces the success contract: the expected artifact must
// exist and be non-empty, otherwise the invocation is a failure even when
// the process exited 0.
func checkArtifact(toolName, path string) (Result, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Result{}, &InvocationError{Tool: toolName, Kind: KindMissingOutput, Err: fmt.Errorf("expected artifact %s: %w", path, err)}
	}
	if fi.Size() == 0 {
		return Result{}, &InvocationError{Tool: toolName, Kind: KindMissingOutput, Err: fmt.Errorf("expected artifact %s is empty", path)}
	}
	return Result{TablePath: path}, nil
}

// stageInputs resolves the chunk's file pair to local paths under workDir.
func stageInputs(ctx context.Context, st *stage.Stager, ch chunk.Chunk, workDir string) (r1, r2 string, err error) {
	r1, err = st.Stage(ctx, ch.R1, workDir)
	if err != nil {
		return "", "", err
	}
	r2, err = st.Stage(ctx, ch.R2, workDir)
	if err != nil {
		return "", "", err
	}
	return r1, r2, nil
}
