// internal/tool/trust4.go
package tool

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"tcrflow/internal/chunk"
	"tcrflow/internal/stage"
)

// TRUST4 assembles receptor sequences de novo from one chunk and reports
// clonotypes in its simple-report table.
type TRUST4 struct {
	Exe     string
	P       Params
	Timeout time.Duration
	Stager  *stage.Stager
}

func (t *TRUST4) Name() string   { return t.P.Tool }
func (t *TRUST4) Params() Params { return t.P }

func (t *TRUST4) Run(ctx context.Context, ch chunk.Chunk, threads int, workDir string) (Result, error) {
	r1, r2, err := stageInputs(ctx, t.Stager, ch, workDir)
	if err != nil {
		return Result{}, &InvocationError{Tool: t.Name(), Kind: KindStart, Err: err}
	}

	prefix := "trust"
	args := []string{
		"-1", r1,
		"-2", r2,
		"-t", strconv.Itoa(threads),
		"-f", t.P.RefDB,
		"--ref", t.P.RefDB,
		"-o", prefix,
		"--od", workDir,
	}
	args = append(args, t.P.Extra...)

	if err := runCommand(ctx, t.Name(), t.Timeout, workDir, t.Exe, args...); err != nil {
		return Result{}, err
	}
	return checkArtifact(t.Name(), filepath.Join(workDir, prefix+"_report.tsv"))
}
