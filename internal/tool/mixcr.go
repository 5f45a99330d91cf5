// internal/tool/mixcr.go
package tool

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"tcrflow/internal/chunk"
	"tcrflow/internal/stage"
)

// MiXCR runs the `mixcr analyze` pipeline (align, assemble, export) over
// one chunk and exposes the exported clone table as the artifact.
type MiXCR struct {
	Exe     string
	P       Params
	Timeout time.Duration
	Stager  *stage.Stager
}

func (m *MiXCR) Name() string   { return m.P.Tool }
func (m *MiXCR) Params() Params { return m.P }

func (m *MiXCR) Run(ctx context.Context, ch chunk.Chunk, threads int, workDir string) (Result, error) {
	r1, r2, err := stageInputs(ctx, m.Stager, ch, workDir)
	if err != nil {
		return Result{}, &InvocationError{Tool: m.Name(), Kind: KindStart, Err: err}
	}

	prefix := "clones"
	args := []string{"analyze", m.P.Preset,
		"--species", m.P.Species,
		"--threads", strconv.Itoa(threads),
	}
	if m.P.RefDB != "" {
		args = append(args, "--library", m.P.RefDB)
	}
	args = append(args, m.P.Extra...)
	args = append(args, r1, r2, prefix)

	if err := runCommand(ctx, m.Name(), m.Timeout, workDir, m.Exe, args...); err != nil {
		return Result{}, err
	}
	// `analyze` writes one table per chain; TRB is the one this pipeline
	// consumes downstream.
	return checkArtifact(m.Name(), filepath.Join(workDir, prefix+".clones_TRB.tsv"))
}
