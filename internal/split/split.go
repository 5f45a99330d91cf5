// Package split drives the external paired-end FASTQ splitting utility
// (seqkit split2 compatible). The utility is a black box: it receives the
// two input files and a target chunk size and must emit matched pairs of
// part files that line up with the planner's spans.
package split

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"tcrflow/internal/chunk"
	"tcrflow/internal/sample"
)

// Splitter invokes the external utility once per sample.
type Splitter struct {
	Exe string
	Log *slog.Logger
}

// New returns a Splitter using exe (a seqkit-compatible binary).
func New(exe string, log *slog.Logger) *Splitter {
	if log == nil {
		log = slog.Default()
	}
	return &Splitter{Exe: exe, Log: log}
}

// Split materializes the planned spans of smp into chunk file pairs under
// dir. When the plan folded a trailing remainder into its final chunk,
// the extra part pair the utility emits is concatenated into the previous
// pair; any other count mismatch means the utility and the planner
// disagree about the sample and is a planning failure for that sample.
func (s *Splitter) Split(ctx context.Context, smp *sample.Sample, spans []chunk.Span, dir string) ([]chunk.Chunk, error) {
	if len(spans) == 0 {
		return nil, &chunk.PlanningError{Sample: smp.Name, Reason: "no spans to split"}
	}

	// Single chunk: no physical splitting needed, use the inputs directly.
	if len(spans) == 1 {
		return []chunk.Chunk{{Sample: smp.Name, Span: spans[0], R1: smp.R1, R2: smp.R2}}, nil
	}

	target := spans[0].Reads()
	args := []string{
		"split2",
		"-1", smp.R1,
		"-2", smp.R2,
		"--by-size", strconv.FormatInt(target, 10),
		"--out-dir", dir,
		"--force",
	}
	s.Log.Info("splitting sample", "sample", smp.Name, "chunks", len(spans), "target", target)

	cmd := exec.CommandContext(ctx, s.Exe, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &chunk.PlanningError{
			Sample: smp.Name,
			Reason: fmt.Sprintf("splitter failed: %v: %s", err, tail(stderr.Bytes(), 512)),
		}
	}

	r1Parts, err := globParts(dir, smp.R1)
	if err != nil {
		return nil, &chunk.PlanningError{Sample: smp.Name, Reason: err.Error()}
	}
	r2Parts, err := globParts(dir, smp.R2)
	if err != nil {
		return nil, &chunk.PlanningError{Sample: smp.Name, Reason: err.Error()}
	}
	if len(r1Parts) != len(r2Parts) {
		return nil, &chunk.PlanningError{
			Sample: smp.Name,
			Reason: fmt.Sprintf("splitter emitted %d R1 parts but %d R2 parts", len(r1Parts), len(r2Parts)),
		}
	}

	// The planner folds a trailing micro-chunk that the utility still emits
	// as its own part pair; everything else must line up one-to-one.
	if len(r1Parts) != len(spans) && len(r1Parts) != len(spans)+1 {
		return nil, &chunk.PlanningError{
			Sample: smp.Name,
			Reason: fmt.Sprintf("splitter emitted %d part pairs, plan has %d chunks", len(r1Parts), len(spans)),
		}
	}
	if len(r1Parts) == len(spans)+1 {
		// Absorb the trailing micro-part into the final chunk, matching
		// the folded plan. Gzip members concatenate into a valid stream,
		// as do plain FASTQ files.
		n := len(spans)
		if err := appendFile(r1Parts[n-1], r1Parts[n]); err != nil {
			return nil, &chunk.PlanningError{Sample: smp.Name, Reason: fmt.Sprintf("absorbing trailing part: %v", err)}
		}
		if err := appendFile(r2Parts[n-1], r2Parts[n]); err != nil {
			return nil, &chunk.PlanningError{Sample: smp.Name, Reason: fmt.Sprintf("absorbing trailing part: %v", err)}
		}
		r1Parts, r2Parts = r1Parts[:n], r2Parts[:n]
		s.Log.Info("absorbed trailing micro-part into final chunk", "sample", smp.Name, "chunks", n)
	}

	chunks := make([]chunk.Chunk, len(spans))
	for i, sp := range spans {
		chunks[i] = chunk.Chunk{Sample: smp.Name, Span: sp, R1: r1Parts[i], R2: r2Parts[i]}
	}
	return chunks, nil
}

// globParts finds the part files derived from src, in part order.
func globParts(dir, src string) ([]string, error) {
	base := filepath.Base(src)
	stem := base
	for _, ext := range []string{".gz", ".fastq", ".fq"} {
		if filepath.Ext(stem) == ext {
			stem = stem[:len(stem)-len(ext)]
		}
	}
	matches, err := filepath.Glob(filepath.Join(dir, stem+".part_*"))
	if err != nil {
		return nil, fmt.Errorf("bad part glob for %s: %v", base, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("splitter emitted no parts for %s", base)
	}
	// The utility widens the digit field past part_999, so lexical order
	// would put part_1000 before part_999.
	sort.Slice(matches, func(i, j int) bool {
		return partIndex(matches[i]) < partIndex(matches[j])
	})
	return matches, nil
}

// partIndex parses the numeric suffix of "<stem>.part_NNN[.ext]".
func partIndex(path string) int {
	base := filepath.Base(path)
	i := strings.LastIndex(base, ".part_")
	if i < 0 {
		return 0
	}
	s := base[i+len(".part_"):]
	if j := strings.IndexByte(s, '.'); j >= 0 {
		s = s[:j]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// appendFile appends src's bytes to dst and removes src.
func appendFile(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(bytes.TrimSpace(b))
	}
	return string(bytes.TrimSpace(b[len(b)-n:]))
}
