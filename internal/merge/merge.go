// Package merge combines per-chunk clonotype tables into one per-sample
// result. Counts for identical identities are summed across chunks and
// every frequency is recomputed against the sample-wide total; per-chunk
// frequencies are meaningless after merging and are never reused.
package merge

import (
	"fmt"
	"log/slog"
	"sort"

	"tcrflow/internal/clonotype"
)

// InconsistencyError marks a chunk table that could not be parsed into
// records. The offending chunk's contribution is dropped with a warning
// rather than aborting the merge.
type InconsistencyError struct {
	Sample string
	Tool   string
	Chunk  int
	Err    error
}

func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("merge %s/%s chunk %d: %v", e.Sample, e.Tool, e.Chunk, e.Err)
}

func (e *InconsistencyError) Unwrap() error { return e.Err }

// ChunkTable is one chunk's parsed contribution.
type ChunkTable struct {
	Index   int
	Records []clonotype.Record
}

// SampleResult is the merged union of one sample's chunk results for one
// tool. Records are ordered by count descending, identity-key lexical
// ascending on ties, so re-merging the same inputs is bit-identical.
type SampleResult struct {
	Sample string
	Tool   string

	Records    []clonotype.Record
	TotalCount int64

	// Chunk coverage bookkeeping for the final report.
	ChunksMerged  []int
	ChunksMissing []int
	Complete      bool
}

// Merge combines tables (any order) into a SampleResult. missing lists
// chunk ordinals that never produced a table (failed invocations); they
// are recorded for coverage reporting. Merge is idempotent and
// order-independent.
func Merge(sampleID, toolName string, tables []ChunkTable, missing []int, log *slog.Logger) (SampleResult, error) {
	if log == nil {
		log = slog.Default()
	}
	if len(tables) == 0 {
		return SampleResult{}, fmt.Errorf("merge %s/%s: no chunk results to merge", sampleID, toolName)
	}

	combined := make(map[clonotype.Key]int64)
	var total int64
	merged := make([]int, 0, len(tables))
	for _, tb := range tables {
		for _, rec := range tb.Records {
			combined[rec.Key()] += rec.Count
			total += rec.Count
		}
		merged = append(merged, tb.Index)
	}
	if total == 0 {
		return SampleResult{}, fmt.Errorf("merge %s/%s: chunk results contain no reads", sampleID, toolName)
	}

	recs := make([]clonotype.Record, 0, len(combined))
	for k, count := range combined {
		recs = append(recs, clonotype.Record{
			CDR3:      k.CDR3,
			V:         k.V,
			J:         k.J,
			Count:     count,
			Frequency: float64(count) / float64(total),
		})
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].Count != recs[j].Count {
			return recs[i].Count > recs[j].Count
		}
		return recs[i].Key().Less(recs[j].Key())
	})

	sort.Ints(merged)
	missingSorted := append([]int(nil), missing...)
	sort.Ints(missingSorted)

	if len(missingSorted) > 0 {
		log.Warn("sample result based on partial chunk coverage",
			"sample", sampleID, "tool", toolName,
			"merged", len(merged), "missing", len(missingSorted))
	}

	return SampleResult{
		Sample:        sampleID,
		Tool:          toolName,
		Records:       recs,
		TotalCount:    total,
		ChunksMerged:  merged,
		ChunksMissing: missingSorted,
		Complete:      len(missingSorted) == 0,
	}, nil
}

// ParseTables turns raw chunk artifacts into ChunkTables, dropping (with
// a warning) any chunk whose table is malformed and returning it in the
// dropped list.
func ParseTables(sampleID, toolName string, parse clonotype.Parser, artifacts map[int]string, log *slog.Logger) (tables []ChunkTable, dropped []int) {
	if log == nil {
		log = slog.Default()
	}
	for idx, path := range artifacts {
		recs, err := clonotype.ParseFile(parse, path)
		if err != nil {
			ierr := &InconsistencyError{Sample: sampleID, Tool: toolName, Chunk: idx, Err: err}
			log.Warn("dropping malformed chunk result", "err", ierr)
			dropped = append(dropped, idx)
			continue
		}
		tables = append(tables, ChunkTable{Index: idx, Records: recs})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].Index < tables[j].Index })
	sort.Ints(dropped)
	return tables, dropped
}
