// Package chunk plans the division of a sample's reads into bounded
// work units. Physical splitting is delegated to an external utility;
// the planner only produces in-memory descriptors.
package chunk

import "fmt"

// PlanningError marks a failure to plan chunks for one sample. It is
// fatal to that sample only, never to the run.
type PlanningError struct {
	Sample string
	Reason string
}

func (e *PlanningError) Error() string {
	if e.Sample == "" {
		return "chunk planning: " + e.Reason
	}
	return fmt.Sprintf("chunk planning for %s: %s", e.Sample, e.Reason)
}

// Span is a half-open read-count range [Start, End) within a sample.
type Span struct {
	Index int
	Start int64
	End   int64
}

// Reads returns the number of reads covered by the span.
func (s Span) Reads() int64 { return s.End - s.Start }

// Chunk is one schedulable work unit: a span plus the pair of chunk-local
// files emitted by the splitting utility. Chunks are never mutated after
// creation.
type Chunk struct {
	Sample string
	Span
	R1 string
	R2 string
}

// Plan partitions [0, total) into spans of targetSize reads. A trailing
// remainder smaller than minSize folds into the previous span instead of
// becoming a micro-chunk, so the last span covers [minSize, targetSize+minSize)
// reads whenever total >= minSize.
func Plan(sampleName string, total int64, targetSize, minSize int64) ([]Span, error) {
	if total <= 0 {
		return nil, &PlanningError{Sample: sampleName, Reason: fmt.Sprintf("total read count %d is not positive", total)}
	}
	if targetSize <= 0 {
		return nil, &PlanningError{Sample: sampleName, Reason: fmt.Sprintf("target chunk size %d is not positive", targetSize)}
	}
	if minSize <= 0 || minSize > targetSize {
		return nil, &PlanningError{Sample: sampleName, Reason: fmt.Sprintf("min chunk size %d out of range (1..%d)", minSize, targetSize)}
	}

	var spans []Span
	var off int64
	for off < total {
		end := off + targetSize
		if end > total {
			end = total
		}
		spans = append(spans, Span{Index: len(spans), Start: off, End: end})
		off = end
	}

	// Fold a trailing micro-chunk into its predecessor.
	if n := len(spans); n > 1 && spans[n-1].Reads() < minSize {
		spans[n-2].End = spans[n-1].End
		spans = spans[:n-1]
	}
	return spans, nil
}
