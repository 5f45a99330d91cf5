// Package compare reconciles the two tools' merged results for one
// sample into exclusive/shared identity sets and summary statistics.
// The engine is stateless; output is recomputable from its inputs.
package compare

import (
	"math"
	"sort"

	"tcrflow/internal/clonotype"
	"tcrflow/internal/merge"
)

// SharedRecord pairs the two tools' observations of one identity.
type SharedRecord struct {
	Key    clonotype.Key
	CountA int64
	CountB int64
	FreqA  float64
	FreqB  float64
}

// Comparison is the per-sample reconciliation of two SampleResults.
// Shared membership requires exact identity-key equality (CDR3+V+J);
// there is no fuzzy matching.
type Comparison struct {
	Sample string
	ToolA  string
	ToolB  string

	Shared []SharedRecord
	OnlyA  []clonotype.Record
	OnlyB  []clonotype.Record

	// Concordance is |shared| / |union of both tools' identities|.
	Concordance float64
	// Shannon entropy of each tool's frequency distribution.
	EntropyA float64
	EntropyB float64

	// Coverage flags propagated from the merge step so the report never
	// presents partial data as complete.
	CompleteA      bool
	CompleteB      bool
	MissingChunksA []int
	MissingChunksB []int
}

// Compare partitions the union of identities of a and b. Both results
// must belong to the same sample; the caller guarantees this.
func Compare(a, b merge.SampleResult) Comparison {
	inA := make(map[clonotype.Key]clonotype.Record, len(a.Records))
	for _, r := range a.Records {
		inA[r.Key()] = r
	}
	inB := make(map[clonotype.Key]clonotype.Record, len(b.Records))
	for _, r := range b.Records {
		inB[r.Key()] = r
	}

	c := Comparison{
		Sample: a.Sample,
		ToolA:  a.Tool,
		ToolB:  b.Tool,

		EntropyA: Entropy(a.Records),
		EntropyB: Entropy(b.Records),

		CompleteA:      a.Complete,
		CompleteB:      b.Complete,
		MissingChunksA: a.ChunksMissing,
		MissingChunksB: b.ChunksMissing,
	}

	for k, ra := range inA {
		if rb, ok := inB[k]; ok {
			c.Shared = append(c.Shared, SharedRecord{
				Key: k, CountA: ra.Count, CountB: rb.Count,
				FreqA: ra.Frequency, FreqB: rb.Frequency,
			})
		} else {
			c.OnlyA = append(c.OnlyA, ra)
		}
	}
	for k, rb := range inB {
		if _, ok := inA[k]; !ok {
			c.OnlyB = append(c.OnlyB, rb)
		}
	}

	sort.Slice(c.Shared, func(i, j int) bool { return c.Shared[i].Key.Less(c.Shared[j].Key) })
	sortRecords(c.OnlyA)
	sortRecords(c.OnlyB)

	union := len(c.Shared) + len(c.OnlyA) + len(c.OnlyB)
	if union > 0 {
		c.Concordance = float64(len(c.Shared)) / float64(union)
	}
	return c
}

func sortRecords(rs []clonotype.Record) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key().Less(rs[j].Key()) })
}

// Entropy computes the Shannon entropy -Σ p·ln(p) over the records'
// frequency distribution. Zero frequencies contribute nothing.
func Entropy(rs []clonotype.Record) float64 {
	var h float64
	for _, r := range rs {
		if r.Frequency > 0 {
			h -= r.Frequency * math.Log(r.Frequency)
		}
	}
	return h
}
