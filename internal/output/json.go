// internal/output/json.go
package output

import (
	"io"
	"sort"

	"tcrflow/internal/compare"
	"tcrflow/internal/jsonutil"
	"tcrflow/internal/scheduler"
	"tcrflow/pkg/api"
)

// topSharedLimit bounds how many shared clones a JSON report embeds per
// sample; full tables go to the per-pair TSV files instead.
const topSharedLimit = 25

// ToAPIComparison converts a domain Comparison to the stable wire schema (v1).
func ToAPIComparison(c compare.Comparison) api.SampleComparisonV1 {
	v := api.SampleComparisonV1{
		Sample: c.Sample,

		ClonesA: len(c.Shared) + len(c.OnlyA),
		ClonesB: len(c.Shared) + len(c.OnlyB),
		Shared:  len(c.Shared),
		OnlyA:   len(c.OnlyA),
		OnlyB:   len(c.OnlyB),

		Concordance: c.Concordance,
		EntropyA:    c.EntropyA,
		EntropyB:    c.EntropyB,

		CompleteA:      c.CompleteA,
		CompleteB:      c.CompleteB,
		MissingChunksA: append([]int(nil), c.MissingChunksA...),
		MissingChunksB: append([]int(nil), c.MissingChunksB...),
	}

	shared := append([]compare.SharedRecord(nil), c.Shared...)
	sort.Slice(shared, func(i, j int) bool {
		if shared[i].CountA != shared[j].CountA {
			return shared[i].CountA > shared[j].CountA
		}
		return shared[i].Key.Less(shared[j].Key)
	})
	if len(shared) > topSharedLimit {
		shared = shared[:topSharedLimit]
	}
	for _, s := range shared {
		v.TopShared = append(v.TopShared, api.SharedCloneV1{
			CDR3: s.Key.CDR3, V: s.Key.V, J: s.Key.J,
			CountA: s.CountA, CountB: s.CountB,
			FreqA: s.FreqA, FreqB: s.FreqB,
		})
	}
	return v
}

// ToAPIPair converts a scheduler report to the stable wire schema (v1).
func ToAPIPair(rep scheduler.PairReport) api.PairStatusV1 {
	v := api.PairStatusV1{
		Sample:      rep.Sample,
		Tool:        rep.Tool,
		State:       string(rep.State),
		CacheHits:   rep.CacheHits,
		CacheMisses: rep.CacheMisses,
		ElapsedMS:   rep.Elapsed.Milliseconds(),
	}
	if rep.Result != nil {
		v.Clonotypes = len(rep.Result.Records)
		v.TotalCount = rep.Result.TotalCount
	}
	if rep.Err != nil {
		v.Error = rep.Err.Error()
	}
	for idx := range rep.ChunkErrors {
		v.FailedChunks = append(v.FailedChunks, idx)
	}
	sort.Ints(v.FailedChunks)
	return v
}

// WriteJSON writes the full v1 report (pretty-indented).
func WriteJSON(w io.Writer, rep api.ReportV1) error {
	return jsonutil.EncodePretty(w, rep)
}
