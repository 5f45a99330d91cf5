// pkg/api/report_v1.go
package api

import "time"

// ReportV1 is the stable JSON schema for a full comparison run.
// Keep fields, names, and types stable. Add new fields only with ",omitempty".
type ReportV1 struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	ToolA string `json:"tool_a"`
	ToolB string `json:"tool_b"`

	TotalThreads   int   `json:"total_threads"`
	ThreadsPerUnit int   `json:"threads_per_unit"`
	CacheHits      int64 `json:"cache_hits"`
	CacheMisses    int64 `json:"cache_misses"`

	Samples []SampleComparisonV1 `json:"samples"`
	Pairs   []PairStatusV1       `json:"pairs"`

	PlanningFailures []PlanningFailureV1 `json:"planning_failures,omitempty"`
}

// PlanningFailureV1 records a sample that never reached execution.
type PlanningFailureV1 struct {
	Sample string `json:"sample"`
	Error  string `json:"error"`
}

// SampleComparisonV1 is the per-sample reconciliation of the two tools.
type SampleComparisonV1 struct {
	Sample string `json:"sample"`

	ClonesA int `json:"clones_a"`
	ClonesB int `json:"clones_b"`
	Shared  int `json:"shared"`
	OnlyA   int `json:"only_a"`
	OnlyB   int `json:"only_b"`

	Concordance float64 `json:"concordance"`
	EntropyA    float64 `json:"entropy_a"`
	EntropyB    float64 `json:"entropy_b"`

	CompleteA      bool  `json:"complete_a"`
	CompleteB      bool  `json:"complete_b"`
	MissingChunksA []int `json:"missing_chunks_a,omitempty"`
	MissingChunksB []int `json:"missing_chunks_b,omitempty"`

	TopShared []SharedCloneV1 `json:"top_shared,omitempty"`
}

// SharedCloneV1 is one identity observed by both tools.
type SharedCloneV1 struct {
	CDR3   string  `json:"cdr3"`
	V      string  `json:"v"`
	J      string  `json:"j"`
	CountA int64   `json:"count_a"`
	CountB int64   `json:"count_b"`
	FreqA  float64 `json:"freq_a"`
	FreqB  float64 `json:"freq_b"`
}

// PairStatusV1 is the execution summary of one sample×tool pair.
type PairStatusV1 struct {
	Sample string `json:"sample"`
	Tool   string `json:"tool"`
	State  string `json:"state"`

	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`

	Clonotypes   int    `json:"clonotypes,omitempty"`
	TotalCount   int64  `json:"total_count,omitempty"`
	FailedChunks []int  `json:"failed_chunks,omitempty"`
	Error        string `json:"error,omitempty"`

	ElapsedMS int64 `json:"elapsed_ms"`
}
