// internal/output/output_test.go
package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"tcrflow/internal/clonotype"
	"tcrflow/internal/compare"
	"tcrflow/internal/merge"
	"tcrflow/internal/scheduler"
	"tcrflow/pkg/api"
)

func sampleComparison() compare.Comparison {
	a := merge.SampleResult{
		Sample: "s1", Tool: "mixcr", Complete: true,
		Records: []clonotype.Record{
			{CDR3: "CASSF", V: "TRBV1", J: "TRBJ1", Count: 30, Frequency: 0.75},
			{CDR3: "CAAAF", V: "TRBV2", J: "TRBJ1", Count: 10, Frequency: 0.25},
		},
		TotalCount: 40,
	}
	b := merge.SampleResult{
		Sample: "s1", Tool: "trust4", Complete: false, ChunksMissing: []int{2},
		Records: []clonotype.Record{
			{CDR3: "CASSF", V: "TRBV1", J: "TRBJ1", Count: 20, Frequency: 1.0},
		},
		TotalCount: 20,
	}
	return compare.Compare(a, b)
}

func TestWriteTextMarksPartialCoverage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, []compare.Comparison{sampleComparison()}, true); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if lines[0] != TSVHeader {
		t.Fatalf("header = %q", lines[0])
	}
	fields := strings.Split(lines[1], "\t")
	if len(fields) != 12 {
		t.Fatalf("row has %d fields, want 12: %q", len(fields), lines[1])
	}
	if fields[0] != "s1" || fields[11] != "partial" {
		t.Fatalf("row = %q, want sample s1 marked partial", lines[1])
	}
}

func TestWriteTextNoHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteText(&buf, []compare.Comparison{sampleComparison()}, false); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "concordance") {
		t.Fatal("header written despite header=false")
	}
}

func TestToAPIComparison(t *testing.T) {
	v := ToAPIComparison(sampleComparison())
	if v.ClonesA != 2 || v.ClonesB != 1 || v.Shared != 1 || v.OnlyA != 1 || v.OnlyB != 0 {
		t.Fatalf("counts = %+v", v)
	}
	if v.CompleteA != true || v.CompleteB != false {
		t.Fatalf("coverage flags = %+v", v)
	}
	if len(v.TopShared) != 1 || v.TopShared[0].CDR3 != "CASSF" {
		t.Fatalf("top shared = %+v", v.TopShared)
	}
}

func TestToAPIPairSortsFailedChunks(t *testing.T) {
	rep := scheduler.PairReport{
		Sample: "s1", Tool: "trust4", State: scheduler.StateDone,
		ChunkErrors: map[int]string{4: "x", 1: "y", 2: "z"},
	}
	v := ToAPIPair(rep)
	want := []int{1, 2, 4}
	for i, idx := range v.FailedChunks {
		if idx != want[i] {
			t.Fatalf("failed chunks = %v, want %v", v.FailedChunks, want)
		}
	}
}

func TestWriteJSONRoundTrips(t *testing.T) {
	rep := api.ReportV1{
		RunID: "r1", ToolA: "mixcr", ToolB: "trust4",
		Samples: []api.SampleComparisonV1{ToAPIComparison(sampleComparison())},
	}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, rep); err != nil {
		t.Fatal(err)
	}
	var back api.ReportV1
	if err := json.Unmarshal(buf.Bytes(), &back); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if back.RunID != "r1" || len(back.Samples) != 1 || back.Samples[0].Sample != "s1" {
		t.Fatalf("round trip = %+v", back)
	}
}
