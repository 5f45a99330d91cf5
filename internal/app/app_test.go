// internal/app/app_test.go
package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"tcrflow/pkg/api"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeFastqPair(t *testing.T, dir string) (r1, r2 string) {
	t.Helper()
	r1 = filepath.Join(dir, "s1_R1.fastq")
	r2 = filepath.Join(dir, "s1_R2.fastq")
	body := "@r1\nACGTACGT\n+\nFFFFFFFF\n@r2\nTTTTACGT\n+\nFFFFFFFF\n"
	if err := os.WriteFile(r1, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(r2, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return r1, r2
}

// testEnv builds a config whose tools are tiny shell scripts emitting
// fixed tables, with a chunk size large enough that no physical
// splitting happens.
func testEnv(t *testing.T) (configPath string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script tool stand-ins")
	}
	dir := t.TempDir()
	r1, r2 := writeFastqPair(t, dir)

	mixcr := writeScript(t, dir, "fake-mixcr", `cat > clones.clones_TRB.tsv <<'EOF'
cloneCount	aaSeqCDR3	bestVHit	bestJHit
30	CASSF	TRBV1*00	TRBJ1*00
10	CAAAF	TRBV2*00	TRBJ1*00
EOF
`)
	trust4 := writeScript(t, dir, "fake-trust4", `cat > trust_report.tsv <<'EOF'
#count	frequency	CDR3nt	CDR3aa	V	D	J	C
20	1.0	acg	CASSF	TRBV1	.	TRBJ1	TRBC1
EOF
`)

	cfg := fmt.Sprintf(`samples:
  - name: s1
    r1: %s
    r2: %s
tools:
  - name: mixcr
    exe: %s
    preset: rna-seq
    species: hsa
  - name: trust4
    exe: %s
    refdb: ref.fa
threads: 2
chunk_size: 1000
cache_dir: %s
work_dir: %s
`, r1, r2, mixcr, trust4, filepath.Join(dir, "cache"), filepath.Join(dir, "work"))

	configPath = filepath.Join(dir, "run.yaml")
	if err := os.WriteFile(configPath, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath
}

func TestRunEndToEndText(t *testing.T) {
	cfgPath := testEnv(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"--config", cfgPath, "--quiet"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d output lines, want header + 1 row:\n%s", len(lines), stdout.String())
	}
	row := strings.Split(lines[1], "\t")
	if row[0] != "s1" {
		t.Fatalf("row = %q", lines[1])
	}
	// 2 mixcr clones, 1 trust4 clone, 1 shared identity.
	if row[3] != "2" || row[4] != "1" || row[5] != "1" {
		t.Fatalf("clone columns = %v", row)
	}
	if row[11] != "yes" {
		t.Fatalf("single-chunk run must report full coverage, row = %q", lines[1])
	}
}

func TestRunEndToEndJSON(t *testing.T) {
	cfgPath := testEnv(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"--config", cfgPath, "--quiet", "--output", "json"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	var rep api.ReportV1
	if err := json.Unmarshal(stdout.Bytes(), &rep); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if rep.RunID == "" || rep.ToolA != "mixcr" || rep.ToolB != "trust4" {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Samples) != 1 || rep.Samples[0].Shared != 1 {
		t.Fatalf("samples = %+v", rep.Samples)
	}
	if len(rep.Pairs) != 2 {
		t.Fatalf("pairs = %+v", rep.Pairs)
	}
	if rep.CacheMisses != 2 || rep.CacheHits != 0 {
		t.Fatalf("cold run hits/misses = %d/%d, want 0/2", rep.CacheHits, rep.CacheMisses)
	}
}

func TestRunSecondInvocationHitsCache(t *testing.T) {
	cfgPath := testEnv(t)
	var out1, out2, errb bytes.Buffer

	if code := Run([]string{"--config", cfgPath, "--quiet", "--output", "json"}, &out1, &errb); code != 0 {
		t.Fatalf("first run exit = %d, stderr:\n%s", code, errb.String())
	}
	if code := Run([]string{"--config", cfgPath, "--quiet", "--output", "json"}, &out2, &errb); code != 0 {
		t.Fatalf("second run exit = %d, stderr:\n%s", code, errb.String())
	}
	var rep api.ReportV1
	if err := json.Unmarshal(out2.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.CacheHits != 2 || rep.CacheMisses != 0 {
		t.Fatalf("warm run hits/misses = %d/%d, want 2/0", rep.CacheHits, rep.CacheMisses)
	}
}

func TestRunDryRun(t *testing.T) {
	cfgPath := testEnv(t)
	var stdout, stderr bytes.Buffer

	code := Run([]string{"--config", cfgPath, "--quiet", "--dry-run"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit = %d, stderr:\n%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "s1\t1\t2") {
		t.Fatalf("plan output = %q, want s1 with 1 chunk of 2 reads", stdout.String())
	}
}

func TestRunUsageErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"--nope"}, &stdout, &stderr); code != 2 {
		t.Fatalf("unknown flag: exit = %d, want 2", code)
	}
	stderr.Reset()
	if code := Run([]string{"--config", "/does/not/exist.yaml"}, &stdout, &stderr); code != 2 {
		t.Fatalf("missing config: exit = %d, want 2", code)
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"--version"}, &stdout, &stderr); code != 0 {
		t.Fatalf("exit = %d", code)
	}
	if !strings.Contains(stdout.String(), "tcrflow version") {
		t.Fatalf("output = %q", stdout.String())
	}
}
