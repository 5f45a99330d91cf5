// internal/sample/sample_test.go
package sample

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestIsRemote(t *testing.T) {
	if !New("s1", "s3://bucket/r1.fq.gz", "s3://bucket/r2.fq.gz").IsRemote() {
		t.Fatal("s3 inputs must be remote")
	}
	if New("s1", "/data/r1.fq", "/data/r2.fq").IsRemote() {
		t.Fatal("local inputs must not be remote")
	}
}

func TestTotalReadsCached(t *testing.T) {
	r1 := filepath.Join(t.TempDir(), "r1.fastq")
	body := "@a\nACGT\n+\nFFFF\n@b\nACGT\n+\nFFFF\n@c\nACGT\n+\nFFFF\n"
	if err := os.WriteFile(r1, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	s := New("s1", r1, r1)
	total, err := s.TotalReads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	// The count is fixed at first use; a rewritten file must not change it.
	if err := os.WriteFile(r1, []byte(body+body), 0o644); err != nil {
		t.Fatal(err)
	}
	again, err := s.TotalReads(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if again != 3 {
		t.Fatalf("cached total = %d, want 3", again)
	}
}

func TestTotalReadsError(t *testing.T) {
	s := New("s1", "/nonexistent/r1.fastq", "/nonexistent/r2.fastq")
	if _, err := s.TotalReads(context.Background()); err == nil {
		t.Fatal("expected error for missing input")
	}
}
