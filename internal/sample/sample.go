// Package sample models one paired-end sample and its lazily determined
// read count. Samples are immutable after construction.
package sample

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"tcrflow/internal/fastq"
)

// Sample is one paired-end input. R1/R2 may be local paths or s3:// URLs;
// remote inputs must be staged before counting.
type Sample struct {
	Name string
	R1   string
	R2   string

	once  sync.Once
	total int64
	err   error
}

// New builds a Sample descriptor. It does not touch the filesystem.
func New(name, r1, r2 string) *Sample {
	return &Sample{Name: name, R1: r1, R2: r2}
}

// IsRemote reports whether the sample's inputs live behind an s3:// URL.
func (s *Sample) IsRemote() bool {
	return strings.HasPrefix(s.R1, "s3://") || strings.HasPrefix(s.R2, "s3://")
}

// TotalReads returns the read count of the pair, counting R1 on first use.
// The count is cached; concurrent callers share one pass over the file.
func (s *Sample) TotalReads(ctx context.Context) (int64, error) {
	s.once.Do(func() {
		s.total, s.err = fastq.CountReads(ctx, s.R1)
		if s.err != nil {
			s.err = fmt.Errorf("sample %s: %w", s.Name, s.err)
		}
	})
	return s.total, s.err
}
