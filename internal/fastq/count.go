// internal/fastq/count.go
package fastq

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

// CountReads streams path and returns the number of FASTQ records
// (4 lines per record). It is cancelable between blocks.
func CountReads(ctx context.Context, path string) (int64, error) {
	rc, err := OpenReader(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = rc.Close() }()

	buf := make([]byte, 1<<20)
	var lines int64
	var last byte
	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		n, err := rc.Read(buf)
		if n > 0 {
			lines += int64(bytes.Count(buf[:n], []byte{'\n'}))
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("fastq count %s: %w", path, err)
		}
	}
	if last != 0 && last != '\n' {
		// Final line without trailing newline still counts.
		lines++
	}
	if lines%4 != 0 {
		return 0, fmt.Errorf("fastq count %s: %d lines is not a multiple of 4", path, lines)
	}
	return lines / 4, nil
}
