// Package writers emits per-pair merged clonotype tables. The summary
// report (text/JSON on stdout) lives in internal/output; these writers
// produce the full per-sample×tool TSV artifacts next to it.
package writers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"tcrflow/internal/merge"
)

// ClonotypeTSVHeader is the header row of a merged clonotype table.
const ClonotypeTSVHeader = "cdr3\tv\tj\tcount\tfrequency"

// WriteClonotypeTSV writes a merged result's records as TSV.
func WriteClonotypeTSV(w io.Writer, res merge.SampleResult, header bool) error {
	bw := bufio.NewWriter(w)
	if header {
		if _, err := fmt.Fprintln(bw, ClonotypeTSVHeader); err != nil {
			return err
		}
	}
	for _, r := range res.Records {
		_, err := fmt.Fprintf(bw, "%s\t%s\t%s\t%d\t%.9f\n",
			r.CDR3, r.V, r.J, r.Count, r.Frequency)
		if err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SaveClonotypeTSV writes the merged table to
// <dir>/<sample>.<tool>.clonotypes.tsv and returns the path.
func SaveClonotypeTSV(dir string, res merge.SampleResult, header bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s.%s.clonotypes.tsv", res.Sample, res.Tool))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteClonotypeTSV(f, res, header); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
