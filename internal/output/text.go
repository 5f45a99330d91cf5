// internal/output/text.go
package output

import (
	"fmt"
	"io"

	"tcrflow/internal/compare"
)

// WriteText prints one TSV line per sample comparison. A sample whose
// coverage is incomplete on either side is marked "partial" in the last
// column so downstream consumers never mistake it for a full result.
func WriteText(w io.Writer, list []compare.Comparison, header bool) error {
	if header {
		if _, err := fmt.Fprintln(w, TSVHeader); err != nil {
			return err
		}
	}
	for _, c := range list {
		coverage := "yes"
		if !c.CompleteA || !c.CompleteB {
			coverage = "partial"
		}
		_, err := fmt.Fprintf(w,
			"%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%.6f\t%.6f\t%.6f\t%s\n",
			c.Sample, c.ToolA, c.ToolB,
			len(c.Shared)+len(c.OnlyA), len(c.Shared)+len(c.OnlyB),
			len(c.Shared), len(c.OnlyA), len(c.OnlyB),
			c.Concordance, c.EntropyA, c.EntropyB, coverage,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
