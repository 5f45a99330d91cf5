// Package clonotype defines the normalized clonotype record shared by
// both tool integrations, plus parsers for each tool's native table.
//
// Identity is CDR3 amino-acid sequence + V gene + J gene, with gene
// allele suffixes stripped so the two tools' naming lines up.
package clonotype

import "strings"

// Key is the clonotype identity used for merging and cross-tool matching.
type Key struct {
	CDR3 string
	V    string
	J    string
}

// String renders the identity in a stable, sortable form.
func (k Key) String() string { return k.CDR3 + "|" + k.V + "|" + k.J }

// Less orders identities lexically, the tie-break used everywhere a
// deterministic output order is needed.
func (k Key) Less(o Key) bool { return k.String() < o.String() }

// Record is one normalized clonotype row.
type Record struct {
	CDR3      string
	V         string
	J         string
	Count     int64
	Frequency float64
}

// Key returns the record's identity.
func (r Record) Key() Key { return Key{CDR3: r.CDR3, V: r.V, J: r.J} }

// normGene strips allele and score decorations from a gene call:
// "TRBV5-1*00(1234.5)" → "TRBV5-1". Missing calls ("." or empty) become "".
func normGene(raw string) string {
	g := strings.TrimSpace(raw)
	if g == "." || g == "*" {
		return ""
	}
	// Multiple hits are comma-separated; the first is the best-scoring one.
	if i := strings.IndexByte(g, ','); i >= 0 {
		g = g[:i]
	}
	if i := strings.IndexByte(g, '*'); i >= 0 {
		g = g[:i]
	}
	if i := strings.IndexByte(g, '('); i >= 0 {
		g = g[:i]
	}
	return g
}

// productiveCDR3 reports whether aa is a usable in-frame CDR3 sequence.
// Out-of-frame and stop-containing sequences are skipped, matching both
// tools' conventions for non-productive clonotypes.
func productiveCDR3(aa string) bool {
	if aa == "" || aa == "out_of_frame" || aa == "." {
		return false
	}
	return !strings.ContainsAny(aa, "_*?")
}
