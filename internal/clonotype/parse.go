// internal/clonotype/parse.go
package clonotype

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// Parser turns one tool-native clonotype table into normalized records.
type Parser func(r io.Reader) ([]Record, error)

// ParserFor returns the parser for a tool name, or false for an unknown
// tool.
func ParserFor(toolName string) (Parser, bool) {
	switch toolName {
	case "mixcr":
		return ParseMiXCR, true
	case "trust4":
		return ParseTRUST4, true
	}
	return nil, false
}

// ParseFile applies parse to the table at path.
func ParseFile(parse Parser, path string) ([]Record, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	recs, err := parse(fh)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return recs, nil
}

// ParseMiXCR reads a MiXCR exportClones TSV. Column positions come from
// the header line; the export preset must include cloneCount, aaSeqCDR3
// and the V/J hit columns.
func ParseMiXCR(r io.Reader) ([]Record, error) {
	sc := newTableScanner(r)
	if !sc.Scan() {
		return nil, fmt.Errorf("mixcr table: empty input")
	}
	header := strings.Split(sc.Text(), "\t")
	col := map[string]int{}
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	countIdx, ok := anyCol(col, "cloneCount", "readCount")
	if !ok {
		return nil, fmt.Errorf("mixcr table: no cloneCount column")
	}
	cdr3Idx, ok := anyCol(col, "aaSeqCDR3")
	if !ok {
		return nil, fmt.Errorf("mixcr table: no aaSeqCDR3 column")
	}
	vIdx, vOK := anyCol(col, "allVHitsWithScore", "bestVHit", "vGene")
	jIdx, jOK := anyCol(col, "allJHitsWithScore", "bestJHit", "jGene")
	if !vOK || !jOK {
		return nil, fmt.Errorf("mixcr table: missing V/J hit columns")
	}

	var recs []Record
	line := 1
	for sc.Scan() {
		line++
		fields := strings.Split(sc.Text(), "\t")
		if len(strings.TrimSpace(sc.Text())) == 0 {
			continue
		}
		if len(fields) <= max4(countIdx, cdr3Idx, vIdx, jIdx) {
			return nil, fmt.Errorf("mixcr table line %d: %d fields, need at least %d",
				line, len(fields), max4(countIdx, cdr3Idx, vIdx, jIdx)+1)
		}
		aa := strings.TrimSpace(fields[cdr3Idx])
		if !productiveCDR3(aa) {
			continue
		}
		// MiXCR counts can be fractional after UMI correction.
		cf, err := strconv.ParseFloat(strings.TrimSpace(fields[countIdx]), 64)
		if err != nil || cf < 0 {
			return nil, fmt.Errorf("mixcr table line %d: bad count %q", line, fields[countIdx])
		}
		recs = append(recs, Record{
			CDR3:  aa,
			V:     normGene(fields[vIdx]),
			J:     normGene(fields[jIdx]),
			Count: int64(math.Round(cf)),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("mixcr table: %w", err)
	}
	return recs, nil
}

// ParseTRUST4 reads a TRUST4 simple report
// (#count frequency CDR3nt CDR3aa V D J C ...).
func ParseTRUST4(r io.Reader) ([]Record, error) {
	sc := newTableScanner(r)
	var recs []Record
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}
		if strings.HasPrefix(text, "#") {
			continue // header
		}
		fields := strings.Split(text, "\t")
		if len(fields) < 7 {
			return nil, fmt.Errorf("trust4 report line %d: %d fields, need at least 7", line, len(fields))
		}
		aa := strings.TrimSpace(fields[3])
		if !productiveCDR3(aa) {
			continue
		}
		count, err := strconv.ParseInt(strings.TrimSpace(fields[0]), 10, 64)
		if err != nil || count < 0 {
			return nil, fmt.Errorf("trust4 report line %d: bad count %q", line, fields[0])
		}
		recs = append(recs, Record{
			CDR3:  aa,
			V:     normGene(fields[4]),
			J:     normGene(fields[6]),
			Count: count,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("trust4 report: %w", err)
	}
	return recs, nil
}

func newTableScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return sc
}

func anyCol(col map[string]int, names ...string) (int, bool) {
	for _, n := range names {
		if i, ok := col[n]; ok {
			return i, true
		}
	}
	return 0, false
}

func max4(a, b, c, d int) int {
	m := a
	for _, v := range []int{b, c, d} {
		if v > m {
			m = v
		}
	}
	return m
}
