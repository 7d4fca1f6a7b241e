// Package stancsv writes pathfinder output in Stan's CSV convention: a
// block of "#"-prefixed metadata lines, a column-header row, then one row
// per draw (spec §6). No example repo in the retrieved pack touches CSV
// output, so this package is built directly on encoding/csv rather than a
// third-party library — see the module's design notes for the reasoning.
package stancsv

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Writer implements pathfinder.Writer against Stan's CSV grammar.
type Writer struct {
	raw      io.Writer
	csv      *csv.Writer
	meta     map[string]string
	started  time.Time
	wroteHdr bool
}

// New returns a Writer that emits to w. meta holds the metadata lines
// printed before the column header, such as "model" or "method"; each is
// rendered as "# key = value", sorted by key for a deterministic header.
func New(w io.Writer, meta map[string]string) *Writer {
	return &Writer{raw: w, csv: csv.NewWriter(w), meta: meta, started: time.Now()}
}

func (sw *Writer) WriteHeader(names []string) error {
	for _, key := range sortedKeys(sw.meta) {
		if _, err := fmt.Fprintf(sw.raw, "# %s = %s\n", key, sw.meta[key]); err != nil {
			return err
		}
	}
	if err := sw.csv.Write(names); err != nil {
		return err
	}
	sw.csv.Flush()
	sw.wroteHdr = true
	return sw.csv.Error()
}

// WriteRow emits one draw: values, then (logQ, logP) as the trailing two
// columns, matching Stan's "lp_approx__", "lp__" header order.
func (sw *Writer) WriteRow(values []float64, logQ, logP float64) error {
	if !sw.wroteHdr {
		return fmt.Errorf("stancsv: WriteRow called before WriteHeader")
	}
	row := make([]string, len(values)+2)
	for i, v := range values {
		row[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	row[len(values)] = strconv.FormatFloat(logQ, 'g', -1, 64)
	row[len(values)+1] = strconv.FormatFloat(logP, 'g', -1, 64)
	if err := sw.csv.Write(row); err != nil {
		return err
	}
	return sw.csv.Error()
}

// Close flushes any buffered rows and writes a single timing footer line:
// the total time elapsed since New. Separate optimization and PSIS times
// are not written.
func (sw *Writer) Close() error {
	sw.csv.Flush()
	if err := sw.csv.Error(); err != nil {
		return err
	}
	elapsed := time.Since(sw.started)
	_, err := fmt.Fprintf(sw.raw, "# Elapsed Time: %.6f seconds (total)\n", elapsed.Seconds())
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}
