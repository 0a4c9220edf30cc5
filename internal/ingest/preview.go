package ingest

import (
	"errors"
	"fmt"
	"io"
	"slices"
)

// DefaultSampleRows is the sample size used when the caller asks for none.
const DefaultSampleRows = 5

// Preview summarizes an upload before it is planned.
type Preview struct {
	Headers                []string            `json:"headers"`
	RowCount               int                 `json:"rowCount"`
	MissingRequiredColumns []string            `json:"missingRequiredColumns"`
	Sample                 []map[string]string `json:"sample"`
}

// PreviewCSV reads the whole file but keeps only the first n rows as a sample,
// keyed by the raw header. Missing columns are reported, not rejected.
func PreviewCSV(r io.Reader, n int) (Preview, error) {
	if n <= 0 {
		n = DefaultSampleRows
	}
	cr := newReader(r)
	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Preview{Headers: []string{}, MissingRequiredColumns: slices.Clone(RequiredColumns), Sample: []map[string]string{}}, nil
		}
		return Preview{}, fmt.Errorf("ingest: read header: %w", err)
	}

	p := Preview{
		Headers:                headers,
		MissingRequiredColumns: missingColumns(columnIndex(headers)),
		Sample:                 []map[string]string{},
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Preview{}, fmt.Errorf("ingest: row %d: %w", p.RowCount+2, err)
		}
		if blank(rec) {
			continue
		}
		p.RowCount++
		if len(p.Sample) < n {
			row := make(map[string]string, len(headers))
			for i, h := range headers {
				if i < len(rec) {
					row[h] = rec[i]
				}
			}
			p.Sample = append(p.Sample, row)
		}
	}
	return p, nil
}
