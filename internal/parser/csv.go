package parser

import (
	"encoding/csv"
	"fmt"
	"io"
)

// CSVLoader handles CSV files. The whole file becomes one tabular block
// headed by the header row.
type CSVLoader struct{}

func (p *CSVLoader) Load(r io.Reader, filename string) (Source, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return Source{}, fmt.Errorf("parse csv: %w", err)
	}
	return Source{Title: Stem(filename), Text: tabularBlock(records)}, nil
}
