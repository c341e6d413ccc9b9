package sheets

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/guide-lms/guide-router/internal/domain/concept"
)

// Row is one data row of a sheet with its header-keyed cells.
type Row struct {
	Collection string
	// Number is the 1-based sheet row number; the header is row 1.
	Number int
	URL    string
	cells  map[string]string
}

// Get returns the cell under a header, matched case-insensitively with spaces
// and underscores ignored.
func (r Row) Get(header string) string {
	return r.cells[headerKey(header)]
}

// RowParser converts a row into a concept row. ok is false for rows that should
// be skipped, such as blank or comment rows.
type RowParser[T concept.Row] func(r Row) (obj T, ok bool)

func headerKey(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	return strings.ReplaceAll(h, "_", "")
}

// parseCSV reads a sheet export into rows. rowURL builds each row's audit URL.
func parseCSV(collection string, data []byte, rowURL func(id string, row int) string) ([]Row, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header of %s: %w", collection, err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = headerKey(h)
	}

	rows := make([]Row, 0)
	for n := 2; ; n++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d of %s: %w", n, collection, err)
		}

		cells := make(map[string]string, len(keys))
		for i, v := range record {
			if i < len(keys) && keys[i] != "" {
				cells[keys[i]] = strings.TrimSpace(v)
			}
		}
		rows = append(rows, Row{Collection: collection, Number: n, URL: rowURL(collection, n), cells: cells})
	}
	return rows, nil
}

// splitConcepts splits a concept cell on commas, semicolons and whitespace.
func splitConcepts(cell string) []string {
	fields := strings.FieldsFunc(cell, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\t' || r == '\n'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

func isComment(value string) bool {
	return value == "" || strings.HasPrefix(value, "#") || strings.HasPrefix(value, "//")
}

func source(r Row) concept.Source {
	return concept.Source{CollectionID: r.Collection, Row: r.Number, URL: r.URL}
}

// ParseAttributeConcept reads the attribute, target and concepts columns.
func ParseAttributeConcept(r Row) (concept.AttributeConcept, bool) {
	attribute := r.Get("attribute")
	target := r.Get("target")
	if isComment(attribute) || target == "" {
		return concept.AttributeConcept{}, false
	}
	return concept.AttributeConcept{
		Attribute:  attribute,
		Target:     target,
		ConceptIDs: splitConcepts(r.Get("concepts")),
		Source:     source(r),
	}, true
}

// ParseChallengeConcept reads the challengeId and concepts columns.
func ParseChallengeConcept(r Row) (concept.ChallengeConcept, bool) {
	id := r.Get("challengeId")
	if isComment(id) {
		return concept.ChallengeConcept{}, false
	}
	return concept.ChallengeConcept{
		ChallengeID: id,
		ConceptIDs:  splitConcepts(r.Get("concepts")),
		Source:      source(r),
	}, true
}
