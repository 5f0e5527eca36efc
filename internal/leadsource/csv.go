package leadsource

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// OpenCSV reads a headered CSV file into a Table.
func OpenCSV(path string) (*Table, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return nil, eris.Wrap(err, "leadsource: open csv")
	}
	defer f.Close() //nolint:errcheck

	return ReadCSV(path, f)
}

// ReadCSV parses headered CSV from r. Blank lines and all-empty rows are skipped.
func ReadCSV(origin string, r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.Errorf("leadsource: %s: csv has no header row", origin)
	}
	if err != nil {
		return nil, eris.Wrap(err, "leadsource: read csv header")
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	var rows []map[string]string
	for {
		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "leadsource: read csv row")
		}
		if blank(cells) {
			continue
		}
		rows = append(rows, zipHeader(header, cells))
	}
	return NewTable(origin, rows), nil
}
