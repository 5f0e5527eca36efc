package leadsource

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// OpenXLSX reads a worksheet into a Table. The first row is the header.
// An empty sheet name selects the first sheet.
func OpenXLSX(path, sheet string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "leadsource: open xlsx")
	}

	s, err := pickSheet(f, sheet)
	if err != nil {
		return nil, err
	}
	if len(s.Rows) == 0 {
		return nil, eris.Errorf("leadsource: %s: sheet %q has no header row", path, s.Name)
	}

	header := cellStrings(s.Rows[0])
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}

	var rows []map[string]string
	for _, r := range s.Rows[1:] {
		cells := cellStrings(r)
		if blank(cells) {
			continue
		}
		rows = append(rows, zipHeader(header, cells))
	}
	return NewTable(path, rows), nil
}

func pickSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		s, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("leadsource: sheet %q not found", name)
		}
		return s, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("leadsource: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func cellStrings(row *xlsx.Row) []string {
	if row == nil {
		return nil
	}
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
