package leadsource

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-pipeline/pkg/notion"
)

// Options selects exactly one backing source.
type Options struct {
	CSV      string
	XLSX     string
	Sheet    string
	NotionDB string
	// NotionStatus filters Notion pages by Status when set.
	NotionStatus string
}

// Open builds the Source named by opts. newNotion is called only when a
// Notion database is selected.
func Open(ctx context.Context, opts Options, newNotion func() (notion.Client, error)) (Source, error) {
	set := 0
	for _, v := range []string{opts.CSV, opts.XLSX, opts.NotionDB} {
		if v != "" {
			set++
		}
	}
	if set != 1 {
		return nil, eris.New("leadsource: exactly one of csv, xlsx, or notion database is required")
	}

	switch {
	case opts.CSV != "":
		return OpenCSV(opts.CSV)
	case opts.XLSX != "":
		return OpenXLSX(opts.XLSX, opts.Sheet)
	default:
		client, err := newNotion()
		if err != nil {
			return nil, err
		}
		return LoadNotion(ctx, client, opts.NotionDB, opts.NotionStatus)
	}
}
