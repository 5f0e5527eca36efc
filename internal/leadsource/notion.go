package leadsource

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/pkg/notion"
)

// PageIDKey is the AdditionalData key carrying the source Notion page ID.
const PageIDKey = "notion_page_id"

// Notion is a Source backed by the pages of a Notion database. It also
// writes run outcomes back to each page's Status property.
type Notion struct {
	*Table
	client  notion.Client
	pageIDs []string
}

// LoadNotion queries every page of dbID. A non-empty status restricts the
// read to pages whose Status property equals it.
func LoadNotion(ctx context.Context, client notion.Client, dbID, status string) (*Notion, error) {
	var (
		pages []notionapi.Page
		err   error
	)
	if status != "" {
		pages, err = notion.QueryByStatus(ctx, client, dbID, status)
	} else {
		pages, err = notion.QueryAll(ctx, client, dbID, nil)
	}
	if err != nil {
		return nil, eris.Wrap(err, "leadsource: load notion database")
	}

	n := &Notion{client: client}
	rows := make([]map[string]string, 0, len(pages))
	for _, p := range pages {
		fields := notion.Fields(p)
		delete(fields, "Status")
		fields[PageIDKey] = string(p.ID)
		rows = append(rows, fields)
		n.pageIDs = append(n.pageIDs, string(p.ID))
	}
	n.Table = NewTable("notion:"+dbID, rows)

	zap.L().Info("leadsource: loaded notion database",
		zap.String("database", dbID),
		zap.String("status", status),
		zap.Int("rows", len(rows)),
	)
	return n, nil
}

// MarkStatus sets the Status property on the page behind row i.
func (n *Notion) MarkStatus(ctx context.Context, i int, status string) error {
	if i < 0 || i >= len(n.pageIDs) {
		return eris.Wrapf(ErrRowOutOfRange, "notion: row %d of %d", i, len(n.pageIDs))
	}
	return notion.SetStatus(ctx, n.client, n.pageIDs[i], status)
}
