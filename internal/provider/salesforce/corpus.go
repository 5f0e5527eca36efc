package salesforce

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/dedup"
	sf "github.com/sells-group/lead-pipeline/pkg/salesforce"
)

// CorpusSource loads existing Contacts and open Leads as the duplicate
// matching corpus. It implements dedup.ContactSource.
type CorpusSource struct {
	client sf.Client
	since  func() time.Time
}

// NewCorpusSource creates a corpus source. since is called on every load
// so a rolling lookback window advances between refreshes. A nil since, or
// one returning the zero time, loads every record.
func NewCorpusSource(client sf.Client, since func() time.Time) *CorpusSource {
	return &CorpusSource{client: client, since: since}
}

// Contacts returns Contacts followed by unconverted Leads.
func (s *CorpusSource) Contacts(ctx context.Context) ([]dedup.Record, error) {
	var since time.Time
	if s.since != nil {
		since = s.since()
	}
	contacts, err := sf.ListContacts(ctx, s.client, since)
	if err != nil {
		return nil, eris.Wrap(err, "salesforce: load corpus contacts")
	}
	leads, err := sf.ListLeads(ctx, s.client, since)
	if err != nil {
		return nil, eris.Wrap(err, "salesforce: load corpus leads")
	}

	records := make([]dedup.Record, 0, len(contacts)+len(leads))
	for _, c := range contacts {
		phone := c.Phone
		if phone == "" {
			phone = c.MobilePhone
		}
		records = append(records, dedup.Record{
			ID:        c.ID,
			Email:     c.Email,
			Phone:     phone,
			Company:   c.CompanyName(),
			CreatedAt: createdAt(c.ID, c.CreatedDate),
		})
	}
	for _, l := range leads {
		records = append(records, dedup.Record{
			ID:        l.ID,
			Email:     l.Email,
			Phone:     l.Phone,
			Company:   l.Company,
			CreatedAt: createdAt(l.ID, l.CreatedDate),
		})
	}

	zap.L().Info("salesforce: corpus loaded",
		zap.Int("contacts", len(contacts)),
		zap.Int("leads", len(leads)),
	)
	return records, nil
}

func createdAt(id, raw string) time.Time {
	t, err := sf.ParseDateTime(raw)
	if err != nil {
		zap.L().Debug("salesforce: unparseable CreatedDate", zap.String("sf_id", id), zap.Error(err))
	}
	return t
}
