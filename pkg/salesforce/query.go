package salesforce

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// AccountRef is the parent Account of a Contact.
type AccountRef struct {
	Name string `json:"Name" salesforce:"Name"`
}

// Contact represents a Salesforce Contact record.
type Contact struct {
	ID          string      `json:"Id" salesforce:"Id"`
	Email       string      `json:"Email" salesforce:"Email"`
	Phone       string      `json:"Phone" salesforce:"Phone"`
	MobilePhone string      `json:"MobilePhone" salesforce:"MobilePhone"`
	Account     *AccountRef `json:"Account" salesforce:"Account"`
	CreatedDate string      `json:"CreatedDate" salesforce:"CreatedDate"`
}

// CompanyName returns the parent account name, if any.
func (c Contact) CompanyName() string {
	if c.Account == nil {
		return ""
	}
	return c.Account.Name
}

// Lead represents a Salesforce Lead record.
type Lead struct {
	ID          string `json:"Id" salesforce:"Id"`
	Email       string `json:"Email" salesforce:"Email"`
	Phone       string `json:"Phone" salesforce:"Phone"`
	Company     string `json:"Company" salesforce:"Company"`
	CreatedDate string `json:"CreatedDate" salesforce:"CreatedDate"`
}

var contactFields = []string{"Id", "Email", "Phone", "MobilePhone", "Account.Name", "CreatedDate"}

var leadFields = []string{"Id", "Email", "Phone", "Company", "CreatedDate"}

// ListContacts returns every Contact, optionally only those modified since
// the given time. A zero since returns all contacts.
func ListContacts(ctx context.Context, c Client, since time.Time) ([]Contact, error) {
	soql := fmt.Sprintf("SELECT %s FROM Contact%s", strings.Join(contactFields, ", "), modifiedSince(since))

	var contacts []Contact
	if err := c.Query(ctx, soql, &contacts); err != nil {
		return nil, eris.Wrap(err, "sf: list contacts")
	}
	return contacts, nil
}

// ListLeads returns every unconverted Lead, optionally only those modified
// since the given time.
func ListLeads(ctx context.Context, c Client, since time.Time) ([]Lead, error) {
	where := " WHERE IsConverted = false"
	if !since.IsZero() {
		where += " AND LastModifiedDate >= " + since.UTC().Format(soqlDateTime)
	}
	soql := fmt.Sprintf("SELECT %s FROM Lead%s", strings.Join(leadFields, ", "), where)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: list leads")
	}
	return leads, nil
}

// FindLeadByEmail returns the most recent Lead with the given email, or nil.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	soql := fmt.Sprintf(
		"SELECT %s FROM Lead WHERE Email = '%s' ORDER BY CreatedDate DESC LIMIT 1",
		strings.Join(leadFields, ", "),
		escapeSoql(email),
	)

	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, fmt.Sprintf("sf: find lead by email %s", email))
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

const soqlDateTime = "2006-01-02T15:04:05Z"

func modifiedSince(since time.Time) string {
	if since.IsZero() {
		return ""
	}
	return " WHERE LastModifiedDate >= " + since.UTC().Format(soqlDateTime)
}

// ParseDateTime parses the datetime format Salesforce returns in JSON
// ("2026-01-10T15:04:05.000+0000").
func ParseDateTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000-0700", time.RFC3339Nano, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, eris.Errorf("sf: unrecognized datetime %q", s)
}

// escapeSoql escapes backslashes and single quotes in SOQL string literals.
func escapeSoql(s string) string {
	return strings.NewReplacer(`\`, `\\`, "'", `\'`).Replace(s)
}
