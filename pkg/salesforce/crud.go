package salesforce

import (
	"context"

	"github.com/rotisserie/eris"
)

// CreateLead creates a new Lead record and returns the new Salesforce ID.
// Salesforce requires LastName and Company on every Lead.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if isBlank(fields["LastName"]) {
		return "", eris.New("sf: lead LastName is required")
	}
	if isBlank(fields["Company"]) {
		return "", eris.New("sf: lead Company is required")
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

func isBlank(v any) bool {
	s, ok := v.(string)
	return v == nil || (ok && s == "")
}
