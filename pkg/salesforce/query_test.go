package salesforce

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListContacts(t *testing.T) {
	t.Run("all contacts", func(t *testing.T) {
		mc := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Equal(t, "SELECT Id, Email, Phone, MobilePhone, Account.Name, CreatedDate FROM Contact", soql)
				contacts := out.(*[]Contact)
				*contacts = []Contact{
					{ID: "003A", Email: "jane@acme.com", Account: &AccountRef{Name: "Acme"}},
					{ID: "003B", Phone: "555-1234"},
				}
				return nil
			},
		}

		contacts, err := ListContacts(context.Background(), mc, time.Time{})
		require.NoError(t, err)
		require.Len(t, contacts, 2)
		assert.Equal(t, "Acme", contacts[0].CompanyName())
		assert.Equal(t, "", contacts[1].CompanyName())
	})

	t.Run("modified since", func(t *testing.T) {
		mc := &mockClient{
			queryFn: func(_ context.Context, soql string, _ any) error {
				assert.Contains(t, soql, "WHERE LastModifiedDate >= 2026-02-01T00:00:00Z")
				return nil
			},
		}
		_, err := ListContacts(context.Background(), mc, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, err)
	})

	t.Run("propagates error", func(t *testing.T) {
		mc := &mockClient{
			queryFn: func(_ context.Context, _ string, _ any) error { return errors.New("timeout") },
		}
		_, err := ListContacts(context.Background(), mc, time.Time{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "list contacts")
	})
}

func TestListLeads(t *testing.T) {
	mc := &mockClient{
		queryFn: func(_ context.Context, soql string, out any) error {
			assert.Contains(t, soql, "FROM Lead WHERE IsConverted = false AND LastModifiedDate >= ")
			leads := out.(*[]Lead)
			*leads = []Lead{{ID: "00Q1", Company: "Globex"}}
			return nil
		},
	}

	leads, err := ListLeads(context.Background(), mc, time.Now())
	require.NoError(t, err)
	require.Len(t, leads, 1)
	assert.Equal(t, "Globex", leads[0].Company)
}

func TestFindLeadByEmail(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mc := &mockClient{
			queryFn: func(_ context.Context, soql string, out any) error {
				assert.Contains(t, soql, `Email = 'o\'brien@acme.com'`)
				leads := out.(*[]Lead)
				*leads = []Lead{{ID: "00Q1"}}
				return nil
			},
		}
		lead, err := FindLeadByEmail(context.Background(), mc, "o'brien@acme.com")
		require.NoError(t, err)
		require.NotNil(t, lead)
		assert.Equal(t, "00Q1", lead.ID)
	})

	t.Run("not found", func(t *testing.T) {
		lead, err := FindLeadByEmail(context.Background(), &mockClient{}, "x@y.com")
		require.NoError(t, err)
		assert.Nil(t, lead)
	})
}
