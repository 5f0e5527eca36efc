package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizer_Email(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	tests := []struct {
		in   string
		want string
	}{
		{"Jane@Acme.com", "jane@acme.com"},
		{"  mailto:John.Doe+crm@GMail.COM ", "john.doe@gmail.com"},
		{"jane+leads@googlemail.com", "jane@googlemail.com"},
		{"ops+billing@corp.com", "ops+billing@corp.com"},
		{"<ops@acme.io>", "ops@acme.io"},
		{"not-an-email", ""},
		{"@acme.com", ""},
		{"jane@", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Email(tt.in))
		})
	}
}

func TestNormalizer_PlusTagDomainsConfigurable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PlusTagDomains = []string{" Corp.com "}
	n := NewNormalizer(cfg)

	assert.Equal(t, "ops@corp.com", n.Email("ops+billing@corp.com"))
	assert.Equal(t, "jane+x@gmail.com", n.Email("jane+x@gmail.com"))
}

func TestNormalizer_Phone(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	assert.Equal(t, "5551234567", n.Phone("+1 (555) 123-4567"))
	assert.Equal(t, "5551234567", n.Phone("555.123.4567"))
	assert.Equal(t, "5551234", n.Phone("555-1234"))
	assert.Equal(t, "", n.Phone("123"))
	assert.Equal(t, "", n.Phone("ext."))
	assert.Equal(t, "442071234567", n.Phone("+44 20 7123 4567"))
}

func TestNormalizer_Company(t *testing.T) {
	n := NewNormalizer(DefaultConfig())

	tests := []struct {
		in   string
		want string
	}{
		{"Acme Widgets, L.L.C.", "acme widgets"},
		{"ACME WIDGETS INC", "acme widgets"},
		{"Société Générale S.A.", "societe generale"},
		{"Smith & Sons Inc", "smith and sons"},
		{"Acme Holdings Corp.", "acme"},
		{"O'Brien Plumbing", "obrien plumbing"},
		{"The Company", "the"},
		{"Inc", "inc"},
		{"   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, n.Company(tt.in))
		})
	}
}

func TestNormalizer_CustomSuffixes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LegalSuffixes = []string{"S.r.l."}
	n := NewNormalizer(cfg)

	assert.Equal(t, "ferrari", n.Company("Ferrari S.r.l."))
	assert.Equal(t, "acme inc", n.Company("Acme Inc"))
}
