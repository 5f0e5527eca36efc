package dedup

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 85.0, cfg.Threshold)
	assert.Equal(t, Weights{Email: 0.5, Phone: 0.3, Company: 0.2}, cfg.Weights)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"threshold high", func(c *Config) { c.Threshold = 101 }, "threshold"},
		{"threshold negative", func(c *Config) { c.Threshold = -1 }, "threshold"},
		{"negative weight", func(c *Config) { c.Weights.Phone = -0.1 }, "non-negative"},
		{"zero weights", func(c *Config) { c.Weights = Weights{} }, "positive"},
		{"negative phone digits", func(c *Config) { c.MinPhoneDigits = -1 }, "min_phone_digits"},
		{"negative scan limit", func(c *Config) { c.FullScanLimit = -5 }, "full_scan_limit"},
		{"unknown mode", func(c *Config) { c.CompanySimilarity = "soundex" }, "soundex"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dedup.yaml")
	yaml := `
dedup:
  threshold: 90
  weights:
    email: 0.6
    phone: 0.2
    company: 0.2
  company_similarity: token
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 90.0, cfg.Threshold)
	assert.Equal(t, 0.6, cfg.Weights.Email)
	assert.Equal(t, CompanySimilarityToken, cfg.CompanySimilarity)
	assert.Equal(t, 7, cfg.MinPhoneDigits, "unset keys keep defaults")
	assert.Contains(t, cfg.LegalSuffixes, "llc")
	assert.Equal(t, []string{"gmail.com", "googlemail.com"}, cfg.PlusTagDomains)
	assert.Equal(t, 500, cfg.FullScanLimit)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "nope.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("dedup:\n  threshold: 150\n"), 0o600))
	_, err = LoadConfig(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold")
}
