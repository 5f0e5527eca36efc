package dedup

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Company similarity modes.
const (
	CompanySimilarityToken = "token"
	CompanySimilarityEdit  = "edit"
	CompanySimilarityMax   = "max"
)

// Weights assigns the relative evidence of each comparable field.
type Weights struct {
	Email   float64 `yaml:"email" mapstructure:"email"`
	Phone   float64 `yaml:"phone" mapstructure:"phone"`
	Company float64 `yaml:"company" mapstructure:"company"`
}

// Config tunes duplicate detection. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// Threshold is the confidence (0-100) at or above which a lead is a duplicate.
	Threshold float64 `yaml:"threshold" mapstructure:"threshold"`
	Weights   Weights `yaml:"weights" mapstructure:"weights"`
	// LegalSuffixes are trailing company-name tokens dropped before comparison.
	LegalSuffixes []string `yaml:"legal_suffixes" mapstructure:"legal_suffixes"`
	// PlusTagDomains are mail domains whose "+tag" suffix in the local part
	// is dropped before comparison.
	PlusTagDomains []string `yaml:"plus_tag_domains" mapstructure:"plus_tag_domains"`
	// MinPhoneDigits discards phone numbers too short to identify anyone.
	MinPhoneDigits int `yaml:"min_phone_digits" mapstructure:"min_phone_digits"`
	// CompanySimilarity selects token overlap, edit distance, or the max of both.
	CompanySimilarity string `yaml:"company_similarity" mapstructure:"company_similarity"`
	// FullScanLimit scores every record when the corpus is at most this
	// large; bigger corpora are narrowed through key and token lookups.
	FullScanLimit int `yaml:"full_scan_limit" mapstructure:"full_scan_limit"`
}

// DefaultConfig returns the tunable defaults: threshold 85 and weights
// email 0.5, phone 0.3, company 0.2.
func DefaultConfig() Config {
	return Config{
		Threshold: 85,
		Weights: Weights{
			Email:   0.5,
			Phone:   0.3,
			Company: 0.2,
		},
		LegalSuffixes: []string{
			"llc", "pllc", "inc", "incorporated", "corp", "corporation",
			"co", "company", "ltd", "limited", "lp", "llp", "pc", "pa",
			"plc", "na", "dba", "gmbh", "sa", "ag", "bv", "holdings",
		},
		PlusTagDomains:    []string{"gmail.com", "googlemail.com"},
		MinPhoneDigits:    7,
		CompanySimilarity: CompanySimilarityMax,
		FullScanLimit:     500,
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 100 {
		return eris.Errorf("dedup: threshold %.2f out of range [0,100]", c.Threshold)
	}
	if c.Weights.Email < 0 || c.Weights.Phone < 0 || c.Weights.Company < 0 {
		return eris.New("dedup: field weights must be non-negative")
	}
	if c.Weights.Email+c.Weights.Phone+c.Weights.Company == 0 {
		return eris.New("dedup: at least one field weight must be positive")
	}
	if c.MinPhoneDigits < 0 {
		return eris.Errorf("dedup: min_phone_digits %d must be non-negative", c.MinPhoneDigits)
	}
	if c.FullScanLimit < 0 {
		return eris.Errorf("dedup: full_scan_limit %d must be non-negative", c.FullScanLimit)
	}
	switch c.CompanySimilarity {
	case CompanySimilarityToken, CompanySimilarityEdit, CompanySimilarityMax:
	default:
		return eris.Errorf("dedup: unknown company similarity %q", c.CompanySimilarity)
	}
	return nil
}

// LoadConfig reads dedup settings from a YAML file with a top-level
// "dedup" key. Unset values keep their defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "dedup: read config %s", path)
	}

	wrapper := struct {
		Dedup Config `yaml:"dedup"`
	}{Dedup: DefaultConfig()}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Config{}, eris.Wrap(err, "dedup: parse config")
	}

	if err := wrapper.Dedup.Validate(); err != nil {
		return Config{}, err
	}
	return wrapper.Dedup, nil
}
