package dedup

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes comparable contact fields.
type Normalizer struct {
	suffixes       map[string]bool
	plusTags       map[string]bool
	minPhoneDigits int
}

// NewNormalizer builds a normalizer from the dedup config.
func NewNormalizer(cfg Config) *Normalizer {
	suffixes := make(map[string]bool, len(cfg.LegalSuffixes))
	for _, s := range cfg.LegalSuffixes {
		s = strings.ToLower(strings.NewReplacer(".", "", "/", "").Replace(strings.TrimSpace(s)))
		if s != "" {
			suffixes[s] = true
		}
	}
	plusTags := make(map[string]bool, len(cfg.PlusTagDomains))
	for _, d := range cfg.PlusTagDomains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			plusTags[d] = true
		}
	}
	return &Normalizer{suffixes: suffixes, plusTags: plusTags, minPhoneDigits: cfg.MinPhoneDigits}
}

// Email lower-cases and trims an address and drops a mailto: prefix. The
// +tag in the local part is dropped only for the configured plus-tag
// domains. Returns "" for values that are not addresses.
func (n *Normalizer) Email(raw string) string {
	e := strings.ToLower(strings.TrimSpace(raw))
	e = strings.TrimPrefix(e, "mailto:")
	e = strings.Trim(e, "<>\"' ")
	e = strings.Join(strings.Fields(e), "")

	at := strings.LastIndexByte(e, '@')
	if at <= 0 || at == len(e)-1 {
		return ""
	}
	local, domain := e[:at], e[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > 0 && n.plusTags[domain] {
		local = local[:plus]
	}
	return local + "@" + domain
}

// Phone keeps digits only and drops a leading North American country code.
// Numbers shorter than the configured minimum are treated as absent.
func (n *Normalizer) Phone(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < n.minPhoneDigits {
		return ""
	}
	return digits
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Company folds accents, lower-cases, strips punctuation, and removes
// trailing legal suffixes ("Acme Widgets, L.L.C." -> "acme widgets").
func (n *Normalizer) Company(raw string) string {
	return strings.Join(n.CompanyTokens(raw), " ")
}

// CompanyTokens returns the normalized company name as tokens.
func (n *Normalizer) CompanyTokens(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if folded, _, err := transform.String(foldMarks, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)
	s = strings.NewReplacer(".", "", "'", "", "’", "", "/", "", "&", " and ").Replace(s)

	tokens := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	// Strip suffixes from the end, always keeping the first token so
	// "The Company" does not normalize to nothing.
	for len(tokens) > 1 && n.suffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}
