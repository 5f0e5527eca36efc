// Package dedup scores incoming leads against the corpus of known CRM
// contacts using weighted multi-field comparison.
package dedup

import (
	"strings"

	"github.com/sells-group/lead-pipeline/internal/model"
)

// Field names reported in DuplicateMatch.FieldScores.
const (
	FieldEmail   = "email"
	FieldPhone   = "phone"
	FieldCompany = "company"
)

const scoreEpsilon = 1e-9

// Engine evaluates leads against a corpus Index. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	cfg  Config
	norm *Normalizer
}

// NewEngine creates an engine. Callers should Validate cfg first.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg, norm: NewNormalizer(cfg)}
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// BuildIndex builds a snapshot normalized the same way this engine
// normalizes leads.
func (e *Engine) BuildIndex(records []Record) *Index {
	return BuildIndex(records, e.norm)
}

// IsDuplicate reports whether a match reaches the configured threshold.
func (e *Engine) IsDuplicate(m model.DuplicateMatch) bool {
	return m.Confidence >= e.cfg.Threshold
}

type query struct {
	email   string
	phone   string
	company normalizedName
}

// Evaluate computes the duplicate confidence of lead against idx. It is a
// pure read: it never fails and returns identical results for identical
// inputs. An empty or nil index yields confidence 0.
func (e *Engine) Evaluate(lead model.LeadInput, idx *Index) model.DuplicateMatch {
	if idx.Len() == 0 {
		return model.DuplicateMatch{}
	}

	tokens := e.norm.CompanyTokens(lead.Company)
	p := query{
		email:   e.norm.Email(lead.Email),
		phone:   e.norm.Phone(lead.Phone),
		company: normalizedName{tokens: tokens, joined: strings.Join(tokens, " ")},
	}
	if p.email == "" && p.phone == "" && p.company.joined == "" {
		return model.DuplicateMatch{}
	}

	// Exact email or phone keys decide first. Fuzzy company scoring only
	// runs when no keyed record reaches the threshold.
	keyed := idx.keyed(p.email, p.phone)
	best, bestEntry := e.pick(p, idx, keyed, model.DuplicateMatch{}, nil)
	if bestEntry != nil && e.IsDuplicate(best) {
		return best
	}
	if p.company.joined == "" || e.cfg.Weights.Company <= 0 {
		return best
	}

	skip := make(map[int]bool, len(keyed))
	for _, i := range keyed {
		skip[i] = true
	}
	full := idx.Len() <= e.cfg.FullScanLimit
	best, _ = e.pick(p, idx, idx.fuzzy(tokens, full, skip), best, bestEntry)
	return best
}

// pick scores the entries at ids and returns the best match, starting from
// the given incumbent.
func (e *Engine) pick(p query, idx *Index, ids []int, best model.DuplicateMatch, bestEntry *entry) (model.DuplicateMatch, *entry) {
	for _, i := range ids {
		ent := &idx.entries[i]
		confidence, scores := e.score(p, ent)
		if confidence <= 0 {
			continue
		}
		if bestEntry == nil || better(confidence, ent, best.Confidence, bestEntry) {
			best = model.DuplicateMatch{
				Confidence:      confidence,
				MatchedRecordID: ent.rec.ID,
				FieldScores:     scores,
			}
			bestEntry = ent
		}
	}
	return best, bestEntry
}

// better orders candidates by confidence, then most recently created, then
// smallest ID so results never depend on index iteration order.
func better(conf float64, ent *entry, bestConf float64, bestEnt *entry) bool {
	if conf > bestConf+scoreEpsilon {
		return true
	}
	if conf < bestConf-scoreEpsilon {
		return false
	}
	if !ent.rec.CreatedAt.Equal(bestEnt.rec.CreatedAt) {
		return ent.rec.CreatedAt.After(bestEnt.rec.CreatedAt)
	}
	return ent.rec.ID < bestEnt.rec.ID
}

// score combines per-field similarity over fields present on both sides:
// confidence = 100 * Σ(w·s) / Σ(w present). Each field's share of the
// confidence is reported in the returned map.
func (e *Engine) score(p query, ent *entry) (float64, map[string]float64) {
	type part struct {
		field  string
		weight float64
		sim    float64
	}
	var parts []part

	w := e.cfg.Weights
	if w.Email > 0 && p.email != "" && ent.email != "" {
		parts = append(parts, part{FieldEmail, w.Email, exact(p.email, ent.email)})
	}
	if w.Phone > 0 && p.phone != "" && ent.phone != "" {
		parts = append(parts, part{FieldPhone, w.Phone, exact(p.phone, ent.phone)})
	}
	if w.Company > 0 && p.company.joined != "" && ent.company.joined != "" {
		parts = append(parts, part{FieldCompany, w.Company, companySimilarity(e.cfg.CompanySimilarity, p.company, ent.company)})
	}

	var num, den float64
	for _, pt := range parts {
		num += pt.weight * pt.sim
		den += pt.weight
	}
	if den == 0 || num == 0 {
		return 0, nil
	}

	scores := make(map[string]float64, len(parts))
	for _, pt := range parts {
		scores[pt.field] = 100 * pt.weight * pt.sim / den
	}
	return 100 * num / den, scores
}

func exact(a, b string) float64 {
	if a == b {
		return 1
	}
	return 0
}
