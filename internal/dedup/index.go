package dedup

import (
	"strings"
	"sync/atomic"
	"time"
)

// Record is an existing CRM contact in the duplicate-matching corpus.
type Record struct {
	ID        string    `json:"id"`
	Email     string    `json:"email,omitempty"`
	Phone     string    `json:"phone,omitempty"`
	Company   string    `json:"company,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type entry struct {
	rec     Record
	email   string
	phone   string
	company normalizedName
}

// Index is an immutable snapshot of the corpus keyed by normalized email,
// phone, and company tokens. It is never modified after BuildIndex returns,
// so any number of goroutines may read it concurrently.
type Index struct {
	entries []entry
	byEmail map[string][]int
	byPhone map[string][]int
	byToken map[string][]int
	builtAt time.Time
}

// BuildIndex normalizes records and builds a new snapshot. Records without
// any comparable field are dropped.
func BuildIndex(records []Record, n *Normalizer) *Index {
	idx := &Index{
		entries: make([]entry, 0, len(records)),
		byEmail: make(map[string][]int),
		byPhone: make(map[string][]int),
		byToken: make(map[string][]int),
		builtAt: time.Now(),
	}

	for _, r := range records {
		tokens := n.CompanyTokens(r.Company)
		e := entry{
			rec:     r,
			email:   n.Email(r.Email),
			phone:   n.Phone(r.Phone),
			company: normalizedName{tokens: tokens, joined: strings.Join(tokens, " ")},
		}
		if e.email == "" && e.phone == "" && e.company.joined == "" {
			continue
		}

		i := len(idx.entries)
		idx.entries = append(idx.entries, e)
		if e.email != "" {
			idx.byEmail[e.email] = append(idx.byEmail[e.email], i)
		}
		if e.phone != "" {
			idx.byPhone[e.phone] = append(idx.byPhone[e.phone], i)
		}
		for _, t := range uniqueTokens(tokens) {
			idx.byToken[t] = append(idx.byToken[t], i)
		}
	}
	return idx
}

// Len returns the number of indexed records. A nil index is empty.
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.entries)
}

// BuiltAt returns when the snapshot was built.
func (idx *Index) BuiltAt() time.Time {
	if idx == nil {
		return time.Time{}
	}
	return idx.builtAt
}

// keyed returns entry positions sharing the exact normalized email or phone.
func (idx *Index) keyed(email, phone string) []int {
	var out []int
	seen := make(map[int]bool)
	for _, ids := range [][]int{idx.byEmail[email], idx.byPhone[phone]} {
		for _, i := range ids {
			if !seen[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	return out
}

// fuzzy returns entry positions sharing at least one company token, or
// every position when full is set. Positions in skip are left out.
func (idx *Index) fuzzy(tokens []string, full bool, skip map[int]bool) []int {
	var out []int
	if full {
		for i := range idx.entries {
			if !skip[i] {
				out = append(out, i)
			}
		}
		return out
	}

	seen := make(map[int]bool)
	for _, t := range uniqueTokens(tokens) {
		for _, i := range idx.byToken[t] {
			if !seen[i] && !skip[i] {
				seen[i] = true
				out = append(out, i)
			}
		}
	}
	return out
}

func uniqueTokens(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// emptyIndex is served before the first snapshot is published.
var emptyIndex = &Index{}

// Holder publishes the current Index. Readers call Load without locking;
// a single out-of-band writer builds a fresh Index and calls Swap.
type Holder struct {
	current atomic.Pointer[Index]
}

// NewHolder creates a holder, optionally seeded with an index.
func NewHolder(idx *Index) *Holder {
	h := &Holder{}
	if idx != nil {
		h.current.Store(idx)
	}
	return h
}

// Load returns the current snapshot, never nil.
func (h *Holder) Load() *Index {
	if idx := h.current.Load(); idx != nil {
		return idx
	}
	return emptyIndex
}

// Swap atomically publishes idx and returns the previous snapshot.
func (h *Holder) Swap(idx *Index) *Index {
	if idx == nil {
		idx = emptyIndex
	}
	return h.current.Swap(idx)
}
