package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"bookcatalog/pkg/domain"
)

// Field weights and the phrase-prefix boost mirror the Elasticsearch query
// in searchQuery. Keep the two in sync.
const (
	titleWeight       = 3.0
	authorWeight      = 2.0
	descriptionWeight = 1.0
	phrasePrefixBoost = 4.0
	minShouldMatch    = 0.7
)

// MemoryIndex implements Index in-process with the same ranking contract as
// the Elasticsearch implementation: a disjunction of a weighted fuzzy
// best-fields match and a boosted phrase-prefix on title. Used by tests and
// local development without a cluster.
type MemoryIndex struct {
	mu      sync.RWMutex
	docs    map[string]domain.Book
	order   []string
	ensured int
}

// NewMemoryIndex initializes an empty in-memory index.
func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{docs: make(map[string]domain.Book)}
}

// EnsureIndex is a no-op; it only records the call so idempotency is
// observable in tests.
func (m *MemoryIndex) EnsureIndex(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensured++
	return nil
}

// EnsureCalls reports how many times EnsureIndex ran.
func (m *MemoryIndex) EnsureCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ensured
}

// IndexBook upserts the document.
func (m *MemoryIndex) IndexBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[b.ID]; !exists {
		m.order = append(m.order, b.ID)
	}
	m.docs[b.ID] = b
	return nil
}

// UpdateBook overwrites an existing entry. Like the Elasticsearch partial
// update it fails when no entry exists yet.
func (m *MemoryIndex) UpdateBook(_ context.Context, b domain.Book) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[b.ID]; !exists {
		return fmt.Errorf("search: update error: document %s missing", b.ID)
	}
	m.docs[b.ID] = b
	return nil
}

// DeleteBook removes the entry; absent entries are not an error.
func (m *MemoryIndex) DeleteBook(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[id]; !exists {
		return nil
	}
	delete(m.docs, id)
	for i, did := range m.order {
		if did == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Search scores every document against the query and returns ranked hits.
func (m *MemoryIndex) Search(_ context.Context, query string) ([]domain.SearchHit, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return []domain.SearchHit{}, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	hits := make([]domain.SearchHit, 0)
	for _, id := range m.order {
		b := m.docs[id]
		score := scoreBook(b, terms)
		if score <= 0 {
			continue
		}
		hits = append(hits, domain.SearchHit{
			Book:       b,
			Score:      score,
			Highlights: highlightBook(b, terms),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > MaxResults {
		hits = hits[:MaxResults]
	}
	return hits, nil
}

// scoreBook accumulates the two disjunctive clauses.
func scoreBook(b domain.Book, terms []string) float64 {
	score := bestFieldsScore(b, terms)
	if phrasePrefixMatch(tokenize(b.Title), terms) {
		score += phrasePrefixBoost
	}
	return score
}

// bestFieldsScore takes the single best-matching field's score, requiring at
// least 70% of query terms to match that field.
func bestFieldsScore(b domain.Book, terms []string) float64 {
	required := requiredMatches(len(terms))
	fields := []struct {
		text   string
		weight float64
	}{
		{b.Title, titleWeight},
		{b.Author, authorWeight},
		{b.Description, descriptionWeight},
	}
	best := 0.0
	for _, f := range fields {
		matched, quality := fieldMatch(tokenize(f.text), terms)
		if matched < required {
			continue
		}
		if s := f.weight * quality; s > best {
			best = s
		}
	}
	return best
}

// requiredMatches applies minimum_should_match the way Elasticsearch rounds
// a percentage: down, but never below one term.
func requiredMatches(n int) int {
	required := int(float64(n) * minShouldMatch)
	if required < 1 {
		required = 1
	}
	return required
}

// fieldMatch returns how many query terms match the field and the summed
// match quality. Exact token hits score 1; fuzzy hits are discounted by edit
// distance.
func fieldMatch(tokens, terms []string) (int, float64) {
	matched := 0
	total := 0.0
	for _, term := range terms {
		best := 0.0
		for _, tok := range tokens {
			if q := termQuality(term, tok); q > best {
				best = q
			}
		}
		if best > 0 {
			matched++
			total += best
		}
	}
	return matched, total
}

// termQuality scores a single term against a single token: 1 for an exact
// match, a length-discounted fraction for matches within the AUTO edit
// distance, 0 otherwise.
func termQuality(term, token string) float64 {
	if term == token {
		return 1
	}
	maxEdits := autoFuzziness(term)
	if maxEdits == 0 {
		return 0
	}
	dist := osaDistance(term, token)
	if dist > maxEdits {
		return 0
	}
	longer := len(term)
	if len(token) > longer {
		longer = len(token)
	}
	return 1 - float64(dist)/float64(longer)
}

// autoFuzziness reproduces Elasticsearch AUTO: terms shorter than 3 runes
// must match exactly, 3-5 runes tolerate one edit, longer terms two.
func autoFuzziness(term string) int {
	switch n := len([]rune(term)); {
	case n < 3:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}

// osaDistance is the optimal string alignment distance: Levenshtein plus
// adjacent transpositions, matching Elasticsearch fuzzy matching with
// transpositions enabled.
func osaDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	d := make([][]int, la+1)
	for i := range d {
		d[i] = make([]int, lb+1)
		d[i][0] = i
	}
	for j := 0; j <= lb; j++ {
		d[0][j] = j
	}
	for i := 1; i <= la; i++ {
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			d[i][j] = minInt(d[i-1][j]+1, d[i][j-1]+1, d[i-1][j-1]+cost)
			if i > 1 && j > 1 && ra[i-1] == rb[j-2] && ra[i-2] == rb[j-1] {
				d[i][j] = minInt(d[i][j], d[i-2][j-2]+1)
			}
		}
	}
	return d[la][lb]
}

func minInt(values ...int) int {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

// phrasePrefixMatch reports whether the query terms appear consecutively in
// the field, with the final term allowed to be a prefix. No fuzziness, same
// as match_phrase_prefix.
func phrasePrefixMatch(tokens, terms []string) bool {
	if len(terms) == 0 || len(tokens) < len(terms) {
		return false
	}
	last := len(terms) - 1
	for start := 0; start+len(terms) <= len(tokens); start++ {
		ok := true
		for j := 0; j < last; j++ {
			if tokens[start+j] != terms[j] {
				ok = false
				break
			}
		}
		if ok && strings.HasPrefix(tokens[start+last], terms[last]) {
			return true
		}
	}
	return false
}

// highlightBook wraps matched words in <em> tags per field, mirroring the
// default Elasticsearch highlighter shape.
func highlightBook(b domain.Book, terms []string) map[string][]string {
	out := make(map[string][]string)
	for field, text := range map[string]string{
		"title":       b.Title,
		"author":      b.Author,
		"description": b.Description,
	} {
		if fragment, ok := highlightText(text, terms); ok {
			out[field] = []string{fragment}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func highlightText(text string, terms []string) (string, bool) {
	if text == "" {
		return "", false
	}
	words := strings.Fields(text)
	matchedAny := false
	for i, word := range words {
		token := normalizeToken(word)
		for _, term := range terms {
			if termQuality(term, token) > 0 {
				words[i] = "<em>" + word + "</em>"
				matchedAny = true
				break
			}
		}
	}
	if !matchedAny {
		return "", false
	}
	return strings.Join(words, " "), true
}

// tokenize lowercases and splits on anything that is not a letter or digit.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeToken(word string) string {
	tokens := tokenize(word)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[0]
}
