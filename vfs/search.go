package vfs

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// SearchOptions configures TextSearch.
type SearchOptions struct {
	Query string

	// Folders restricts the search to these path prefixes; empty means the
	// whole tree.
	Folders []string
	// Includes/Excludes are glob filters applied to each candidate path (the
	// same segment-aware matching vfs/watch.go uses for watchers).
	Includes []string
	Excludes []string

	CaseSensitive bool
	IsRegex       bool
	IsWordMatch   bool

	// ResultLimit caps the number of matches returned; 0 means unbounded.
	ResultLimit int
	// FuzzyThreshold, when > 0, triggers a fuzzy fallback pass (bounded edit
	// distance) if the literal pass finds nothing.
	FuzzyThreshold int
}

// SearchMatch is one line-level hit.
type SearchMatch struct {
	Path       string
	LineNumber int // 1-based
	LineContent string
	MatchStart int // inclusive column offset
	MatchEnd   int // exclusive column offset
}

// SearchResult is TextSearch's return value.
type SearchResult struct {
	Matches   []SearchMatch
	Truncated bool
}

// TextSearch looks up Query across indexed file content. Strategy: (a) FTS5
// supplies fast candidate files for literal and word queries (a regex query
// takes every file as a candidate), (b) each candidate is line-scanned for
// exact matches honouring the flags, (c) if the literal pass finds nothing
// and FuzzyThreshold > 0, a fuzzy pass with bounded edit distance runs over
// the content lines of every file instead. File paths are not matched.
//
// FTS5 covers full-text candidate retrieval; there is no fuzzy/approximate
// string matching library among the example dependencies, so the bounded
// edit-distance pass is hand-rolled standard-library code (see DESIGN.md):
// no ecosystem fuzzy-search lib appears in any example's go.mod.
func (s *Store) TextSearch(ctx context.Context, opts SearchOptions) (SearchResult, error) {
	if opts.Query == "" {
		return SearchResult{}, nil
	}

	ftsQ := opts.Query
	if opts.IsRegex {
		ftsQ = ""
	}
	candidates, err := s.searchCandidates(ctx, ftsQ)
	if err != nil {
		return SearchResult{}, err
	}

	matcher, err := newLineMatcher(opts)
	if err != nil {
		return SearchResult{}, err
	}

	result := scanCandidates(candidates, opts, matcher.match)
	if len(result.Matches) == 0 && opts.FuzzyThreshold > 0 {
		all, err := s.searchCandidates(ctx, "")
		if err != nil {
			return SearchResult{}, err
		}
		fuzzy := fuzzyMatcher{query: opts.Query, maxDistance: opts.FuzzyThreshold, caseSensitive: opts.CaseSensitive}
		result = scanCandidates(all, opts, fuzzy.match)
	}
	return result, nil
}

type candidateFile struct {
	path    string
	content string
}

// searchCandidates asks FTS5 for every indexed file whose content matches
// query as a phrase, or for every file when query is empty; narrowing by
// folder/include/exclude happens afterwards in Go, since FTS5 has no concept
// of the kernel's glob vocabulary.
func (s *Store) searchCandidates(ctx context.Context, query string) ([]candidateFile, error) {
	stmt, args := `SELECT path, content FROM files WHERE content IS NOT NULL`, []any(nil)
	if query != "" {
		stmt = `SELECT f.path, f.content FROM files_fts JOIN files f ON f.rowid = files_fts.rowid
		 WHERE files_fts MATCH ?`
		args = []any{ftsQuery(query)}
	}
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, newErr(EIO, "/", err)
	}
	defer rows.Close()

	var out []candidateFile
	for rows.Next() {
		var p string
		var content []byte
		if err := rows.Scan(&p, &content); err != nil {
			return nil, newErr(EIO, "/", err)
		}
		out = append(out, candidateFile{path: p, content: string(content)})
	}
	return out, nil
}

// ftsQuery escapes a raw user query into an FTS5 MATCH argument by quoting
// it as a single phrase, so punctuation in query doesn't get parsed as FTS5
// query syntax.
func ftsQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

func pathAllowed(p string, opts SearchOptions) bool {
	if len(opts.Folders) > 0 {
		under := false
		for _, folder := range opts.Folders {
			if pathUnderFolder(folder, p) {
				under = true
				break
			}
		}
		if !under {
			return false
		}
	}
	if len(opts.Includes) > 0 && !matchesAny(opts.Includes, p) {
		return false
	}
	if matchesAny(opts.Excludes, p) {
		return false
	}
	return true
}

func pathUnderFolder(folder, p string) bool {
	if folder == "" || folder == "/" {
		return true
	}
	folder = strings.TrimSuffix(folder, "/")
	return p == folder || strings.HasPrefix(p, folder+"/")
}

// scanCandidates line-scans every allowed candidate with match, collecting
// up to ResultLimit matches (0 = unbounded) and reporting truncation.
func scanCandidates(candidates []candidateFile, opts SearchOptions, match func(line string) []SearchMatch) SearchResult {
	var result SearchResult
	for _, c := range candidates {
		if !pathAllowed(c.path, opts) {
			continue
		}
		for i, line := range strings.Split(c.content, "\n") {
			for _, m := range match(line) {
				if opts.ResultLimit > 0 && len(result.Matches) >= opts.ResultLimit {
					result.Truncated = true
					return result
				}
				m.Path = c.path
				m.LineNumber = i + 1
				m.LineContent = line
				result.Matches = append(result.Matches, m)
			}
		}
	}
	return result
}

// lineMatcher runs the literal/regex/word-match pass honouring opts' flags.
type lineMatcher struct {
	re *regexp.Regexp
}

func newLineMatcher(opts SearchOptions) (*lineMatcher, error) {
	pattern := opts.Query
	if !opts.IsRegex {
		pattern = regexp.QuoteMeta(pattern)
	}
	if opts.IsWordMatch {
		pattern = `\b` + pattern + `\b`
	}
	flags := "(?s)"
	if !opts.CaseSensitive {
		flags += "(?i)"
	}
	re, err := regexp.Compile(flags + pattern)
	if err != nil {
		return nil, newErr(EIO, "/", err)
	}
	return &lineMatcher{re: re}, nil
}

func (m *lineMatcher) match(line string) []SearchMatch {
	idxs := m.re.FindAllStringIndex(line, -1)
	if idxs == nil {
		return nil
	}
	out := make([]SearchMatch, len(idxs))
	for i, span := range idxs {
		out[i] = SearchMatch{MatchStart: span[0], MatchEnd: span[1]}
	}
	return out
}

// fuzzyMatcher finds the first token in a line within maxDistance edits of
// query, used only as a fallback when the literal/regex pass finds nothing.
type fuzzyMatcher struct {
	query         string
	maxDistance   int
	caseSensitive bool
}

func (m *fuzzyMatcher) match(line string) []SearchMatch {
	query := m.query
	haystack := line
	if !m.caseSensitive {
		query = strings.ToLower(query)
		haystack = strings.ToLower(haystack)
	}

	var out []SearchMatch
	offset := 0
	for _, tok := range splitTokens(haystack) {
		start := strings.Index(haystack[offset:], tok)
		if start < 0 {
			continue
		}
		start += offset
		end := start + len(tok)
		offset = end

		if levenshtein(tok, query) <= m.maxDistance {
			out = append(out, SearchMatch{MatchStart: start, MatchEnd: end})
		}
	}
	return out
}

// splitTokens splits on runs of non-letter/non-digit characters, keeping
// word tokens only (matching the kind of identifier a fuzzy search targets).
func splitTokens(s string) []string {
	var toks []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return toks
}

// levenshtein computes the classic edit distance between a and b.
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	la, lb := len(ra), len(rb)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}

	prev := make([]int, lb+1)
	cur := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		cur[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := cur[j-1] + 1
			sub := prev[j-1] + cost
			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			cur[j] = m
		}
		prev, cur = cur, prev
	}
	return prev[lb]
}
