package vfs

import (
	"context"
	"testing"
)

func TestStore_TextSearchLiteral(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/notes.txt", []byte("first line\nhello world\nlast line")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.TextSearch(ctx, SearchOptions{Query: "hello"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].LineNumber != 2 {
		t.Fatalf("matches = %+v, want one hit on line 2", result.Matches)
	}
	m := result.Matches[0]
	if m.MatchStart != 0 || m.MatchEnd != 5 {
		t.Fatalf("match offsets = [%d,%d), want [0,5)", m.MatchStart, m.MatchEnd)
	}
}

func TestStore_TextSearchCaseSensitive(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/notes.txt", []byte("Hello world")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	insensitive, err := s.TextSearch(ctx, SearchOptions{Query: "hello"})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(insensitive.Matches) != 1 {
		t.Fatalf("case-insensitive matches = %+v, want one hit", insensitive.Matches)
	}

	sensitive, err := s.TextSearch(ctx, SearchOptions{Query: "hello", CaseSensitive: true})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(sensitive.Matches) != 0 {
		t.Fatalf("case-sensitive matches = %+v, want zero hits", sensitive.Matches)
	}
}

func TestStore_TextSearchIsWordMatch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/notes.txt", []byte("catalog cat category")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.TextSearch(ctx, SearchOptions{Query: "cat", IsWordMatch: true})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(result.Matches) != 1 {
		t.Fatalf("matches = %+v, want exactly one whole-word hit", result.Matches)
	}
}

func TestStore_TextSearchIsRegex(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/notes.txt", []byte("v1.2.3 and v10.20.30")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.TextSearch(ctx, SearchOptions{Query: `v\d+\.\d+\.\d+`, IsRegex: true})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(result.Matches) != 2 {
		t.Fatalf("matches = %+v, want two version hits", result.Matches)
	}
}

func TestStore_TextSearchResultLimitTruncates(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.WriteFile(ctx, "/notes.txt", []byte("dup\ndup\ndup")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.TextSearch(ctx, SearchOptions{Query: "dup", ResultLimit: 2})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(result.Matches) != 2 || !result.Truncated {
		t.Fatalf("result = %+v, want 2 matches and Truncated=true", result)
	}
}

func TestStore_TextSearchFuzzyFallback(t *testing.T) {
	// Spec scenario: three files containing "authentication"; querying the
	// transposed "authenitcation" with fuzzyThreshold=2 should match all
	// three via the fuzzy fallback, and fuzzyThreshold=0 should match none
	// (no literal match exists for the misspelled query).
	ctx := context.Background()
	s := newTestStore(t)
	for _, p := range []string{"/a.txt", "/b.txt", "/c.txt"} {
		if err := s.WriteFile(ctx, p, []byte("the authentication flow")); err != nil {
			t.Fatalf("WriteFile(%s): %v", p, err)
		}
	}

	withFuzzy, err := s.TextSearch(ctx, SearchOptions{Query: "authenitcation", FuzzyThreshold: 2})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	paths := map[string]bool{}
	for _, m := range withFuzzy.Matches {
		paths[m.Path] = true
	}
	if len(paths) != 3 {
		t.Fatalf("fuzzy matches cover %d files, want 3: %+v", len(paths), withFuzzy.Matches)
	}

	withoutFuzzy, err := s.TextSearch(ctx, SearchOptions{Query: "authenitcation", FuzzyThreshold: 0})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(withoutFuzzy.Matches) != 0 {
		t.Fatalf("matches without fuzzy fallback = %+v, want none", withoutFuzzy.Matches)
	}
}

func TestStore_TextSearchFolderScoping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.Mkdir(ctx, "/src", 0o755); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := s.WriteFile(ctx, "/src/main.go", []byte("needle")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := s.WriteFile(ctx, "/readme.txt", []byte("needle")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	result, err := s.TextSearch(ctx, SearchOptions{Query: "needle", Folders: []string{"/src"}})
	if err != nil {
		t.Fatalf("TextSearch: %v", err)
	}
	if len(result.Matches) != 1 || result.Matches[0].Path != "/src/main.go" {
		t.Fatalf("matches = %+v, want only /src/main.go", result.Matches)
	}
}

func TestLevenshtein(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "abc", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"hello", "helllo", 1},
	}
	for _, c := range cases {
		if got := levenshtein(c.a, c.b); got != c.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
