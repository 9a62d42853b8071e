package textsim

import "testing"

func TestTokenize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want []string
	}{
		{"lowercases and splits", "Breaking News: Go 1.24 Released!", []string{"breaking", "news", "released"}},
		{"drops stop words", "the match and the score", []string{"match", "score"}},
		{"drops short tokens", "ai in go vs c", nil},
		{"punctuation becomes separators", "climate-change:report", []string{"climate", "change", "report"}},
		{"empty", "", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Tokenize(tc.in)
			if len(got) != len(tc.want) {
				t.Fatalf("Tokenize(%q) = %v, want %v", tc.in, got, tc.want)
			}
			for _, w := range tc.want {
				if !got[w] {
					t.Fatalf("Tokenize(%q) missing %q: %v", tc.in, w, got)
				}
			}
		})
	}
}

func TestJaccard(t *testing.T) {
	t.Parallel()

	a := Tokenize("stock market hits record high")
	b := Tokenize("stock market closes at record high")
	c := Tokenize("local team wins championship final")

	if got := Jaccard(a, a); got != 1 {
		t.Fatalf("self similarity = %v, want 1", got)
	}
	if got := Jaccard(a, c); got != 0 {
		t.Fatalf("disjoint similarity = %v, want 0", got)
	}
	if got := Jaccard(a, b); got <= 0.5 {
		t.Fatalf("near-duplicate similarity = %v, want > 0.5", got)
	}
	if got := Jaccard(a, map[string]bool{}); got != 0 {
		t.Fatalf("empty-set similarity = %v, want 0", got)
	}
	if Jaccard(a, b) != Jaccard(b, a) {
		t.Fatalf("jaccard is not symmetric")
	}
}

func TestSharedTokens(t *testing.T) {
	t.Parallel()

	a := Tokenize("election results announced tonight")
	b := Tokenize("election night results rolling in")
	if got := SharedTokens(a, b); got != 2 {
		t.Fatalf("shared tokens = %d, want 2 (election, results)", got)
	}
}
