package gate

import (
	"strings"
	"unicode"
)

// Grader decides whether a submitted answer matches the expected one.
type Grader interface {
	Correct(got, want string) bool
}

// FuzzyGrader accepts answers that match the expected one after
// normalization, numerically, by synonym, or within a small edit distance.
// The tolerance scales with answer length so short answers stay strict.
type FuzzyGrader struct{}

// NewFuzzyGrader creates the default grader.
func NewFuzzyGrader() *FuzzyGrader {
	return &FuzzyGrader{}
}

// Correct reports whether got is an acceptable rendering of want.
func (g *FuzzyGrader) Correct(got, want string) bool {
	a := normalizeAnswer(got)
	b := normalizeAnswer(want)
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}
	if extractDigits(b) != "" && extractDigits(a) == extractDigits(b) {
		return true
	}
	if len(b) <= 6 && (strings.Contains(a, b) || strings.Contains(b, a)) {
		return true
	}
	for _, alt := range synonymsFor(b) {
		if a == alt || (len(alt) <= 6 && strings.Contains(a, alt)) {
			return true
		}
	}

	maxErr := 1
	if len(b) >= 8 {
		maxErr = 2
	}
	if len(b) >= 14 {
		maxErr = 3
	}
	return levenshtein(a, b) <= maxErr
}

// normalizeAnswer lowercases, strips punctuation, collapses whitespace, and
// drops filler words that carry no meaning in an answer.
func normalizeAnswer(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	b := make([]rune, 0, len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsSpace(r) {
			b = append(b, r)
		}
	}
	out := strings.Join(strings.Fields(string(b)), " ")
	out = strings.ReplaceAll(out, " day", "")
	out = strings.ReplaceAll(out, " days", "")
	out = strings.ReplaceAll(out, " cookie", "")
	out = strings.ReplaceAll(out, " attack", "")
	return out
}

func extractDigits(s string) string {
	var b []rune
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b = append(b, r)
		}
	}
	return string(b)
}

// synonymsFor returns accepted alternates for a normalized expected answer.
func synonymsFor(norm string) []string {
	m := map[string][]string{
		"google cloud":             {"gcp", "google cloud platform"},
		"denial of service":        {"dos", "ddos", "denial of service attack"},
		"computer misuse act 1990": {"uk computer misuse act", "computer misuse act"},
		"ico":                      {"information commissioners office", "information commissioner's office"},
		"session":                  {"session cookie"},
		"no":                       {"not allowed", "forbidden"},
		"yes":                      {"allowed", "permitted"},
		"13":                       {"thirteen"},
		"14":                       {"fourteen"},
	}
	if v, ok := m[norm]; ok {
		return v
	}
	return nil
}

// levenshtein computes edit distance over runes with two rolling rows.
func levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)
	na := len(ra)
	nb := len(rb)
	if na == 0 {
		return nb
	}
	if nb == 0 {
		return na
	}

	prev := make([]int, nb+1)
	curr := make([]int, nb+1)
	for j := 0; j <= nb; j++ {
		prev[j] = j
	}
	for i := 1; i <= na; i++ {
		curr[0] = i
		for j := 1; j <= nb; j++ {
			cost := 0
			if ra[i-1] != rb[j-1] {
				cost = 1
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		copy(prev, curr)
	}
	return prev[nb]
}
