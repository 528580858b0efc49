package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGraderExactAndNormalizedMatches(t *testing.T) {
	g := NewFuzzyGrader()

	cases := []struct {
		name string
		got  string
		want string
		ok   bool
	}{
		{"exact", "30", "30", true},
		{"case and whitespace", "  Thirty Days ", "30 days", false},
		{"digits win over words", "30 days", "30", true},
		{"numeric equivalence", "within 30 days", "30", true},
		{"punctuation stripped", "denial-of-service!", "denial of service", true},
		{"synonym dos", "ddos", "denial of service", true},
		{"synonym gcp", "GCP", "google cloud", true},
		{"synonym thirteen", "thirteen", "13", true},
		{"typo within tolerance", "sesion", "session", true},
		{"long answer two typos", "computer misuze act 1990", "computer misuse act 1990", true},
		{"opposite short answer", "yes", "no", false},
		{"empty answer", "", "30", false},
		{"wrong answer", "45", "30", false},
		{"unrelated text", "purple monkey dishwasher", "denial of service", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.ok, g.Correct(tc.got, tc.want))
		})
	}
}

func TestNormalizeAnswer(t *testing.T) {
	assert.Equal(t, "30", normalizeAnswer(" 30 Days "))
	assert.Equal(t, "session", normalizeAnswer("Session Cookie"))
	assert.Equal(t, "denial of service", normalizeAnswer("Denial-of-Service Attack"))
	assert.Equal(t, "", normalizeAnswer("  "))
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc"))
	assert.Equal(t, 1, levenshtein("abc", "abd"))
	assert.Equal(t, 3, levenshtein("", "abc"))
	assert.Equal(t, 2, levenshtein("kitten", "kien"))
}
