package keyword

import (
	"testing"
	"time"

	"github.com/tarz-one/Companion/internal/config"
)

func testConfig() config.KeywordConfig {
	return config.KeywordConfig{
		Enabled:       true,
		AddressPrefix: "/keyword/",
		Vocabulary:    config.DefaultVocabulary(),
	}
}

func TestScanFindsKeywords(t *testing.T) {
	m, err := NewMatcher(testConfig())
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	cases := []struct {
		name string
		text string
		want []Match
	}{
		{
			name: "single keyword",
			text: "I love this place",
			want: []Match{{Keyword: "love", Term: "love", Address: "/keyword/love"}},
		},
		{
			name: "case insensitive with punctuation",
			text: "STOP! Please, stop.",
			want: []Match{{Keyword: "stop", Term: "stop", Address: "/keyword/stop"}},
		},
		{
			name: "synonym maps to canonical address",
			text: "they despise the cold",
			want: []Match{{Keyword: "hate", Term: "despise", Address: "/keyword/hate"}},
		},
		{
			name: "multiple keywords in order found",
			text: "stop saying you hate what I love",
			want: []Match{
				{Keyword: "stop", Term: "stop", Address: "/keyword/stop"},
				{Keyword: "hate", Term: "hate", Address: "/keyword/hate"},
				{Keyword: "love", Term: "love", Address: "/keyword/love"},
			},
		},
		{
			name: "distinct synonyms fire independently",
			text: "I love and adore it",
			want: []Match{
				{Keyword: "love", Term: "love", Address: "/keyword/love"},
				{Keyword: "love", Term: "adore", Address: "/keyword/love"},
			},
		},
		{
			name: "no substring matches",
			text: "my friend stopped by the weekend",
			want: nil,
		},
		{
			name: "empty transcript",
			text: "",
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := m.Scan(tc.text)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("match %d: got %+v, want %+v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestScanExplicitAddress(t *testing.T) {
	cfg := config.KeywordConfig{
		AddressPrefix: "/keyword/",
		Vocabulary: []config.VocabularyEntry{
			{Name: "dark", Address: "/keyword/shadow", Synonyms: []string{"night"}},
		},
	}
	m, err := NewMatcher(cfg)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}
	got := m.Scan("a dark night")
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %v", got)
	}
	for _, match := range got {
		if match.Address != "/keyword/shadow" {
			t.Fatalf("expected explicit address, got %q", match.Address)
		}
	}
}

func TestScanCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.CooldownMS = 2000
	m, err := NewMatcher(cfg)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	current := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	if got := m.Scan("love"); len(got) != 1 {
		t.Fatalf("first scan: got %v", got)
	}
	current = current.Add(500 * time.Millisecond)
	if got := m.Scan("love"); len(got) != 0 {
		t.Fatalf("scan within cooldown: got %v", got)
	}
	// Synonyms share the canonical keyword's cooldown.
	if got := m.Scan("adore"); len(got) != 0 {
		t.Fatalf("synonym within cooldown: got %v", got)
	}
	current = current.Add(2 * time.Second)
	if got := m.Scan("love"); len(got) != 1 {
		t.Fatalf("scan after cooldown: got %v", got)
	}
}

func TestNewMatcherRejectsConflictingTerms(t *testing.T) {
	cfg := config.KeywordConfig{
		AddressPrefix: "/keyword/",
		Vocabulary: []config.VocabularyEntry{
			{Name: "stop", Synonyms: []string{"end"}},
			{Name: "die", Synonyms: []string{"end"}},
		},
	}
	if _, err := NewMatcher(cfg); err == nil {
		t.Fatal("expected error for a term mapped to two keywords")
	}
}
