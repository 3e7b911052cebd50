package keyword

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tarz-one/Companion/internal/config"
)

// Match is one keyword hit. Keyword is the canonical vocabulary name, Term the
// surface form found in the transcript.
type Match struct {
	Keyword string
	Term    string
	Address string
}

// Matcher scans transcripts for a closed vocabulary. Matching is
// case-insensitive on word boundaries so "end" does not fire inside
// "friend". Each distinct term reports at most once per transcript; an
// optional per-keyword cooldown suppresses rapid refires across transcripts.
type Matcher struct {
	terms    map[string]termInfo
	cooldown time.Duration

	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

type termInfo struct {
	keyword string
	address string
}

func NewMatcher(cfg config.KeywordConfig) (*Matcher, error) {
	prefix := cfg.AddressPrefix
	if prefix == "" {
		prefix = "/keyword/"
	}

	terms := make(map[string]termInfo)
	add := func(term string, info termInfo) error {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			return nil
		}
		if existing, ok := terms[term]; ok && existing.keyword != info.keyword {
			return fmt.Errorf("term %q mapped to both %q and %q", term, existing.keyword, info.keyword)
		}
		terms[term] = info
		return nil
	}

	for _, entry := range cfg.Vocabulary {
		address := entry.Address
		if address == "" {
			address = prefix + entry.Name
		}
		info := termInfo{keyword: entry.Name, address: address}
		if err := add(entry.Name, info); err != nil {
			return nil, err
		}
		for _, syn := range entry.Synonyms {
			if err := add(syn, info); err != nil {
				return nil, err
			}
		}
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("vocabulary is empty")
	}

	return &Matcher{
		terms:    terms,
		cooldown: time.Duration(cfg.CooldownMS) * time.Millisecond,
		last:     make(map[string]time.Time),
		now:      time.Now,
	}, nil
}

// Scan returns the matches found in text, in the order they appear.
func (m *Matcher) Scan(text string) []Match {
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		matches []Match
		seen    map[string]struct{}
	)
	now := m.now()
	for _, token := range tokens {
		info, ok := m.terms[token]
		if !ok {
			continue
		}
		if seen == nil {
			seen = make(map[string]struct{})
		}
		if _, dup := seen[token]; dup {
			continue
		}
		if m.cooldown > 0 {
			if last, ok := m.last[info.keyword]; ok && now.Sub(last) < m.cooldown {
				continue
			}
		}
		seen[token] = struct{}{}
		m.last[info.keyword] = now
		matches = append(matches, Match{Keyword: info.keyword, Term: token, Address: info.address})
	}
	return matches
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
