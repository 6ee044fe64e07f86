// Package keyword matches article text against a configurable set of
// protest-related terms and filters out pages that are noise by
// construction (sports recaps, photo galleries, video indexes).
package keyword

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// DefaultKeywords is the built-in protest vocabulary, used when no
// keyword file is configured.
var DefaultKeywords = []string{
	"protest", "protested", "protesters",
	"march", "marched",
	"demonstration", "demonstrated", "demonstrators",
	"rally", "rallies", "rallied",
}

var (
	excludedTitleRe = regexp.MustCompile(`(?i)\b((basket|base|foot|soft|volley)ball|overtime|second\shalf|((first|third|fourth)\squarter)|gallery|letter|photos?|videos?|slideshow|pep\srall(y|ies)|stock\smarket)\b`)
	excludedURLRe   = regexp.MustCompile(`(?i)\b(videos?|inphotos|photos?|sports?|opinion|editorial|picture-gallery|local_events|clip|columnists|galleries|photogallery|image)\b`)
)

// Matcher implements service.KeywordMatcher with whole-word,
// case-insensitive matching.
type Matcher struct {
	keywords []string
	patterns []*regexp.Regexp
}

// New builds a matcher over the given keywords. Each keyword matches as
// a whole word, case-insensitively.
func New(keywords []string) (*Matcher, error) {
	if len(keywords) == 0 {
		return nil, fmt.Errorf("empty keyword set")
	}
	m := &Matcher{}
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compile keyword %q: %w", kw, err)
		}
		m.keywords = append(m.keywords, kw)
		m.patterns = append(m.patterns, re)
	}
	if len(m.keywords) == 0 {
		return nil, fmt.Errorf("empty keyword set")
	}
	return m, nil
}

// NewDefault builds a matcher over DefaultKeywords.
func NewDefault() *Matcher {
	m, err := New(DefaultKeywords)
	if err != nil {
		panic(err)
	}
	return m
}

// NewFromFile loads one keyword per line, skipping blanks and lines
// starting with '#'.
func NewFromFile(path string) (*Matcher, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open keyword file: %w", err)
	}
	defer f.Close()
	var keywords []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		keywords = append(keywords, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read keyword file: %w", err)
	}
	return New(keywords)
}

// Match returns the distinct keywords found in text, in configured order.
func (m *Matcher) Match(text string) []string {
	var matched []string
	for i, re := range m.patterns {
		if re.MatchString(text) {
			matched = append(matched, m.keywords[i])
		}
	}
	return matched
}

// ExcludedTitle reports whether the title looks like sports coverage,
// a photo gallery, or similar content we never want to review.
func (m *Matcher) ExcludedTitle(title string) bool {
	return excludedTitleRe.MatchString(title)
}

// ExcludedURL reports whether the URL path points at a content section
// we never want to review.
func (m *Matcher) ExcludedURL(rawURL string) bool {
	return excludedURLRe.MatchString(rawURL)
}
