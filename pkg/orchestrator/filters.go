package orchestrator

import (
	"regexp"
	"strings"
	"time"
)

// onomatopoeiaPattern matches a transcript whose entire trimmed content is
// one of a set of filler-word families: h+[um]+, hum+, uhum+, ah+, eh+,
// oh+, uh+, optionally trailing punctuation.
var onomatopoeiaPattern = regexp.MustCompile(`(?i)^(h+[um]+|hum+|uhum+|ah+|eh+|oh+|uh+)[.!?…,\s]*$`)

// maxConsecutiveRepeats and maxSameTokenOccurrences are the "3 or more
// identical tokens in a row" and "more than K occurrences of the same
// one-word token" thresholds from the echo/noise filter rules.
const (
	maxConsecutiveRepeats   = 3
	maxSameTokenOccurrences = 3
	lastAgentRepliesWindow  = 3
)

func normalizeToken(s string) string {
	return strings.ToLower(strings.Trim(s, ".,!?;:\"'…"))
}

func tokenize(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if t := normalizeToken(f); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func isOnomatopoeia(text string) bool {
	return onomatopoeiaPattern.MatchString(strings.TrimSpace(text))
}

func hasConsecutiveRepeats(tokens []string, run int) bool {
	if len(tokens) < run {
		return false
	}
	count := 1
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			count++
			if count >= run {
				return true
			}
			continue
		}
		count = 1
	}
	return false
}

func hasOverrepeatedToken(tokens []string, k int) bool {
	if len(tokens) <= k {
		return false
	}
	counts := make(map[string]int, len(tokens))
	for _, t := range tokens {
		counts[t]++
		if counts[t] > k {
			return true
		}
	}
	return false
}

// isEchoOfAgent reports whether text is an exact substring of any of the
// recent agent replies (loudspeaker bleed the STT picked up verbatim).
func isEchoOfAgent(text string, lastReplies []string) bool {
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return false
	}
	for _, reply := range lastReplies {
		if reply == "" {
			continue
		}
		if strings.Contains(strings.ToLower(reply), norm) {
			return true
		}
	}
	return false
}

// isNoise combines all of behavior (f)'s echo/noise filters plus the
// too-short boundary rule, shared between partial preprocessing and final
// validation.
func (s *Stream) isNoise(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len([]rune(trimmed)) < 2 {
		return true
	}
	if isOnomatopoeia(trimmed) {
		return true
	}
	toks := tokenize(trimmed)
	if hasConsecutiveRepeats(toks, maxConsecutiveRepeats) {
		return true
	}
	if hasOverrepeatedToken(toks, maxSameTokenOccurrences) {
		return true
	}
	if isEchoOfAgent(trimmed, s.sess.LastAgentReplies(lastAgentRepliesWindow)) {
		return true
	}
	return false
}

func endsWithSentencePunct(text string) bool {
	t := strings.TrimSpace(text)
	if t == "" {
		return false
	}
	switch t[len(t)-1] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

// qualifiesForPrebuild decides whether a partial is "final-shaped" enough
// to optimistically build the LLM message list for it, per behavior (a).
func qualifiesForPrebuild(text string, lastPartialAt time.Time) bool {
	if len([]rune(strings.TrimSpace(text))) < 10 {
		return false
	}
	if endsWithSentencePunct(text) {
		return true
	}
	return !lastPartialAt.IsZero() && time.Since(lastPartialAt) > 200*time.Millisecond
}
