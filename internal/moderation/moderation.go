// Package moderation screens user questions before they reach retrieval.
package moderation

import (
	"regexp"
	"strings"
)

// Result is the outcome of screening a piece of text.
type Result struct {
	OK     bool
	Reason string
}

// Gate screens free-form user text.
type Gate interface {
	Check(text string) Result
}

// RuleGate is a pattern-based Gate with no external calls.
type RuleGate struct {
	profanity  *regexp.Regexp
	injections []*regexp.Regexp
}

var profanityPattern = regexp.MustCompile(`(?i)\b(fuck|shit|bitch|asshole|bastard|cunt|dick|piss)\b`)

var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior|above)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s`),
	regexp.MustCompile(`(?i)system\s*prompt`),
	regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	regexp.MustCompile(`(?i)act\s+as\s+(if|a|an)\s`),
	regexp.MustCompile(`(?i)reveal\s+your\s+(instructions?|prompts?|rules)`),
}

// NewRuleGate builds the default gate.
func NewRuleGate() *RuleGate {
	return &RuleGate{
		profanity:  profanityPattern,
		injections: injectionPatterns,
	}
}

// Check runs every rule against text and returns the first failure.
func (g *RuleGate) Check(text string) Result {
	if g.profanity.MatchString(text) {
		return Result{OK: false, Reason: "question contains inappropriate language"}
	}
	for _, p := range g.injections {
		if p.MatchString(text) {
			return Result{OK: false, Reason: "question looks like a prompt injection attempt"}
		}
	}
	if hasLongRun(text, 10) {
		return Result{OK: false, Reason: "question looks like spam"}
	}
	if hasRepeatedWord(text, 3) {
		return Result{OK: false, Reason: "question looks like spam"}
	}
	return Result{OK: true}
}

// hasLongRun reports whether text contains n or more identical characters in a
// row. Whitespace runs are ignored.
func hasLongRun(text string, n int) bool {
	var prev rune
	count := 0
	for _, r := range text {
		if r == prev && !isSpace(r) {
			count++
			if count >= n {
				return true
			}
		} else {
			prev = r
			count = 1
		}
	}
	return false
}

// hasRepeatedWord reports whether any word (case-insensitive, 3+ chars)
// appears n or more times in a row.
func hasRepeatedWord(text string, n int) bool {
	words := strings.Fields(strings.ToLower(text))
	count := 1
	for i := 1; i < len(words); i++ {
		if len(words[i]) >= 3 && words[i] == words[i-1] {
			count++
			if count >= n {
				return true
			}
		} else {
			count = 1
		}
	}
	return false
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
