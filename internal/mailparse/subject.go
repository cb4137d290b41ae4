package mailparse

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// NoSubject is the display subject and thread key of messages without one.
const NoSubject = "(no subject)"

// MaxKeyLength is the longest thread key or message id stored, in runes.
// Both are varchar(512) columns.
const MaxKeyLength = 512

// replyPrefix matches one reply or forward marker such as "Re:", "RE[2]:",
// "Fwd:", "Fw:" or the German "AW:".
var replyPrefix = regexp.MustCompile(`(?i)^\s*(re|fwd?|aw|wg)(\[\d+\])?\s*:\s*`)

// CleanSubject strips reply and forward markers and collapses whitespace.
// The result is used as the thread's display subject.
func CleanSubject(subject string) string {
	s := strings.Join(strings.Fields(subject), " ")
	for {
		stripped := replyPrefix.ReplaceAllString(s, "")
		if stripped == s {
			break
		}
		s = stripped
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return NoSubject
	}
	return s
}

// NormalizeSubject returns the thread key for subject: the cleaned subject
// folded to lower case, so "Re: Hello" and "hello" share a thread.
func NormalizeSubject(subject string) string {
	return Truncate(strings.ToLower(CleanSubject(subject)), MaxKeyLength)
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
