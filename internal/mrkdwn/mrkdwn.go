// Package mrkdwn converts standard Markdown (what the Agent writes) into
// Slack's mrkdwn dialect. Fenced code blocks pass through untouched apart
// from the language tag on the opening fence.
package mrkdwn

import (
	"regexp"
	"strings"
)

var (
	linkRe    = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	headingRe = regexp.MustCompile(`^(#{1,6}) +(.+)$`)
	boldRe    = regexp.MustCompile(`\*\*(.+?)\*\*`)
	strikeRe  = regexp.MustCompile(`~~(.+?)~~`)
	hrRe      = regexp.MustCompile(`^[-*_]{3,}$`)
	bulletRe  = regexp.MustCompile(`^(\s*)[-*] (.*)$`)
)

// horizontalRule replaces Markdown rules, which mrkdwn has no syntax for.
const horizontalRule = "———"

// ToMrkdwn translates Markdown to Slack mrkdwn. Safe to call on partial
// streaming buffers: an unterminated fence leaves the tail unprocessed.
func ToMrkdwn(text string) string {
	lines := strings.Split(text, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				// Strip the language tag from the opening fence.
				idx := strings.Index(line, "```")
				lines[i] = line[:idx+3]
			}
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		lines[i] = translateLine(line)
	}
	return strings.Join(lines, "\n")
}

func translateLine(line string) string {
	// Escape first so later rules can introduce literal "<" for link tokens
	// without colliding with user text.
	line = strings.ReplaceAll(line, "&", "&amp;")
	line = strings.ReplaceAll(line, "<", "&lt;")

	line = linkRe.ReplaceAllString(line, "<$2|$1>")

	if m := headingRe.FindStringSubmatch(line); m != nil {
		line = "*" + m[2] + "*"
	}

	// Bold before single-asterisk emphasis would ever be considered.
	line = boldRe.ReplaceAllString(line, "*$1*")
	line = strikeRe.ReplaceAllString(line, "~$1~")

	if hrRe.MatchString(strings.TrimSpace(line)) {
		return horizontalRule
	}

	line = bulletRe.ReplaceAllString(line, "$1• $2")

	return line
}
