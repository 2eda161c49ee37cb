// ABOUTME: Converts Slack-flavored reply text into Matrix plain and HTML bodies
// ABOUTME: Emoji shortcodes become unicode, single-asterisk bold becomes markdown bold

package matrix

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

var shortcodes = map[string]string{
	":warning:":            "⚠️",
	":wave:":               "👋",
	":white_check_mark:":   "✅",
	":thinking_face:":      "🤔",
	":x:":                  "❌",
	":information_source:": "ℹ️",
}

var (
	shortcodePattern = regexp.MustCompile(`:[a-z0-9_+-]+:`)
	slackBoldPattern = regexp.MustCompile(`(^|[\s(>])\*([^*\n]+)\*`)
)

// plainBody replaces known emoji shortcodes and leaves the rest untouched.
func plainBody(text string) string {
	return shortcodePattern.ReplaceAllStringFunc(text, func(code string) string {
		if emoji, ok := shortcodes[code]; ok {
			return emoji
		}
		return code
	})
}

// toMarkdown rewrites Slack's *bold* into CommonMark's **bold**.
func toMarkdown(text string) string {
	return slackBoldPattern.ReplaceAllString(text, "$1**$2**")
}

// htmlBody renders text as HTML. ok is false when rendering failed and the
// message should go out as plain text only.
func htmlBody(text string) (string, bool) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(toMarkdown(plainBody(text))), &buf); err != nil {
		return "", false
	}
	return strings.TrimSpace(buf.String()), true
}
