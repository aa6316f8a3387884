package tasks

import (
	"regexp"
	"strings"
)

// The platform's markup: user mentions are "@**Full Name**" (optionally
// "@**Full Name|id**"), silent mentions "@_**…**", and quote-replies
// embed a narrow link ending in "/near/<message id>" above a fenced
// "```quote" block.
var (
	mentionRE    = regexp.MustCompile(`@\*\*([^*|]+?)(?:\|(\d+))?\*\*`)
	quoteRefRE   = regexp.MustCompile(`/near/(\d+)`)
	quoteBlockRE = regexp.MustCompile("(?s)```quote.*?```")
)

// quotedMessageID extracts the message id referenced by a quote-reply.
func quotedMessageID(content string) (int64, bool) {
	m := quoteRefRE.FindStringSubmatch(content)
	if m == nil {
		return 0, false
	}
	var id int64
	for _, ch := range m[1] {
		id = id*10 + int64(ch-'0')
	}
	return id, true
}

// stripQuoteBlocks removes fenced quote blocks so mentions inside the
// quoted text are not mistaken for command arguments.
func stripQuoteBlocks(content string) string {
	return quoteBlockRE.ReplaceAllString(content, "")
}

// mentionedNames returns the display names mentioned in text, in order,
// excluding the given self name and deduplicated.
func mentionedNames(text, self string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range mentionRE.FindAllStringSubmatch(text, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" || strings.EqualFold(name, self) || seen[strings.ToLower(name)] {
			continue
		}
		seen[strings.ToLower(name)] = true
		out = append(out, name)
	}
	return out
}

// mentionOf renders a mention for a display name.
func mentionOf(name string) string {
	return "@**" + name + "**"
}

// topicForTask derives a dedicated topic name from task content: the
// first few words, bounded in length.
func topicForTask(content string) string {
	words := strings.Fields(plainExcerpt(content))
	if len(words) > 6 {
		words = words[:6]
	}
	topic := strings.Join(words, " ")
	if r := []rune(topic); len(r) > 48 {
		topic = string(r[:48])
	}
	if topic == "" {
		topic = "task"
	}
	return "✔ " + topic
}

// plainExcerpt strips quote blocks and mention markup for display in
// cards and topics.
func plainExcerpt(content string) string {
	s := stripQuoteBlocks(content)
	s = mentionRE.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}
