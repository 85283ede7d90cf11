package sqlgate

import "strings"

const fence = "```"

var fenceLanguages = map[string]bool{
	"sql":        true,
	"mysql":      true,
	"postgres":   true,
	"postgresql": true,
	"psql":       true,
	"duckdb":     true,
	"sqlite":     true,
}

// Sanitize removes presentation artifacts a generator sometimes wraps around
// a statement: surrounding whitespace and leading/trailing code fences, with
// or without a language tag. It never rewrites SQL and never fails; blank or
// malformed output passes through for the validator to reject.
func Sanitize(raw string) string {
	current := strings.TrimSpace(raw)
	for {
		next := stripFences(current)
		if next == current {
			return current
		}
		current = next
	}
}

func stripFences(value string) string {
	if strings.HasPrefix(value, fence) {
		rest := value[len(fence):]
		tag := leadingTag(rest)
		after := rest[len(tag):]
		if tag == "" || fenceLanguages[strings.ToLower(tag)] || startsWithLineBreak(after) {
			rest = after
		}
		value = rest
	}
	value = strings.TrimSuffix(strings.TrimSpace(value), fence)
	return strings.TrimSpace(value)
}

func leadingTag(value string) string {
	end := 0
	for end < len(value) {
		c := value[end]
		isTagChar := c == '_' || c == '-' || c == '+' ||
			(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isTagChar {
			break
		}
		end++
	}
	return value[:end]
}

func startsWithLineBreak(value string) bool {
	return strings.HasPrefix(value, "\n") || strings.HasPrefix(value, "\r\n")
}
