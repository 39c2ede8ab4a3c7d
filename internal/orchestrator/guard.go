package orchestrator

import (
	"fmt"
	"regexp"
	"strings"
)

const DefaultMaxSourceBytes = 8 * 1024 // 8KB per source

var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"type"\s*:\s*"function"`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
	regexp.MustCompile(`<\|im_(start|end)\|>`),
	regexp.MustCompile(`(?i)\[/?source[^\]]*\]`),
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
}

// Guard cleans untrusted web content before it is placed in a prompt.
type Guard struct {
	MaxSourceBytes    int
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard(maxSourceBytes int) *Guard {
	if maxSourceBytes <= 0 {
		maxSourceBytes = DefaultMaxSourceBytes
	}
	return &Guard{
		MaxSourceBytes:    maxSourceBytes,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// Sanitize truncates s to the size limit and masks injection markers.
func (g *Guard) Sanitize(s string) string {
	if s == "" {
		return s
	}

	if g.MaxSourceBytes > 0 && len(s) > g.MaxSourceBytes {
		s = truncateUTF8(s, g.MaxSourceBytes) + "\n[truncated]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}

	return s
}

// WrapSource renders one numbered source block for the synthesis prompt.
func (g *Guard) WrapSource(n int, title, url, text string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[source %d]\n", n)
	if title != "" {
		fmt.Fprintf(&sb, "title: %s\n", g.Sanitize(oneLine(title)))
	}
	if url != "" {
		fmt.Fprintf(&sb, "url: %s\n", g.Sanitize(oneLine(url)))
	}
	sb.WriteString(g.Sanitize(text))
	sb.WriteString("\n[/source]")
	return sb.String()
}

func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !isRuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func isRuneStart(b byte) bool { return b&0xC0 != 0x80 }

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
