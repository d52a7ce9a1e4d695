package worksheet

import (
	"html"
	"strings"
)

// allowedTags is the markup subset static narrative may carry into the
// rendered document. Anything else is stripped to its text content.
var allowedTags = map[string]bool{
	"b": true, "i": true, "u": true, "br": true, "p": true,
	"ul": true, "ol": true, "li": true, "span": true,
}

// sanitizeStatic renders one static segment: allow-listed tags pass
// through with attributes dropped, every other tag is removed, the
// remaining text is HTML-escaped, and newlines become explicit breaks.
func sanitizeStatic(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		if s[i] != '<' {
			j := strings.IndexByte(s[i:], '<')
			if j < 0 {
				writeText(&b, s[i:])
				break
			}
			writeText(&b, s[i:i+j])
			i += j
			continue
		}

		end := strings.IndexByte(s[i:], '>')
		if end < 0 {
			// Unterminated tag: keep the rest as text.
			writeText(&b, s[i:])
			break
		}
		raw := s[i+1 : i+end]
		i += end + 1

		name, closing, selfClose := parseTag(raw)
		if !allowedTags[name] {
			continue
		}
		switch {
		case name == "br":
			b.WriteString("<br/>")
		case closing:
			b.WriteString("</" + name + ">")
		case selfClose:
			b.WriteString("<" + name + "/>")
		default:
			b.WriteString("<" + name + ">")
		}
	}
	return b.String()
}

// parseTag splits the inside of <...> into a lowercase tag name and its
// form. Attributes are not preserved.
func parseTag(raw string) (name string, closing, selfClose bool) {
	t := strings.TrimSpace(raw)
	if strings.HasPrefix(t, "/") {
		closing = true
		t = strings.TrimSpace(t[1:])
	}
	if strings.HasSuffix(t, "/") {
		selfClose = true
		t = strings.TrimSpace(t[:len(t)-1])
	}
	if sp := strings.IndexAny(t, " \t\r\n"); sp >= 0 {
		t = t[:sp]
	}
	return strings.ToLower(t), closing, selfClose
}

func writeText(b *strings.Builder, s string) {
	escaped := html.EscapeString(s)
	escaped = strings.ReplaceAll(escaped, "\r\n", "\n")
	escaped = strings.ReplaceAll(escaped, "\n", "<br/>")
	b.WriteString(escaped)
}

// errorMarker renders an evaluation failure inline in the segment's
// output slot. Sibling segments keep rendering.
func errorMarker(err error) string {
	return "[[ERROR: " + html.EscapeString(err.Error()) + "]]"
}
