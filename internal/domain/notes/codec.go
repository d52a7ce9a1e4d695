// Package notes holds TPN documentation: the section codec converting
// between the persisted flat line format and structured segments, and
// storage for notes and shared templates.
package notes

import (
	"fmt"
	"strings"
)

// Codec converts between persisted text lines and segments. Open and
// Close are the in-band tokens that mark a dynamic region.
type Codec struct {
	Open  string
	Close string
}

// DefaultCodec handles the delimiter pair used by stored TPN templates.
var DefaultCodec = Codec{Open: "<%", Close: "%>"}

// Parse scans lines with the default delimiters.
func Parse(lines []string) []Segment { return DefaultCodec.Parse(lines) }

// Serialize flattens segments with the default delimiters.
func Serialize(segs []Segment) []string { return DefaultCodec.Serialize(segs) }

// Parse scans lines in order, tracking whether it is inside a dynamic
// block. Contiguous static lines coalesce into one segment; text before
// an open token on a line joins that accumulation, and text after a
// close token starts a new one. Delimiter irregularities never fail:
// an open token seen inside a dynamic block is kept verbatim as content,
// and an open token with no later close absorbs every remaining line
// into one trailing dynamic segment.
func (c Codec) Parse(lines []string) []Segment {
	var (
		segs        []Segment
		staticLines []string
		dynLines    []string
		inDynamic   bool
	)

	flushStatic := func() {
		if len(staticLines) == 0 {
			return
		}
		segs = append(segs, Segment{Kind: SegmentStatic, Content: strings.Join(staticLines, "\n")})
		staticLines = nil
	}
	flushDynamic := func() {
		content := strings.TrimSpace(strings.Join(dynLines, "\n"))
		segs = append(segs, Segment{Kind: SegmentDynamic, Content: content})
		dynLines = nil
	}

	for _, line := range lines {
		remaining := line
		for {
			if inDynamic {
				idx := strings.Index(remaining, c.Close)
				if idx < 0 {
					dynLines = append(dynLines, remaining)
					break
				}
				if part := remaining[:idx]; part != "" {
					dynLines = append(dynLines, part)
				}
				flushDynamic()
				inDynamic = false
				remaining = remaining[idx+len(c.Close):]
				if remaining == "" {
					break
				}
				continue
			}

			idx := strings.Index(remaining, c.Open)
			if idx < 0 {
				staticLines = append(staticLines, remaining)
				break
			}
			if before := remaining[:idx]; before != "" {
				staticLines = append(staticLines, before)
			}
			flushStatic()
			inDynamic = true
			remaining = remaining[idx+len(c.Open):]
			if remaining == "" {
				break
			}
		}
	}

	if inDynamic {
		flushDynamic()
	}
	flushStatic()

	for i := range segs {
		segs[i].ID = fmt.Sprintf("seg-%d", i)
	}
	return segs
}

// Serialize writes static content as plain lines and wraps each dynamic
// segment between an open line and a close line. Parse(Serialize(segs))
// reproduces segs for any Parse output.
func (c Codec) Serialize(segs []Segment) []string {
	var lines []string
	for _, seg := range segs {
		if seg.Kind == SegmentDynamic {
			lines = append(lines, c.Open)
			if seg.Content != "" {
				lines = append(lines, strings.Split(seg.Content, "\n")...)
			}
			lines = append(lines, c.Close)
			continue
		}
		lines = append(lines, strings.Split(seg.Content, "\n")...)
	}
	return lines
}
