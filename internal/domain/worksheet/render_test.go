package worksheet

import (
	"errors"
	"testing"
)

func TestSanitizeStatic(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Patient stable.", "Patient stable."},
		{"escapes entities", "Na & K", "Na &amp; K"},
		{"newline becomes break", "line1\nline2", "line1<br/>line2"},
		{"crlf becomes break", "a\r\nb", "a<br/>b"},
		{"allowed tag passes", "<b>bold</b>", "<b>bold</b>"},
		{"uppercase tag lowered", "<B>x</B>", "<b>x</b>"},
		{"attributes dropped", `<span class="warn" id="x">t</span>`, "<span>t</span>"},
		{"self-closing allowed tag", "<p/>", "<p/>"},
		{"br normalized", "text<br>more", "text<br/>more"},
		{"closing br normalized", "a</br>b", "a<br/>b"},
		{"disallowed tag stripped", "<div>x</div>", "x"},
		{"script stripped keeps text", "<script>alert(1)</script>ok", "alert(1)ok"},
		{"empty tag stripped", "<>x", "x"},
		{"unterminated tag kept as text", "a <b", "a &lt;b"},
		{"list passes through", "<ul><li>one</li></ul>", "<ul><li>one</li></ul>"},
		{"mixed content", "Take <i>daily</i> & rest", "Take <i>daily</i> &amp; rest"},
		{"tag with whitespace name", "< b >x</ b >", "<b>x</b>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeStatic(tt.in); got != tt.want {
				t.Errorf("sanitizeStatic(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestErrorMarker(t *testing.T) {
	got := errorMarker(errors.New("undefined function: frobnicate"))
	want := "[[ERROR: undefined function: frobnicate]]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestErrorMarker_EscapesMessage(t *testing.T) {
	got := errorMarker(errors.New("bad token <%"))
	want := "[[ERROR: bad token &lt;%]]"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
