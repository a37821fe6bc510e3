package telegram

import (
	"strings"
	"testing"
)

func TestEscapeMarkdown(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"hi", "hi"},
		{"", ""},
		{"a.b", `a\.b`},
		{"v1.2-rc!", `v1\.2\-rc\!`},
		{"[link](http://x)", `\[link\]\(http://x\)`},
		{"ünï_cødé", `ünï\_cødé`},
	}
	for _, tc := range cases {
		if got := EscapeMarkdown(tc.in); got != tc.want {
			t.Errorf("EscapeMarkdown(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestEscapeMarkdownPrefixesEveryReservedOnce(t *testing.T) {
	in := "plain " + markdownReserved + " tail"
	out := EscapeMarkdown(in)

	// Removing one backslash before each reserved char restores the input.
	var b strings.Builder
	rs := []rune(out)
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\\' && i+1 < len(rs) && strings.ContainsRune(markdownReserved, rs[i+1]) {
			continue
		}
		b.WriteRune(rs[i])
	}
	if b.String() != in {
		t.Fatalf("unescape(%q) = %q, want %q", out, b.String(), in)
	}
	if got, want := strings.Count(out, `\`), len(markdownReserved); got != want {
		t.Fatalf("backslashes = %d, want %d", got, want)
	}
}

func TestEntityTextUTF16(t *testing.T) {
	// The emoji is two UTF-16 code units.
	m := &Message{Text: "😀 /pause now"}
	got, ok := m.EntityText(Entity{Kind: KindBotCommand, Offset: 3, Length: 6})
	if !ok || got != "/pause" {
		t.Fatalf("EntityText = %q, %v", got, ok)
	}
	if _, ok := m.EntityText(Entity{Offset: 10, Length: 20}); ok {
		t.Fatal("expected out-of-range span to fail")
	}
}
