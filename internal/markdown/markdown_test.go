package markdown

import "testing"

func TestEscapeV2(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "plain text", want: "plain text"},
		{in: "0xab_c.d", want: `0xab\_c\.d`},
		{in: "a-b (c)!", want: `a\-b \(c\)\!`},
		{in: `back\slash`, want: `back\\slash`},
		{in: "", want: ""},
	}

	for _, tt := range tests {
		if got := EscapeV2(tt.in); got != tt.want {
			t.Fatalf("EscapeV2(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCodeEscapesOnlyReservedChars(t *testing.T) {
	got := Code("0xab_c.d`e\\f")
	want := "`0xab_c.d\\`e\\\\f`"

	if got != want {
		t.Fatalf("Code() = %q, want %q", got, want)
	}
}
