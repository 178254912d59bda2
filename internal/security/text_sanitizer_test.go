package security

import "testing"

func TestSanitizeText(t *testing.T) {
	sanitizer := NewTextSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンテキストはそのまま", input: "Two Sum", want: "Two Sum"},
		{name: "前後の空白を除去", input: "  Two Sum \n", want: "Two Sum"},
		{name: "タグを除去", input: "<b>Two</b> <i>Sum</i>", want: "Two Sum"},
		{name: "scriptは中身ごと除去", input: "<script>alert(1)</script>Valid Parentheses", want: "Valid Parentheses"},
		{name: "イベント属性付きimgを除去", input: `<img src=x onerror="alert(1)">Reverse List`, want: "Reverse List"},
		{name: "アンパサンドは元の文字で保持", input: "Stack & Queue", want: "Stack & Queue"},
		{name: "空白のみは空文字列", input: "   ", want: ""},
		{name: "タグのみは空文字列", input: "<p></p>", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.SanitizeText(tt.input); got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_Idempotent は同一入力に対する再適用で結果が変わらないことを検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	sanitizer := NewTextSanitizer()

	inputs := []string{"Two Sum", "<b>Merge</b> Intervals", "A & B"}
	for _, in := range inputs {
		once := sanitizer.SanitizeText(in)
		twice := sanitizer.SanitizeText(once)
		if once != twice {
			t.Errorf("not idempotent for %q: %q -> %q", in, once, twice)
		}
	}
}

func TestTextSanitizer_ImplementsInterface(t *testing.T) {
	var _ TextSanitizer = NewTextSanitizer()
}
