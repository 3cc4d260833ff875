package security

import "testing"

// タグを含むテキストからHTMLが除去されることを検証
func TestTextSanitizer_StripsHTML(t *testing.T) {
	s := NewTextSanitizer()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "ペニシリンアレルギーあり", "ペニシリンアレルギーあり"},
		{"script removed", `<script>alert("x")</script>notes`, "notes"},
		{"tags stripped keeping text", "<b>O型</b> Rh+", "O型 Rh+"},
		{"img removed", `<img src="https://evil.example/x.png">`, ""},
		{"event handler removed", `<div onclick="x()">call 119</div>`, "call 119"},
		{"whitespace trimmed", "  asthma  ", "asthma"},
		{"empty input", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// 同一入力に対して常に同一出力を返す（冪等）ことを検証
func TestTextSanitizer_Idempotent(t *testing.T) {
	s := NewTextSanitizer()

	in := `<p>daily <em>insulin</em></p>`
	once := s.Sanitize(in)
	twice := s.Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize not idempotent: %q -> %q", once, twice)
	}
}
