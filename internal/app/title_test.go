package app

import "testing"

func TestFallbackTitle(t *testing.T) {
	cases := []struct {
		name     string
		question string
		want     string
	}{
		{"plain", "Odev nasil teslim edilir?", "Odev nasil teslim edilir"},
		{"first line only", "Notlarim nerede\nikinci satir", "Notlarim nerede"},
		{"quotes stripped", `"Sinav takvimi" nedir.`, "Sinav takvimi nedir"},
		{"empty falls back", "   ", "Sohbet"},
		{"punctuation only", "...", "Sohbet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := fallbackTitle(tc.question); got != tc.want {
				t.Fatalf("fallbackTitle(%q) = %q, want %q", tc.question, got, tc.want)
			}
		})
	}
}

func TestFallbackTitleTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 30; i++ {
		long += "kelime "
	}
	got := fallbackTitle(long)
	if len([]rune(got)) > 60 {
		t.Fatalf("title too long: %d runes", len([]rune(got)))
	}
}

func TestMakePreview(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Kisa cevap", "Kisa cevap"},
		{"html stripped", "<b>Odevler</b> sekmesi", "Odevler sekmesi"},
		{"bold markers stripped", "**Onemli** not", "Onemli not"},
		{"code stripped", "Komut `go run` ile baslar", "Komut ile baslar"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := makePreview(tc.in, 120); got != tc.want {
				t.Fatalf("makePreview(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestMakePreviewCutsOnWordBoundary(t *testing.T) {
	long := ""
	for i := 0; i < 40; i++ {
		long += "sozcuk "
	}
	got := makePreview(long, 100)
	if len([]rune(got)) > 104 {
		t.Fatalf("preview too long: %q", got)
	}
	if got[len(got)-3:] != "..." {
		t.Fatalf("expected ellipsis suffix, got %q", got)
	}
	if got[len(got)-4] == ' ' {
		t.Fatalf("trailing space before ellipsis: %q", got)
	}
}
