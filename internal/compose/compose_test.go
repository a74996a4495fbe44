package compose

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestInsertHashtags(t *testing.T) {
	t.Parallel()
	c := New(Config{Hashtags: []string{"psilocybin", "harm reduction", "mdma", "trip", "5-meo-dmt"}})

	cases := []struct {
		in, want string
	}{
		{"Psilocybin for depression", "#Psilocybin for depression"},
		{"A review of harm reduction services", "A review of #harmreduction services"},
		{"MDMA and psilocybin", "#MDMA and #psilocybin"},
		{"Stripes are not tagged", "Stripes are not tagged"},
		{"Tripping report", "#Tripping report"},
		{"5-MeO-DMT pharmacology", "#5-MeO-DMT pharmacology"},
		{"already #psilocybin", "already #psilocybin"},
		{"nothing here", "nothing here"},
	}
	for _, tc := range cases {
		if got := c.InsertHashtags(tc.in); got != tc.want {
			t.Errorf("InsertHashtags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestShorten(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is too long", 7, "this is..."},
		{"ünïcödé text", 5, "ünïcö..."},
		{"anything", 0, "anything"},
	}
	for _, tc := range cases {
		got := Shorten(tc.in, tc.max)
		if got != tc.want {
			t.Errorf("Shorten(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Shorten(%q) produced invalid utf-8", tc.in)
		}
	}
}

func TestMessage(t *testing.T) {
	t.Parallel()
	c := New(Config{Hashtags: []string{"ketamine"}, MaxLength: 20, Separator: " | "})

	got := c.Message("Ketamine in treatment-resistant depression", "https://example.org/1")
	want := "#Ketamine in treatme... | https://example.org/1"
	if got != want {
		t.Fatalf("Message = %q, want %q", got, want)
	}
	if got := c.Message("no link", " "); got != "no link" {
		t.Fatalf("Message without link = %q", got)
	}
}

func TestMessageDefaults(t *testing.T) {
	t.Parallel()
	c := New(Config{})
	title := strings.Repeat("a", 300)
	got := c.Message(title, "https://x")
	if !strings.HasPrefix(got, strings.Repeat("a", DefaultMaxLength)+"... ") {
		t.Fatalf("default shortening not applied: %q", got[:40])
	}
	if !strings.HasSuffix(got, " https://x") {
		t.Fatalf("default separator not applied: %q", got)
	}
}
