package markup

import (
	"strings"
	"testing"
)

func TestExtractFileWrites(t *testing.T) {
	text := `Here is the plan.
<WRITE_FILE path="docs/plan.md">step one
step two</WRITE_FILE>
And a config:
<WRITE_FILE path='app.yaml'>key: value</WRITE_FILE>`

	display, writes := ExtractFileWrites(text)

	if len(writes) != 2 {
		t.Fatalf("writes = %d", len(writes))
	}
	if writes[0].Path != "docs/plan.md" || writes[0].Content != "step one\nstep two" {
		t.Errorf("first write = %+v", writes[0])
	}
	if writes[1].Path != "app.yaml" || writes[1].Content != "key: value" {
		t.Errorf("second write = %+v", writes[1])
	}
	if strings.Contains(display, "<WRITE_FILE") {
		t.Error("display text still contains raw blocks")
	}
	if !strings.Contains(display, "[file write request: docs/plan.md]") {
		t.Errorf("placeholder missing: %q", display)
	}
}

func TestExtractFileWritesNone(t *testing.T) {
	display, writes := ExtractFileWrites("plain response")
	if display != "plain response" || len(writes) != 0 {
		t.Errorf("got %q, %d writes", display, len(writes))
	}
}

func TestExtractVote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"tag", "analysis...\n<VOTE>approve option B</VOTE>", "approve option B"},
		{"tag case insensitive", "<vote>yes</vote>", "yes"},
		{"agree keyword line", "Looks solid.\nI agree with the proposal.", "I agree with the proposal."},
		{"lgtm", "lgtm overall", "lgtm overall"},
		{"disagree keyword", "I must disagree here", "disagree"},
		{"no position", "interesting question", "pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractVote(tt.in); got != tt.want {
				t.Errorf("ExtractVote = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractScore(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"<SCORE>85</SCORE>", 85, true},
		{"<score> 42 </score>", 42, true},
		{"<SCORE>150</SCORE>", 100, true},
		{"no tag here", 0, false},
		{"<SCORE>abc</SCORE>", 0, false},
	}
	for _, tt := range tests {
		got, ok := ExtractScore(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ExtractScore(%q) = (%d, %v), want (%d, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFindScoreNear(t *testing.T) {
	text := "Claude's proposal: solid work. <SCORE>88</SCORE>\n" +
		"Codex's proposal: " + strings.Repeat("padding ", 40) + "<SCORE>70</SCORE>"

	if got, ok := FindScoreNear(text, "Claude"); !ok || got != 88 {
		t.Errorf("Claude score = (%d, %v)", got, ok)
	}
	// Codex's score tag sits beyond the window from the Codex label, so the
	// known-approximate parser reports no score rather than cross-matching.
	if _, ok := FindScoreNear(text, "Codex"); ok {
		t.Error("score outside window should not match")
	}
	if _, ok := FindScoreNear(text, "Gemini"); ok {
		t.Error("absent label should not match")
	}
}

func TestFindScoreNearPicksFollowingTag(t *testing.T) {
	text := "<SCORE>10</SCORE> review of Gemini: good <SCORE>90</SCORE>"
	if got, ok := FindScoreNear(text, "Gemini"); !ok || got != 90 {
		t.Errorf("got (%d, %v), want the tag after the label", got, ok)
	}
}

func TestExtractWinner(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Winner
	}{
		{"pro", "verdict: <WINNER>Pro side</WINNER>", WinnerPro},
		{"con", "<WINNER>the con team takes it</WINNER>", WinnerCon},
		{"tie", "<WINNER>draw</WINNER>", WinnerTie},
		{"absent tag stays unset", "pro clearly dominated the debate", WinnerUnset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractWinner(tt.in, "pro", "con"); got != tt.want {
				t.Errorf("ExtractWinner = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	tests := []struct{ in, want int }{
		{-5, 0}, {0, 0}, {50, 50}, {100, 100}, {300, 100},
	}
	for _, tt := range tests {
		if got := Clamp(tt.in); got != tt.want {
			t.Errorf("Clamp(%d) = %d", tt.in, got)
		}
	}
}
