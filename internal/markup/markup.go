// internal/markup/markup.go
package markup

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Patterns for the in-band sub-protocols embedded in agent free text
var (
	writeFilePattern = regexp.MustCompile(`(?s)<WRITE_FILE path=['"](.*?)['"]>(.*?)</WRITE_FILE>`)
	votePattern      = regexp.MustCompile(`(?is)<VOTE>\s*(.*?)\s*</VOTE>`)
	scorePattern     = regexp.MustCompile(`(?i)<SCORE>\s*(\d+)\s*</SCORE>`)
	winnerPattern    = regexp.MustCompile(`(?is)<WINNER>\s*(.+?)\s*</WINNER>`)

	// Fallback keywords for implicit votes when the tag is absent
	agreeKeywords    = []string{"同意", "agree", "lgtm", "赞成"}
	disagreeKeywords = []string{"反对", "disagree", "reject"}
)

// ScoreWindow bounds how far after an agent-name mention a score tag is
// still attributed to that agent. Heuristic; see FindScoreNear.
const ScoreWindow = 200

// FileWrite is one extracted write request.
type FileWrite struct {
	Path    string
	Content string
}

// ExtractFileWrites pulls all WRITE_FILE blocks out of text, returning the
// display text with inline placeholders plus the extracted pairs.
func ExtractFileWrites(text string) (string, []FileWrite) {
	var writes []FileWrite
	for _, m := range writeFilePattern.FindAllStringSubmatch(text, -1) {
		writes = append(writes, FileWrite{
			Path:    m[1],
			Content: strings.TrimSpace(m[2]),
		})
	}

	display := writeFilePattern.ReplaceAllStringFunc(text, func(block string) string {
		m := writeFilePattern.FindStringSubmatch(block)
		return fmt.Sprintf("[file write request: %s]", m[1])
	})

	return display, writes
}

// ExtractVote returns the vote text from a VOTE tag, falling back to
// agreement/disagreement keyword heuristics. "pending" means no position
// was detected.
func ExtractVote(text string) string {
	if m := votePattern.FindStringSubmatch(text); m != nil {
		return m[1]
	}

	// Disagreement first: "disagree" would otherwise match the "agree"
	// substring check.
	lower := strings.ToLower(text)
	for _, kw := range disagreeKeywords {
		if strings.Contains(lower, kw) {
			return "disagree"
		}
	}
	for _, kw := range agreeKeywords {
		if strings.Contains(lower, kw) {
			// Prefer the full line carrying the agreement.
			for _, line := range strings.Split(text, "\n") {
				if strings.Contains(strings.ToLower(line), kw) {
					return strings.TrimSpace(line)
				}
			}
			return "agree"
		}
	}

	return "pending"
}

// ExtractScore returns the first score tag in text, clamped to [0,100].
func ExtractScore(text string) (int, bool) {
	m := scorePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return Clamp(n), true
}

// FindScoreNear locates the nearest score tag following label, within
// ScoreWindow characters of the label's end. The window is a tie-break
// heuristic against cross-matching an unrelated later score; it is not a
// strict grammar.
func FindScoreNear(text, label string) (int, bool) {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(label))
	if idx < 0 {
		return 0, false
	}

	start := idx + len(label)
	end := start + ScoreWindow
	if end > len(text) {
		end = len(text)
	}
	return ExtractScore(text[start:end])
}

// Winner is a parsed winner declaration.
type Winner int

const (
	WinnerUnset Winner = iota
	WinnerPro
	WinnerCon
	WinnerTie
)

func (w Winner) String() string {
	switch w {
	case WinnerPro:
		return "pro"
	case WinnerCon:
		return "con"
	case WinnerTie:
		return "tie"
	default:
		return "unset"
	}
}

// ExtractWinner parses a WINNER tag, mapping its content to a side by
// substring containment. An absent tag yields WinnerUnset; callers must not
// infer a winner from score totals in that case.
func ExtractWinner(text, proLabel, conLabel string) Winner {
	m := winnerPattern.FindStringSubmatch(text)
	if m == nil {
		return WinnerUnset
	}

	content := strings.ToLower(m[1])
	if strings.Contains(content, strings.ToLower(proLabel)) {
		return WinnerPro
	}
	if strings.Contains(content, strings.ToLower(conLabel)) {
		return WinnerCon
	}
	return WinnerTie
}

// Clamp limits a score to [0,100].
func Clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
