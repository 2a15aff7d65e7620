// internal/archive/markdown.go
package archive

import (
	"fmt"
	"strings"
)

// DiscussionMarkdown renders an archived discussion as a markdown document.
func DiscussionMarkdown(d *Discussion, transcript []Statement) string {
	var sb strings.Builder

	sb.WriteString("# Roundtable: ")
	sb.WriteString(d.Topic)
	sb.WriteString("\n\n---\n\n")

	fmt.Fprintf(&sb, "**Record ID:** `%s`\n\n", d.ID)
	fmt.Fprintf(&sb, "**Date:** %s\n\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Rounds:** %d\n\n", d.Rounds)
	fmt.Fprintf(&sb, "**Converged:** %s (score %.1f)\n\n", d.Reason, d.Score)
	if d.BestAgent != "" {
		fmt.Fprintf(&sb, "**Best proposal by:** %s\n\n", d.BestAgent)
	}
	sb.WriteString("---\n\n")

	if len(transcript) > 0 {
		sb.WriteString("## Transcript\n\n")
		writeStatements(&sb, transcript)
	}

	if d.Final != "" {
		sb.WriteString("## Final Proposal\n\n")
		sb.WriteString(strings.TrimSpace(d.Final))
		sb.WriteString("\n")
	}

	return sb.String()
}

// DebateMarkdown renders an archived debate as a markdown document.
func DebateMarkdown(d *Debate, transcript []Statement) string {
	var sb strings.Builder

	sb.WriteString("# Debate: ")
	sb.WriteString(d.Topic)
	sb.WriteString("\n\n---\n\n")

	fmt.Fprintf(&sb, "**Record ID:** `%s`\n\n", d.ID)
	fmt.Fprintf(&sb, "**Date:** %s\n\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "**Pro:** %s  \n**Con:** %s  \n**Judge:** %s\n\n", d.Pro, d.Con, d.Judge)
	if d.Winner != "" {
		fmt.Fprintf(&sb, "**Winner:** %s (pro %.1f / con %.1f)\n\n", d.Winner, d.ProTotal, d.ConTotal)
	} else {
		fmt.Fprintf(&sb, "**Winner:** undeclared (pro %.1f / con %.1f)\n\n", d.ProTotal, d.ConTotal)
	}
	sb.WriteString("---\n\n## Transcript\n\n")
	writeStatements(&sb, transcript)

	if d.Judgment != "" {
		sb.WriteString("## Judgment\n\n")
		sb.WriteString(strings.TrimSpace(d.Judgment))
		sb.WriteString("\n")
	}

	return sb.String()
}

func writeStatements(sb *strings.Builder, transcript []Statement) {
	for _, st := range transcript {
		header := st.Agent
		if st.Phase != "" {
			header = fmt.Sprintf("%s (%s", st.Agent, st.Phase)
			if st.Side != "" {
				header += ", " + st.Side
			}
			header += ")"
		}
		fmt.Fprintf(sb, "### %s\n\n", header)

		content := strings.TrimSpace(st.Content)
		if strings.Contains(content, "```") {
			sb.WriteString(content)
		} else {
			for _, line := range strings.Split(content, "\n") {
				sb.WriteString("> ")
				sb.WriteString(line)
				sb.WriteString("\n")
			}
		}
		sb.WriteString("\n")
	}
}
