package search

import (
	"regexp"
	"strings"
)

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

// SplitParagraphs splits text on blank lines and drops empty chunks.
func SplitParagraphs(text string) []string {
	chunks := paraSplitRE.Split(text, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// FlattenMarkdown turns every Markdown table row into a standalone paragraph
// ("| Plan | Price |" becomes "Plan Price") and drops separator rows. Other
// lines keep their paragraph grouping. Text without tables is returned as is.
func FlattenMarkdown(text string) string {
	if !strings.Contains(text, "|") {
		return text
	}
	var b strings.Builder
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if !isTableRow(line) {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		cells := make([]string, 0, 4)
		separator := true
		for _, c := range strings.Split(strings.Trim(line, "|"), "|") {
			cell := strings.TrimSpace(c)
			if strings.Trim(cell, ":- ") != "" {
				separator = false
			}
			if cell != "" {
				cells = append(cells, cell)
			}
		}
		if separator || len(cells) == 0 {
			continue
		}
		b.WriteString("\n" + strings.Join(cells, " ") + "\n\n")
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}

func isTableRow(line string) bool {
	return len(line) > 1 && strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|")
}
