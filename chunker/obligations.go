package chunker

import (
	"regexp"
	"strings"
)

// ---------------------------------------------------------------------------
// Obligation detection
// ---------------------------------------------------------------------------

// obligationPattern matches normative obligation keywords — the shall/must
// language that turns a clause from narrative into a binding commitment.
var obligationPattern = regexp.MustCompile(
	`(?i)\b(SHALL\s+NOT|MUST\s+NOT|SHALL|MUST|SHOULD\s+NOT|SHOULD|REQUIRED|RECOMMENDED|MAY|OPTIONAL)\b`,
)

// Obligation holds a detected normative statement within a clause.
type Obligation struct {
	Text       string // The full sentence or clause containing the keyword.
	Keyword    string // The matched keyword (e.g. "SHALL", "MUST NOT").
	Level      string // "mandatory", "recommended", or "optional".
	LineNumber int    // Zero-based line index within the input text.
}

// DetectObligations scans text line by line and returns every line
// that contains a normative obligation keyword.
func DetectObligations(text string) []Obligation {
	lines := strings.Split(text, "\n")
	var obs []Obligation

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		matches := obligationPattern.FindAllString(trimmed, -1)
		if len(matches) == 0 {
			continue
		}
		// Use the first (leftmost) keyword found on the line.
		kw := strings.ToUpper(matches[0])
		obs = append(obs, Obligation{
			Text:       trimmed,
			Keyword:    kw,
			Level:      obligationLevel(kw),
			LineNumber: i,
		})
	}
	return obs
}

// IsObligation reports whether text contains at least one normative
// obligation keyword.
func IsObligation(text string) bool {
	return obligationPattern.MatchString(text)
}

// obligationLevel maps a keyword to its normative level.
func obligationLevel(keyword string) string {
	switch strings.ToUpper(strings.TrimSpace(keyword)) {
	case "SHALL", "SHALL NOT", "MUST", "MUST NOT", "REQUIRED":
		return "mandatory"
	case "SHOULD", "SHOULD NOT", "RECOMMENDED":
		return "recommended"
	case "MAY", "OPTIONAL":
		return "optional"
	default:
		return "mandatory"
	}
}

// ---------------------------------------------------------------------------
// Table preservation
// ---------------------------------------------------------------------------

// TableChunk holds a detected table block and its surrounding context.
type TableChunk struct {
	Content    string // The full table text, preserved as-is.
	StartLine  int    // Zero-based line index where the table begins.
	EndLine    int    // Zero-based line index where the table ends (exclusive).
	HasHeaders bool   // Whether a header separator row was detected.
}

// DetectTables scans text and identifies contiguous blocks that appear
// to be tabular data — pricing schedules, damages calculations, a cap
// table pasted into the body of an exhibit. Tables are preserved as
// atomic units so the chunker does not split a row across chunk
// boundaries.
func DetectTables(text string) []TableChunk {
	lines := strings.Split(text, "\n")
	var tables []TableChunk

	i := 0
	for i < len(lines) {
		// Look for the start of a table.
		if isTableLine(lines[i]) {
			start := i
			hasHeaders := false
			for i < len(lines) && isTableLine(lines[i]) {
				if isHeaderSeparator(lines[i]) {
					hasHeaders = true
				}
				i++
			}
			// Require at least 2 table-like lines.
			if i-start >= 2 {
				content := strings.Join(lines[start:i], "\n")
				tables = append(tables, TableChunk{
					Content:    content,
					StartLine:  start,
					EndLine:    i,
					HasHeaders: hasHeaders,
				})
			}
			continue
		}
		i++
	}
	return tables
}

// PreserveTableChunks examines text and returns a list of text
// fragments where tables are kept as single atomic pieces and the
// remaining prose is split normally. The returned fragments are in
// document order.
func PreserveTableChunks(text string) []string {
	tables := DetectTables(text)
	if len(tables) == 0 {
		return []string{text}
	}

	lines := strings.Split(text, "\n")
	var fragments []string
	cursor := 0

	for _, tbl := range tables {
		// Prose before this table.
		if cursor < tbl.StartLine {
			prose := strings.TrimSpace(strings.Join(lines[cursor:tbl.StartLine], "\n"))
			if prose != "" {
				fragments = append(fragments, prose)
			}
		}
		// The table itself (atomic).
		fragments = append(fragments, tbl.Content)
		cursor = tbl.EndLine
	}

	// Remaining prose after the last table.
	if cursor < len(lines) {
		prose := strings.TrimSpace(strings.Join(lines[cursor:], "\n"))
		if prose != "" {
			fragments = append(fragments, prose)
		}
	}

	return fragments
}

// ---------------------------------------------------------------------------
// Table detection helpers
// ---------------------------------------------------------------------------

// isTableLine reports whether a line looks like part of a table.
func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	// Markdown-style pipe tables.
	if strings.Contains(trimmed, "|") {
		return true
	}
	// Tab-delimited columns (at least two tabs).
	if strings.Count(trimmed, "\t") >= 2 {
		return true
	}
	// Separator rows.
	if isHeaderSeparator(trimmed) {
		return true
	}
	return false
}

// isHeaderSeparator detects markdown-style header separators like
// "|---|---|" or "------".
func isHeaderSeparator(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	// Remove pipe characters and spaces, see if the rest is all dashes.
	cleaned := strings.ReplaceAll(trimmed, "|", "")
	cleaned = strings.ReplaceAll(cleaned, " ", "")
	cleaned = strings.ReplaceAll(cleaned, ":", "") // alignment markers
	if len(cleaned) < 3 {
		return false
	}
	for _, r := range cleaned {
		if r != '-' {
			return false
		}
	}
	return true
}
