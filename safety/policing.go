package safety

import (
	"regexp"
	"time"
)

// Replacement records one rewrite applied to the generated answer, with
// byte offsets into the ORIGINAL text (not the progressively-rewritten
// one), so callers can highlight exactly what changed.
type Replacement struct {
	Original    string
	Replacement string
	Start       int
	End         int
	RuleID      string
}

// SanitizationResult is the post-LLM policing outcome.
type SanitizationResult struct {
	SanitizedText      string
	ReplacementsMade   []Replacement
	SanitizationTimeMs float64
	LLMPolicingApplied bool // always false: policing here is regex-only
}

type policingRule struct {
	id      string
	pattern *regexp.Regexp
	replace string
}

// policingRules is the deterministic rewrite table from spec §4.12.
// Case-insensitive, punctuation-preserving: each pattern matches only the
// phrase itself, leaving surrounding text (and punctuation) untouched.
var policingRules = []policingRule{
	{"violated_section", regexp.MustCompile(`(?i)violated\s+(Section\s+\S+)`), "affected by $1"},
	{"violated_agreement", regexp.MustCompile(`(?i)violated\s+the\s+agreement`), "regarding the agreement terms"},
	{"defendant_guilty", regexp.MustCompile(`(?i)defendant\s+is\s+guilty`), "defendant's liability regarding"},
	{"is_entitled", regexp.MustCompile(`(?i)is\s+entitled`), "potential entitlement"},
	{"will_rule", regexp.MustCompile(`(?i)will\s+rule`), "may consider"},
	{"will_decide", regexp.MustCompile(`(?i)will\s+decide`), "may consider"},
	{"will_grant", regexp.MustCompile(`(?i)will\s+grant`), "may"},
	{"conclusively_proves", regexp.MustCompile(`(?i)conclusively\s+proves`), "may suggest"},
	{"proves_that", regexp.MustCompile(`(?i)proves\s+that`), "suggests that"},
	{"establishes_that", regexp.MustCompile(`(?i)establishes\s+that`), "indicates that"},
	{"clearly_shows", regexp.MustCompile(`(?i)clearly\s+shows`), "appears to show"},
	{"is_liable_for", regexp.MustCompile(`(?i)is\s+liable\s+for`), "regarding potential liability for"},
	{"is_responsible_for", regexp.MustCompile(`(?i)is\s+responsible\s+for`), "regarding potential responsibility for"},
	{"must_pay", regexp.MustCompile(`(?i)must\s+pay`), "may be required to pay"},
	{"in_breach_of", regexp.MustCompile(`(?i)in\s+breach\s+of`), "regarding compliance with"},
}

// quotePairs delimits literal quoted passages that must survive policing
// verbatim. The original's quote detection is shallow (per §9 open
// questions); here "quoted passage" is finalized as any span between a
// matching pair of straight or typographic double quotes.
var quoteSpan = regexp.MustCompile(`["“][^"”]*["”]`)

// Sanitize applies the policing rewrite table to text, skipping any byte
// range that falls inside a quoted passage. Idempotent: running Sanitize
// on an already-sanitized string makes no further replacements, since
// none of the rewritten phrases match any rule's pattern.
func Sanitize(text string) SanitizationResult {
	start := time.Now()

	protected := protectedRanges(text)

	var replacements []Replacement
	out := text

	// Apply rules against the ORIGINAL text to compute offsets, then
	// rebuild the output left-to-right so multiple rules can fire on
	// disjoint spans without offset drift.
	type hit struct {
		start, end int
		rule       policingRule
		groups     []int
	}
	var hits []hit
	for _, rule := range policingRules {
		for _, m := range rule.pattern.FindAllSubmatchIndex([]byte(text), -1) {
			if inProtected(protected, m[0], m[1]) {
				continue
			}
			hits = append(hits, hit{start: m[0], end: m[1], rule: rule, groups: m})
		}
	}

	// Sort hits by start offset so rebuilding is a single left-to-right pass.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j-1].start > hits[j].start; j-- {
			hits[j-1], hits[j] = hits[j], hits[j-1]
		}
	}

	var b []byte
	cursor := 0
	for _, h := range hits {
		if h.start < cursor {
			continue // overlapping match already consumed
		}
		b = append(b, text[cursor:h.start]...)
		expanded := h.rule.pattern.ExpandString(nil, h.rule.replace, text, h.groups)
		b = append(b, expanded...)
		replacements = append(replacements, Replacement{
			Original:    text[h.start:h.end],
			Replacement: string(expanded),
			Start:       h.start,
			End:         h.end,
			RuleID:      h.rule.id,
		})
		cursor = h.end
	}
	b = append(b, text[cursor:]...)
	out = string(b)

	return SanitizationResult{
		SanitizedText:      out,
		ReplacementsMade:   replacements,
		SanitizationTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
		LLMPolicingApplied: false,
	}
}

func protectedRanges(text string) [][2]int {
	var ranges [][2]int
	for _, m := range quoteSpan.FindAllStringIndex(text, -1) {
		ranges = append(ranges, [2]int{m[0], m[1]})
	}
	return ranges
}

func inProtected(ranges [][2]int, start, end int) bool {
	for _, r := range ranges {
		if start >= r[0] && end <= r[1] {
			return true
		}
	}
	return false
}
