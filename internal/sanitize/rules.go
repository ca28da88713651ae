package sanitize

import "regexp"

// Pattern tags reported on detection. Stable identifiers, used in audit
// events and tests; do not rename without migrating dashboards.
const (
	TagInstructionOverride = "instruction_override"
	TagRoleReassignment    = "role_reassignment"
	TagPromptExtraction    = "system_prompt_extraction"
	TagDelimiterSpoofing   = "delimiter_spoofing"
	TagCodeExecution       = "code_execution"
)

// rule pairs a compiled detector with its tag. The catalogue is ordered
// and data-driven so new detectors can be added without touching the
// pipeline.
type rule struct {
	tag     string
	pattern *regexp.Regexp
}

// injectionRules is the static detector catalogue, evaluated in order.
var injectionRules = []rule{
	{
		tag:     TagInstructionOverride,
		pattern: regexp.MustCompile(`(?i)(ignore|disregard|forget|override)\s+(all\s+|any\s+)?(previous|prior|above|earlier|your)\s+(instructions?|prompts?|rules?|guidelines?|context)`),
	},
	{
		tag:     TagInstructionOverride,
		pattern: regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	},
	{
		tag:     TagRoleReassignment,
		pattern: regexp.MustCompile(`(?i)you\s+are\s+(now|no\s+longer)\s+`),
	},
	{
		tag:     TagRoleReassignment,
		pattern: regexp.MustCompile(`(?i)(act|behave|respond)\s+as\s+(if\s+you|an?\s+|the\s+)`),
	},
	{
		tag:     TagRoleReassignment,
		pattern: regexp.MustCompile(`(?i)pretend\s+(to\s+be|you\s+are)`),
	},
	{
		tag:     TagPromptExtraction,
		pattern: regexp.MustCompile(`(?i)(reveal|show|print|repeat|display|output|leak)\s+(me\s+)?(your|the)\s+(system\s+|initial\s+|original\s+)?(prompt|instructions?|rules?)`),
	},
	{
		tag:     TagPromptExtraction,
		pattern: regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?(prompt|instructions)`),
	},
	{
		tag:     TagDelimiterSpoofing,
		pattern: regexp.MustCompile(`\[\[/?(INSTRUCTIONS|CONTEXT|QUESTION|SOURCE)`),
	},
	{
		tag:     TagDelimiterSpoofing,
		pattern: regexp.MustCompile(`(?im)^\s*(system|assistant)\s*:\s`),
	},
	{
		tag:     TagCodeExecution,
		pattern: regexp.MustCompile(`(?i)(execute|run|eval(uate)?)\s+(this\s+|the\s+following\s+)?(code|script|command|shell|python|sql)`),
	},
	{
		tag:     TagCodeExecution,
		pattern: regexp.MustCompile("(?i)```\\s*(sh|bash|shell)"),
	},
}

// detect runs the catalogue against text and returns the distinct tags
// that matched, in catalogue order.
func detect(text string) []string {
	var tags []string
	seen := make(map[string]bool, len(injectionRules))
	for _, r := range injectionRules {
		if seen[r.tag] {
			continue
		}
		if r.pattern.MatchString(text) {
			seen[r.tag] = true
			tags = append(tags, r.tag)
		}
	}
	return tags
}
