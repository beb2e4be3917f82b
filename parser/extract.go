package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"inquest/schema"
)

// Deterministic extraction rules shared by the correction pass and the
// fallback parser. Each rule reads the raw question only and never mutates
// shared state, so rules are independently testable.

var (
	fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*\\n(.*?)\\n```")
	bareObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

	incidentIDRe      = regexp.MustCompile(`(\d{3}-\d{6}|\d{6,9}(?:-\d+)?)`)
	incidentKeywordRe = regexp.MustCompile(`(?i)incident|case|investigat|analy[sz]|detail|report|search|find|show|look\s*up|list|hash`)

	ipv4Re   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	hashRe   = regexp.MustCompile(`(?i)\b[a-f0-9]{32}\b|\b[a-f0-9]{64}\b`)
	domainRe = regexp.MustCompile(`(?i)\b[a-z0-9][a-z0-9-]*\.(?:com|net|org|io|ru|cn|xyz|top|info|biz|onion)\b`)

	listKeywordRe   = regexp.MustCompile(`(?i)\blist\b|show\s+me|display|enumerate`)
	reportKeywordRe = regexp.MustCompile(`(?i)\breport\b|analy[sz]e|analysis|summary\s+report|comprehensive`)
	statusKeywordRe = regexp.MustCompile(`(?i)\bstatus\b|\boverview\b|current\s+state|situation|summar`)
	chartKeywordRe  = regexp.MustCompile(`(?i)\bchart\b|\bgraph\b|\btrend\b|over\s+time|visuali[sz]`)
	statsKeywordRe  = regexp.MustCompile(`(?i)statistics|\bcount\b|how\s+many|distribution|breakdown`)
	corrKeywordRe   = regexp.MustCompile(`(?i)correlat|related\s+to|cross[- ]reference|join`)

	limitPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\btop\s+(\d+)\b`),
		regexp.MustCompile(`(?i)\b(?:latest|recent|last|first)\s+(\d+)\b`),
		regexp.MustCompile(`(?i)\b(\d+)\s+(?:results|records|entries|items|rows)\b`),
		regexp.MustCompile(`(?i)\bshow\s+(?:me\s+)?(\d+)\b`),
		regexp.MustCompile(`(?i)\blimit\s+(\d+)\b`),
	}

	severityAboveRe = regexp.MustCompile(`(?i)high\s+(?:and|or)\s+(?:above|higher)|high\s*\+|at\s+least\s+high`)
	processExeRe    = regexp.MustCompile(`(?i)\b([a-z0-9_-]+\.exe)\b`)
	processCtxRe    = regexp.MustCompile(`(?i)execut|event|process|trend|analy[sz]|investigat`)
	categoryCtxRe   = regexp.MustCompile(`(?i)categor|classif|type|related`)
)

// wellKnownProcesses are bare process names recognized without an .exe suffix.
var wellKnownProcesses = []string{
	"powershell", "cmd", "wps", "msedge", "chrome", "explorer", "schtasks", "runonce",
}

// wideIDRange is the interval used for unique-identifier and IOC lookups.
// Identifiers are unique across all retained data, so the window spans the
// full retention period rather than a recent slice.
func wideIDRange() schema.TimeRange {
	return schema.TimeRange{
		Start: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2025, time.December, 31, 23, 59, 59, 999e6, time.UTC),
	}
}

// extractJSON pulls a JSON object out of a model response. Fenced code block
// first, then the first bare object, then the whole text.
func extractJSON(text string) (map[string]any, error) {
	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		var out map[string]any
		if err := json.Unmarshal([]byte(m[1]), &out); err == nil {
			return out, nil
		}
	}
	if m := bareObjectRe.FindString(text); m != "" {
		var out map[string]any
		if err := json.Unmarshal([]byte(m), &out); err == nil {
			return out, nil
		}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil {
		return out, nil
	}
	return nil, fmt.Errorf("no JSON object in model response: %.200q", text)
}

// detectIncidentID finds a 6-9 digit (optionally hyphenated) identifier
// co-occurring with an investigation keyword.
func detectIncidentID(query string) (string, bool) {
	id := incidentIDRe.FindString(query)
	if id == "" || !incidentKeywordRe.MatchString(query) {
		return "", false
	}
	return id, true
}

// detectIOC reports whether the question embeds an IP, hash or domain
// literal, and classifies the first one found.
func detectIOC(query string) (string, schema.IOCType, bool) {
	if v := ipv4Re.FindString(query); v != "" {
		return v, schema.IOCTypeIP, true
	}
	if v := hashRe.FindString(query); v != "" {
		return strings.ToLower(v), schema.IOCTypeHash, true
	}
	if v := domainRe.FindString(query); v != "" {
		return strings.ToLower(v), schema.IOCTypeDomain, true
	}
	return "", "", false
}

// extractLimit finds an explicit result-count request, clamped to the
// backend window.
func extractLimit(query string) (int, bool) {
	for _, re := range limitPatterns {
		if m := re.FindStringSubmatch(query); m != nil {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if n < 1 {
				n = 1
			}
			if n > schema.MaxLimit {
				n = schema.MaxLimit
			}
			return n, true
		}
	}
	return 0, false
}

// detectSeverity extracts severity constraints. "high and above" escalates
// to both high and critical.
func detectSeverity(query string) []schema.Severity {
	lower := strings.ToLower(query)
	if severityAboveRe.MatchString(query) {
		return []schema.Severity{schema.SeverityHigh, schema.SeverityCritical}
	}
	var out []schema.Severity
	for _, s := range []schema.Severity{schema.SeverityCritical, schema.SeverityHigh, schema.SeverityMedium, schema.SeverityLow} {
		if strings.Contains(lower, string(s)) {
			out = append(out, s)
		}
	}
	return out
}

// threatTaxonomy maps a trigger pattern to the keyword expansion pushed into
// the threat_keywords custom filter. MITRE technique codes expand to their
// names so free-text fields match too.
type threatRule struct {
	trigger  *regexp.Regexp
	keywords []string
}

var threatTaxonomy = []threatRule{
	{regexp.MustCompile(`(?i)\bT1486\b|ransomware|ransom\b|data\s+encrypt`), []string{"ransomware", "T1486", "Data Encrypted for Impact"}},
	{regexp.MustCompile(`(?i)\bT1566\b|phishing|spear\s*phish`), []string{"phishing", "T1566"}},
	{regexp.MustCompile(`(?i)\bT1021\b|lateral\s+movement|network\s+propagation`), []string{"lateral movement", "T1021", "Remote Services"}},
	{regexp.MustCompile(`(?i)\bT1190\b|\bexploit\b|CVE-\d{4}-\d+|vulnerability\s+exploit`), []string{"exploit", "T1190", "Exploit Public-Facing Application"}},
	{regexp.MustCompile(`(?i)\bT1068\b|privilege\s+escalation|elevation\s+of\s+privilege`), []string{"privilege escalation", "T1068"}},
	{regexp.MustCompile(`(?i)\bT1055\b|process\s+injection|code\s+injection`), []string{"process injection", "T1055"}},
	{regexp.MustCompile(`(?i)\bT104[18]\b|exfiltration|data\s+theft`), []string{"exfiltration", "T1041"}},
	{regexp.MustCompile(`(?i)\bT1059\b|command\s+execution|scripting\s+interpreter`), []string{"command execution", "T1059", "Command and Scripting Interpreter"}},
	{regexp.MustCompile(`(?i)\bT1218\b|lolbin|signed\s+binary\s+proxy`), []string{"lolbin", "T1218", "Signed Binary Proxy Execution"}},
	{regexp.MustCompile(`(?i)\bTA0011\b|command\s+and\s+control|\bC2\b|\bC&C\b`), []string{"command and control", "TA0011"}},
	{regexp.MustCompile(`(?i)\bAPT\b|advanced\s+persistent\s+threat`), []string{"APT", "advanced threat"}},
	{regexp.MustCompile(`(?i)malware|malicious\s+(?:code|program)|\bvirus\b|trojan|backdoor`), []string{"malware"}},
}

// detectThreatKeywords expands threat phrases and MITRE codes into the
// search-keyword list, deduplicated, first hit first.
func detectThreatKeywords(query string) []string {
	var out []string
	seen := map[string]bool{}
	ransomware := false
	for _, rule := range threatTaxonomy {
		if !rule.trigger.MatchString(query) {
			continue
		}
		// Generic malware adds nothing when a specific ransomware match
		// already covers it.
		if rule.keywords[0] == "malware" && ransomware {
			continue
		}
		if rule.keywords[0] == "ransomware" {
			ransomware = true
		}
		for _, kw := range rule.keywords {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}

// alertCategories are checked most-specific first; only one wins.
var alertCategories = []struct {
	trigger  *regexp.Regexp
	needsCtx bool
	category string
}{
	{regexp.MustCompile(`(?i)defense\s+evasion|detection\s+evasion`), false, "Defense Evasion"},
	{regexp.MustCompile(`(?i)malware`), true, "Malware"},
	{regexp.MustCompile(`(?i)persistence`), true, "Persistence"},
	{regexp.MustCompile(`(?i)command\s+and\s+control|\bC2\b|\bC&C\b`), true, "Command and Control"},
	{regexp.MustCompile(`(?i)lateral\s+movement`), true, "Lateral Movement"},
	{regexp.MustCompile(`(?i)privilege\s+escalation`), true, "Privilege Escalation"},
	{regexp.MustCompile(`(?i)execution`), true, "Execution"},
}

// detectAlertCategory finds an alert-category filter. Most categories need a
// classification context word nearby so plain threat talk does not trigger.
func detectAlertCategory(query string) (string, bool) {
	for _, c := range alertCategories {
		if !c.trigger.MatchString(query) {
			continue
		}
		if c.needsCtx && !categoryCtxRe.MatchString(query) {
			continue
		}
		return c.category, true
	}
	return "", false
}

// detectProcessName finds an executable name in an execution context. Bare
// well-known names get the .exe suffix appended.
func detectProcessName(query string) (string, bool) {
	if !processCtxRe.MatchString(query) {
		return "", false
	}
	if m := processExeRe.FindStringSubmatch(query); m != nil {
		return strings.ToLower(m[1]), true
	}
	lower := strings.ToLower(query)
	for _, name := range wellKnownProcesses {
		re := regexp.MustCompile(`\b` + name + `\b`)
		if re.MatchString(lower) {
			return name + ".exe", true
		}
	}
	return "", false
}

// detectStatus extracts a workflow-status filter, explicit resolved_* values
// first.
func detectStatus(query string) (string, bool) {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "resolved_true_positive"), strings.Contains(lower, "resolved_threat_handled"):
		return "resolved_true_positive", true
	case strings.Contains(lower, "resolved_false_positive"):
		return "resolved_false_positive", true
	case strings.Contains(lower, "resolved_other"):
		return "resolved_other", true
	case strings.Contains(lower, "resolved_"):
		if m := regexp.MustCompile(`resolved_[a-z_]+`).FindString(lower); m != "" {
			return m, true
		}
	case regexp.MustCompile(`\bnew\b`).MatchString(lower):
		return "new", true
	case strings.Contains(lower, "under_investigation"),
		strings.Contains(lower, "under investigation"):
		return "under_investigation", true
	}
	return "", false
}

// detectDetectionStatus extracts a verdict filter.
func detectDetectionStatus(query string) (string, bool) {
	lower := strings.ToLower(query)
	switch {
	case strings.Contains(lower, "true_positive"), strings.Contains(lower, "true positive"):
		return "true_positive", true
	case strings.Contains(lower, "false_positive"), strings.Contains(lower, "false positive"):
		return "false_positive", true
	case strings.Contains(lower, "benign"):
		return "benign", true
	}
	return "", false
}
