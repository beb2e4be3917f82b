package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquest/schema"
)

func TestExtractJSONFencedBlock(t *testing.T) {
	text := "Here is the spec:\n```json\n{\"queryType\": \"list\"}\n```\nDone."
	obj, err := extractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "list", obj["queryType"])
}

func TestExtractJSONBareObject(t *testing.T) {
	text := `The answer is {"queryType": "overview", "limit": 5} as requested.`
	obj, err := extractJSON(text)
	require.NoError(t, err)
	assert.Equal(t, "overview", obj["queryType"])
}

func TestExtractJSONWholeText(t *testing.T) {
	obj, err := extractJSON(`{"dataType": "alerts"}`)
	require.NoError(t, err)
	assert.Equal(t, "alerts", obj["dataType"])
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := extractJSON("I cannot answer that question.")
	assert.Error(t, err)
}

func TestDetectIncidentID(t *testing.T) {
	id, ok := detectIncidentID("investigate incident 123-456789")
	require.True(t, ok)
	assert.Equal(t, "123-456789", id)

	id, ok = detectIncidentID("show details for case 8675309")
	require.True(t, ok)
	assert.Equal(t, "8675309", id)

	// A bare number without an investigation keyword is not an identifier.
	_, ok = detectIncidentID("there were 1234567 events")
	assert.False(t, ok)

	// Keyword without an identifier.
	_, ok = detectIncidentID("investigate the latest ransomware")
	assert.False(t, ok)
}

func TestDetectIOC(t *testing.T) {
	v, typ, ok := detectIOC("any traffic to 192.168.10.5 yesterday?")
	require.True(t, ok)
	assert.Equal(t, "192.168.10.5", v)
	assert.Equal(t, schema.IOCTypeIP, typ)

	v, typ, ok = detectIOC("search hash D41D8CD98F00B204E9800998ECF8427E")
	require.True(t, ok)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", v)
	assert.Equal(t, schema.IOCTypeHash, typ)

	v, typ, ok = detectIOC("connections to evil-c2.xyz")
	require.True(t, ok)
	assert.Equal(t, "evil-c2.xyz", v)
	assert.Equal(t, schema.IOCTypeDomain, typ)

	_, _, ok = detectIOC("show me all incidents")
	assert.False(t, ok)
}

func TestExtractLimit(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"show me top 10 alerts", 10},
		{"latest 25 incidents", 25},
		{"give me 50 results", 50},
		{"limit 200", 200},
		{"top 99999 incidents", schema.MaxLimit},
	}
	for _, tt := range tests {
		n, ok := extractLimit(tt.query)
		require.True(t, ok, tt.query)
		assert.Equal(t, tt.want, n, tt.query)
	}

	_, ok := extractLimit("show me all alerts")
	assert.False(t, ok)
}

func TestDetectSeverity(t *testing.T) {
	assert.Equal(t, []schema.Severity{schema.SeverityCritical}, detectSeverity("critical incidents"))
	assert.Equal(t,
		[]schema.Severity{schema.SeverityCritical, schema.SeverityHigh},
		detectSeverity("critical and high alerts"))
	// Escalation phrasing covers high and critical.
	assert.Equal(t,
		[]schema.Severity{schema.SeverityHigh, schema.SeverityCritical},
		detectSeverity("severity high and above"))
	assert.Empty(t, detectSeverity("all incidents"))
}

func TestDetectThreatKeywords(t *testing.T) {
	kws := detectThreatKeywords("any ransomware incidents last week?")
	assert.Contains(t, kws, "ransomware")
	assert.Contains(t, kws, "T1486")

	// MITRE codes expand to names.
	kws = detectThreatKeywords("alerts tagged T1566")
	assert.Contains(t, kws, "phishing")

	// Ransomware suppresses the generic malware expansion.
	kws = detectThreatKeywords("ransomware malware outbreak")
	assert.Contains(t, kws, "ransomware")
	assert.NotContains(t, kws, "malware")

	// Without ransomware the generic rule still fires.
	kws = detectThreatKeywords("malware infections")
	assert.Contains(t, kws, "malware")

	assert.Empty(t, detectThreatKeywords("how many endpoints are online"))
}

func TestDetectAlertCategory(t *testing.T) {
	cat, ok := detectAlertCategory("alerts of defense evasion")
	require.True(t, ok)
	assert.Equal(t, "Defense Evasion", cat)

	// Context-gated categories need a classification word.
	cat, ok = detectAlertCategory("malware category alerts")
	require.True(t, ok)
	assert.Equal(t, "Malware", cat)

	_, ok = detectAlertCategory("malware outbreak on host-1")
	assert.False(t, ok)
}

func TestDetectProcessName(t *testing.T) {
	p, ok := detectProcessName("process events for mimikatz.exe")
	require.True(t, ok)
	assert.Equal(t, "mimikatz.exe", p)

	// Well-known bare names get the suffix.
	p, ok = detectProcessName("powershell execution trend")
	require.True(t, ok)
	assert.Equal(t, "powershell.exe", p)

	// No execution context, no match.
	_, ok = detectProcessName("powershell")
	assert.False(t, ok)
}

func TestDetectStatus(t *testing.T) {
	s, ok := detectStatus("resolved_threat_handled incidents")
	require.True(t, ok)
	assert.Equal(t, "resolved_true_positive", s)

	s, ok = detectStatus("incidents under investigation")
	require.True(t, ok)
	assert.Equal(t, "under_investigation", s)

	s, ok = detectStatus("new incidents today")
	require.True(t, ok)
	assert.Equal(t, "new", s)

	_, ok = detectStatus("all incidents")
	assert.False(t, ok)
}

func TestDetectDetectionStatus(t *testing.T) {
	s, ok := detectDetectionStatus("false positive alerts")
	require.True(t, ok)
	assert.Equal(t, "false_positive", s)

	s, ok = detectDetectionStatus("benign detections")
	require.True(t, ok)
	assert.Equal(t, "benign", s)

	_, ok = detectDetectionStatus("open incidents")
	assert.False(t, ok)
}

func TestWideIDRangeSpansRetention(t *testing.T) {
	r := wideIDRange()
	assert.Equal(t, 2024, r.Start.Year())
	assert.Equal(t, 2025, r.End.Year())
	assert.True(t, r.Start.Before(r.End))
}
