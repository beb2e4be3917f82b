// Package mapping holds the static lookup tables tying canonical data types
// to backend index patterns and field lists, plus the keyword-normalization
// tables used by the natural-language parser. All tables are immutable
// process-lifetime constants and every lookup is total: unmapped keys get a
// safe match-everything default, never an error.
package mapping

import (
	"strings"

	"inquest/schema"
)

// IndexMapping describes one data type's backend footprint.
type IndexMapping struct {
	// Pattern is the backend index pattern queries run against.
	Pattern string
	// Label is a human-readable description.
	Label string
	// SummaryFields is the reduced projection for count/trend intents.
	SummaryFields []string
	// FullFields is the complete projection for document intents.
	FullFields []string
}

var indexMappings = map[schema.DataType]IndexMapping{
	schema.DataTypeIncidents: {
		Pattern: "logs-cortex_xdr-incidents-*",
		Label:   "XDR incidents",
		SummaryFields: []string{
			"incident_id", "severity", "description", "creation_time", "status",
		},
		FullFields: []string{
			"incident_id", "severity", "status", "description", "creation_time",
			"@timestamp", "host_count", "alert_count", "assigned_user_mail",
			"manual_severity", "notes", "hosts", "mitre_techniques_ids_and_names",
		},
	},
	schema.DataTypeAlerts: {
		Pattern:       "logs-cortex_xdr-alerts-*",
		Label:         "XDR alerts",
		SummaryFields: []string{"alert_id", "name", "severity", "detection_timestamp"},
		FullFields: []string{
			"alert_id", "name", "severity", "category", "action", "endpoint_id",
			"host_name", "user_name", "detection_timestamp",
			"mitre_technique_id", "mitre_tactic",
		},
	},
	schema.DataTypeFileArtifacts: {
		Pattern:       "logs-cortex_xdr-file-artifacts-*",
		Label:         "file artifacts",
		SummaryFields: []string{"file_path", "file_sha256", "is_malicious"},
		FullFields: []string{
			"file_path", "file_name", "file_sha256", "file_size", "file_type",
			"signer", "is_signed", "is_malicious", "wildfire_verdict",
		},
	},
	schema.DataTypeNetworkArtifacts: {
		Pattern:       "logs-cortex_xdr-network-artifacts-*",
		Label:         "network artifacts",
		SummaryFields: []string{"type", "network_remote_ip", "network_domain"},
		FullFields: []string{
			"type", "network_remote_ip", "network_remote_port", "network_domain",
			"network_country", "incident_id", "alert_count", "is_manual", "@timestamp",
		},
	},
	schema.DataTypeProcessArtifacts: {
		Pattern:       "logs-cortex_xdr-process-artifacts-*",
		Label:         "process artifacts",
		SummaryFields: []string{"process_name", "command_line", "incident_id"},
		FullFields: []string{
			"process_name", "command_line", "process_sha256", "user_name",
			"incident_id", "is_malicious", "@timestamp",
		},
	},
	schema.DataTypeEndpoints: {
		Pattern:       "logs-cortex_xdr-endpoints-*",
		Label:         "endpoints",
		SummaryFields: []string{"endpoint_id", "endpoint_name", "agent_status"},
		FullFields: []string{
			"endpoint_id", "endpoint_name", "endpoint_type", "os_type", "ip",
			"domain", "agent_version", "agent_status", "installation_date", "last_seen",
		},
	},
	schema.DataTypeThreatIntel: {
		Pattern:       "threat-intelligence-*",
		Label:         "threat intelligence feed",
		SummaryFields: []string{"ioc.type", "ioc.value", "severity"},
		FullFields: []string{
			"ioc.type", "ioc.value", "severity", "confidence", "description",
			"source", "first_seen", "last_seen",
		},
	},
	schema.DataTypeTIResults: {
		Pattern: "ti-correlation-results-*",
		Label:   "TI correlation results",
		SummaryFields: []string{
			"source_id", "threat_score", "risk_level",
			"matched_hashes", "matched_ips", "matched_cves",
		},
		FullFields: []string{
			"source_id", "source_type", "source_timestamp", "ti_matches",
			"threat_score", "risk_level", "confidence_level", "matched_hashes",
			"matched_ips", "matched_domains", "matched_cves", "matched_mitre",
			"analysis_factors", "breakdown", "processing_time_ms", "analysis_date",
		},
	},
	schema.DataTypeAuditLogs: {
		Pattern:       "logs-cortex_xdr-audit-logs-*",
		Label:         "management audit logs",
		SummaryFields: []string{"audit_type", "user", "action", "result"},
		FullFields: []string{
			"audit_type", "user", "action", "resource", "result", "ip_address", "timestamp",
		},
	},
	schema.DataTypeAgentAuditLogs: {
		Pattern:       "logs-cortex_xdr-agent-audit-logs-*",
		Label:         "agent audit logs",
		SummaryFields: []string{"endpoint_id", "action", "timestamp"},
		FullFields: []string{
			"endpoint_id", "endpoint_name", "action", "process_name", "file_path", "timestamp",
		},
	},
}

// Lookup returns the mapping entry for a data type. Unknown types get a
// wildcard entry so callers never fail on a lookup.
func Lookup(dt schema.DataType) IndexMapping {
	if m, ok := indexMappings[dt]; ok {
		return m
	}
	return IndexMapping{Pattern: "*", Label: string(dt), SummaryFields: []string{"*"}, FullFields: []string{"*"}}
}

// IndexPattern returns the backend index pattern for a data type.
func IndexPattern(dt schema.DataType) string {
	return Lookup(dt).Pattern
}

// SummaryFields returns the reduced projection for a data type.
func SummaryFields(dt schema.DataType) []string {
	return Lookup(dt).SummaryFields
}

// FullFields returns the complete projection for a data type.
func FullFields(dt schema.DataType) []string {
	return Lookup(dt).FullFields
}

// DataTypes returns every mapped data type, for table-driven tests and
// introspection.
func DataTypes() []schema.DataType {
	out := make([]schema.DataType, 0, len(indexMappings))
	for dt := range indexMappings {
		out = append(out, dt)
	}
	return out
}

// keywordToDataType normalizes the nouns analysts use to canonical data
// types. Longest-phrase entries are matched by the parser before single words.
var keywordToDataType = map[string]schema.DataType{
	"incident":  schema.DataTypeIncidents,
	"incidents": schema.DataTypeIncidents,
	"case":      schema.DataTypeIncidents,
	"cases":     schema.DataTypeIncidents,

	"alert":  schema.DataTypeAlerts,
	"alerts": schema.DataTypeAlerts,

	"file":           schema.DataTypeFileArtifacts,
	"files":          schema.DataTypeFileArtifacts,
	"file artifacts": schema.DataTypeFileArtifacts,
	"hash":           schema.DataTypeFileArtifacts,
	"hashes":         schema.DataTypeFileArtifacts,

	"network":           schema.DataTypeNetworkArtifacts,
	"network artifacts": schema.DataTypeNetworkArtifacts,
	"ip":                schema.DataTypeNetworkArtifacts,

	"process":           schema.DataTypeProcessArtifacts,
	"processes":         schema.DataTypeProcessArtifacts,
	"process artifacts": schema.DataTypeProcessArtifacts,

	"endpoint":  schema.DataTypeEndpoints,
	"endpoints": schema.DataTypeEndpoints,
	"host":      schema.DataTypeEndpoints,
	"hosts":     schema.DataTypeEndpoints,

	"ti":                  schema.DataTypeThreatIntel,
	"threat intelligence": schema.DataTypeThreatIntel,
	"ioc list":            schema.DataTypeThreatIntel,

	"ti analysis":    schema.DataTypeTIResults,
	"ti correlation": schema.DataTypeTIResults,
	"ti matches":     schema.DataTypeTIResults,
	"ioc matches":    schema.DataTypeTIResults,
	"enrichment":     schema.DataTypeTIResults,
	"ioc":            schema.DataTypeTIResults,

	"audit log":  schema.DataTypeAuditLogs,
	"audit logs": schema.DataTypeAuditLogs,

	"agent audit log":  schema.DataTypeAgentAuditLogs,
	"agent audit logs": schema.DataTypeAgentAuditLogs,
}

// KeywordToDataType resolves a single keyword or phrase to a data type.
// The boolean reports whether the keyword was recognized.
func KeywordToDataType(keyword string) (schema.DataType, bool) {
	dt, ok := keywordToDataType[strings.ToLower(strings.TrimSpace(keyword))]
	return dt, ok
}

// dataTypeSynonyms maps the loose short forms a model tends to emit to
// canonical enum values.
var dataTypeSynonyms = map[string]schema.DataType{
	"network":     schema.DataTypeNetworkArtifacts,
	"networks":    schema.DataTypeNetworkArtifacts,
	"file":        schema.DataTypeFileArtifacts,
	"files":       schema.DataTypeFileArtifacts,
	"process":     schema.DataTypeProcessArtifacts,
	"endpoint":    schema.DataTypeEndpoints,
	"alert":       schema.DataTypeAlerts,
	"incident":    schema.DataTypeIncidents,
	"case":        schema.DataTypeIncidents,
	"audit":       schema.DataTypeAuditLogs,
	"agent_audit": schema.DataTypeAgentAuditLogs,
}

// NormalizeDataType maps short-form synonyms onto canonical data types,
// passing already-canonical (and unknown) values through unchanged.
func NormalizeDataType(raw string) schema.DataType {
	key := strings.ToLower(strings.TrimSpace(raw))
	if dt, ok := dataTypeSynonyms[key]; ok {
		return dt
	}
	return schema.DataType(raw)
}

// vendors maps product and brand names onto canonical vendor identifiers.
var vendors = map[string]string{
	"crowdstrike":  "crowdstrike",
	"falcon":       "crowdstrike",
	"microsoft":    "microsoft",
	"defender":     "microsoft",
	"google":       "google",
	"chronicle":    "google",
	"aws":          "aws",
	"amazon":       "aws",
	"security hub": "aws",
	"guardduty":    "aws",
	"palo alto":    "palo-alto",
	"cortex":       "palo-alto",
	"fortinet":     "fortinet",
	"cisco":        "cisco",
	"wazuh":        "wazuh",
}

// NormalizeVendor resolves a vendor keyword to its canonical identifier.
func NormalizeVendor(keyword string) (string, bool) {
	v, ok := vendors[strings.ToLower(strings.TrimSpace(keyword))]
	return v, ok
}

// artifactTypes maps artifact nouns to the relationship lookup types.
var artifactTypes = map[string]string{
	"file":              "files",
	"files":             "files",
	"file artifact":     "files",
	"file artifacts":    "files",
	"network":           "networks",
	"networks":          "networks",
	"network artifact":  "networks",
	"network artifacts": "networks",
	"process":           "processes",
	"processes":         "processes",
	"process artifact":  "processes",
	"process artifacts": "processes",
	"alert":             "alerts",
	"alerts":            "alerts",
	"registry":          "registries",
	"registries":        "registries",
	"endpoint":          "endpoints",
	"endpoints":         "endpoints",
	"host":              "endpoints",
	"hosts":             "endpoints",
}

// NormalizeArtifactType resolves an artifact noun for incident-relationship
// lookups.
func NormalizeArtifactType(keyword string) (string, bool) {
	t, ok := artifactTypes[strings.ToLower(strings.TrimSpace(keyword))]
	return t, ok
}

// relationshipIndices maps artifact types to the indices holding records
// that share an incident identifier.
var relationshipIndices = map[string]string{
	"alerts":     "logs-cortex_xdr-alerts-*",
	"files":      "logs-cortex_xdr-file-artifacts-*",
	"networks":   "logs-cortex_xdr-network-artifacts-*",
	"processes":  "logs-cortex_xdr-process-artifacts-*",
	"registries": "logs-cortex_xdr-registry-artifacts-*",
	"endpoints":  "logs-cortex_xdr-endpoints-*",
}

// RelationshipIndex returns the index pattern for an artifact type, falling
// back to the match-everything pattern.
func RelationshipIndex(artifactType string) string {
	if idx, ok := relationshipIndices[artifactType]; ok {
		return idx
	}
	return "*"
}

// tiSubIndices maps threat-intelligence categories to their dedicated
// indices.
var tiSubIndices = map[string]string{
	"ioc":           "threat-intelligence-ioc",
	"malware":       "threat-intelligence-malware",
	"cve":           "threat-intelligence-cve",
	"mitre":         "threat-intelligence-mitre",
	"apt-groups":    "threat-intelligence-apt-groups",
	"tools":         "threat-intelligence-tools",
	"yara":          "threat-intelligence-yara",
	"codesigning":   "threat-intelligence-codesigning",
	"misp-galaxy":   "threat-intelligence-misp-galaxy",
	"misp-clusters": "threat-intelligence-misp-clusters",
}

// TISubIndex returns the index for a threat-intelligence category, falling
// back to the umbrella pattern.
func TISubIndex(category string) string {
	if idx, ok := tiSubIndices[category]; ok {
		return idx
	}
	return "threat-intelligence-*"
}
