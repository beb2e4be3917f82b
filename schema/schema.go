// Package schema defines the validated query specification produced by the
// natural-language parser and consumed by the query builder. All enumerated
// fields are closed; unknown values are rejected rather than coerced, and
// legacy intent aliases are normalized at the validation boundary.
package schema

import (
	"time"
)

// Intent classifies what the analyst wants back from the event store.
type Intent string

const (
	// IntentOverview returns lightweight statistics only.
	IntentOverview Intent = "overview"
	// IntentAnalysis returns statistics plus deep-dive breakdowns.
	IntentAnalysis Intent = "analysis"
	// IntentReport returns the full aggregation battery plus sample documents.
	IntentReport Intent = "report"
	// IntentInvestigation resolves one incident and all related records.
	IntentInvestigation Intent = "investigation"
	// IntentList returns matching documents.
	IntentList Intent = "list"
	// IntentCorrelation joins a second index on values from a first result set.
	IntentCorrelation Intent = "correlation"
)

// intentAliases maps deprecated or assistant-router intent values to their
// canonical equivalents. Normalization happens once, on the way in.
var intentAliases = map[string]Intent{
	"statistics":  IntentOverview,
	"stats":       IntentOverview,
	"chart":       IntentOverview,
	"detail":      IntentList,
	"analyze":     IntentAnalysis,
	"investigate": IntentInvestigation,
}

// NormalizeIntent resolves legacy aliases to canonical intents. Unknown
// values pass through unchanged so validation can reject them with a useful
// message.
func NormalizeIntent(raw string) Intent {
	if canonical, ok := intentAliases[raw]; ok {
		return canonical
	}
	return Intent(raw)
}

// DataType identifies which record family a query targets. Exactly one index
// pattern and field set exists per data type (see the mapping package).
type DataType string

const (
	DataTypeIncidents        DataType = "incidents"
	DataTypeAlerts           DataType = "alerts"
	DataTypeFileArtifacts    DataType = "file_artifacts"
	DataTypeNetworkArtifacts DataType = "network_artifacts"
	DataTypeProcessArtifacts DataType = "process_artifacts"
	DataTypeEndpoints        DataType = "endpoints"
	DataTypeThreatIntel      DataType = "ti"
	DataTypeTIResults        DataType = "ti_results"
	DataTypeAuditLogs        DataType = "audit_logs"
	DataTypeAgentAuditLogs   DataType = "agent_audit_logs"
)

// Severity levels, ordered from most to least urgent.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AggregationType selects a single backend aggregation for overview queries.
type AggregationType string

const (
	AggCount         AggregationType = "count"
	AggSum           AggregationType = "sum"
	AggAvg           AggregationType = "avg"
	AggTerms         AggregationType = "terms"
	AggDateHistogram AggregationType = "date_histogram"
)

// OptimizeStrategy controls the document-vs-aggregation trade-off at build time.
type OptimizeStrategy string

const (
	OptimizeAggregate OptimizeStrategy = "aggregate"
	OptimizeDetail    OptimizeStrategy = "detail"
	OptimizeAuto      OptimizeStrategy = "auto"
)

// Format is a requested output rendering.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatChart    Format = "chart"
	FormatSummary  Format = "summary"
)

// IOCType classifies an indicator-of-compromise literal found in a question.
type IOCType string

const (
	IOCTypeIP     IOCType = "ip"
	IOCTypeDomain IOCType = "domain"
	IOCTypeHash   IOCType = "hash"
)

// TimeRange is a closed interval of instants. Start must not be after End.
type TimeRange struct {
	Start time.Time `json:"start" validate:"required"`
	End   time.Time `json:"end" validate:"required"`
}

// Span returns the interval length.
func (r TimeRange) Span() time.Duration {
	return r.End.Sub(r.Start)
}

// Filters narrows a query. Custom carries backend field → value (or value
// list) pairs; the reserved key "threat_keywords" is expanded by the builder
// into a boosted full-text disjunction instead of an exact filter.
type Filters struct {
	Severity        []Severity     `json:"severity,omitempty" validate:"omitempty,dive,oneof=critical high medium low"`
	Vendor          string         `json:"vendor,omitempty"`
	Status          string         `json:"status,omitempty"`
	DetectionStatus string         `json:"detection_status,omitempty"`
	Custom          map[string]any `json:"custom,omitempty"`
}

// ThreatKeywordsField is the reserved custom-filter key holding relevance
// keywords rather than an exact match.
const ThreatKeywordsField = "threat_keywords"

// MaxLimit is the backend result-window ceiling.
const MaxLimit = 10000

// QuerySpec is the canonical validated record: created by the parser,
// consumed once by the builder, immutable after validation.
type QuerySpec struct {
	// OriginalQuery preserves the analyst's question for logging.
	OriginalQuery string `json:"originalQuery,omitempty"`

	Intent       Intent    `json:"queryType" validate:"required,oneof=overview analysis report investigation list correlation"`
	TimeRange    TimeRange `json:"timeRange"`
	DataType     DataType  `json:"dataType" validate:"required,oneof=incidents alerts file_artifacts network_artifacts process_artifacts endpoints ti ti_results audit_logs agent_audit_logs"`
	IndexPattern string    `json:"indexPattern" validate:"required"`
	Filters      Filters   `json:"filters"`

	// Aggregation is set only for single-metric overview queries; report
	// queries without one get the full battery.
	Aggregation AggregationType `json:"aggregation,omitempty" validate:"omitempty,oneof=count sum avg terms date_histogram"`

	// Fields limits _source retrieval for document queries.
	Fields []string `json:"fields,omitempty"`

	// Limit is the explicit user-requested result count, if any.
	Limit int `json:"limit,omitempty" validate:"omitempty,gt=0,lte=10000"`

	Format   []Format         `json:"format" validate:"required,min=1,dive,oneof=markdown json chart summary"`
	Optimize OptimizeStrategy `json:"optimize" validate:"required,oneof=aggregate detail auto"`

	// Correlation joins: values of CorrelationField are extracted from the
	// primary result set and matched against CorrelationTarget.
	CorrelationTarget string `json:"correlationTarget,omitempty"`
	CorrelationField  string `json:"correlationField,omitempty"`

	// IncidentID routes investigation intents into the fan-out workflow.
	IncidentID string `json:"incident_id,omitempty"`

	// ArtifactType scopes incident-relationship lookups.
	ArtifactType string `json:"artifact_type,omitempty" validate:"omitempty,oneof=alerts files networks processes registries endpoints"`

	IOCValue string  `json:"ioc_value,omitempty"`
	IOCType  IOCType `json:"ioc_type,omitempty" validate:"omitempty,oneof=ip domain hash"`
}

// ApplyDefaults fills the fields every spec must carry when the producing
// path left them unset.
func (s *QuerySpec) ApplyDefaults() {
	if len(s.Format) == 0 {
		s.Format = []Format{FormatMarkdown, FormatJSON}
	}
	if s.Optimize == "" {
		s.Optimize = OptimizeAuto
	}
}

// IsAggregationOnly reports whether the spec wants statistics without
// documents.
func (s *QuerySpec) IsAggregationOnly() bool {
	return s.Intent == IntentOverview || s.Intent == IntentAnalysis
}

// HasUniqueIDFilter reports whether a unique-identifier custom filter is
// present. Identifiers are unique across all time, so the builder drops the
// time filter entirely when one is set.
func (s *QuerySpec) HasUniqueIDFilter() bool {
	if s.Filters.Custom == nil {
		return false
	}
	for _, field := range []string{"incident_id.keyword", "alert_id.keyword"} {
		if _, ok := s.Filters.Custom[field]; ok {
			return true
		}
	}
	return false
}
