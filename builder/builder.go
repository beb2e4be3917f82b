// Package builder compiles a validated query spec into an
// OpenSearch/Elasticsearch DSL body. Bodies are plain JSON maps; the builder
// owns the per-data-type timestamp semantics, adaptive result sizing,
// collapse-based deduplication and the report aggregation battery.
package builder

import (
	"fmt"
	"math"
	"time"

	"inquest/schema"
)

// reportTimeZone is the display zone applied to date-typed histogram
// buckets. Long-typed epoch fields cannot carry a zone hint.
const reportTimeZone = "Asia/Seoul"

// timestampFields maps each data type to its recency field. Cortex XDR
// incidents and alerts key on detection_time, not @timestamp.
var timestampFields = map[schema.DataType]string{
	schema.DataTypeIncidents:        "detection_time",
	schema.DataTypeAlerts:           "detection_time",
	schema.DataTypeFileArtifacts:    "file_event_timestamp",
	schema.DataTypeNetworkArtifacts: "network_event_timestamp",
	schema.DataTypeProcessArtifacts: "@timestamp",
	schema.DataTypeEndpoints:        "last_seen",
	schema.DataTypeThreatIntel:      "@timestamp",
	schema.DataTypeTIResults:        "@timestamp",
	schema.DataTypeAuditLogs:        "@timestamp",
	schema.DataTypeAgentAuditLogs:   "@timestamp",
}

// epochMillisFields are mapped as long epoch milliseconds rather than dates.
// Range clauses on them take numbers and histograms cannot use time_zone.
var epochMillisFields = map[string]bool{
	"detection_time":    true,
	"creation_time":     true,
	"modification_time": true,
	"last_seen":         true,
}

// dedupFields holds the collapse key per data type. Types without an entry
// never deduplicate.
var dedupFields = map[schema.DataType]string{
	schema.DataTypeIncidents:     "incident_id.keyword",
	schema.DataTypeAlerts:        "alert_id.keyword",
	schema.DataTypeEndpoints:     "endpoint_id.keyword",
	schema.DataTypeFileArtifacts: "file_sha256.keyword",
	schema.DataTypeTIResults:     "source_id.keyword",
}

// baseSizes are the per-type document budgets before span scaling.
var baseSizes = map[schema.DataType]int{
	schema.DataTypeIncidents:        100,
	schema.DataTypeAlerts:           500,
	schema.DataTypeEndpoints:        200,
	schema.DataTypeFileArtifacts:    300,
	schema.DataTypeNetworkArtifacts: 100,
	schema.DataTypeProcessArtifacts: 300,
	schema.DataTypeTIResults:        100,
	schema.DataTypeThreatIntel:      50,
}

// TimestampField returns the recency field queries against dt sort and
// filter on.
func TimestampField(dt schema.DataType) string {
	if f, ok := timestampFields[dt]; ok {
		return f
	}
	return "@timestamp"
}

// IsEpochMillisField reports whether a timestamp field holds epoch
// milliseconds instead of an ISO date.
func IsEpochMillisField(field string) bool {
	return epochMillisFields[field]
}

// AdaptiveSize computes the document budget for a spec. An explicit limit
// wins (capped at the backend window); aggregation-only intents take zero;
// otherwise the per-type base is scaled down as the time span grows.
func AdaptiveSize(spec *schema.QuerySpec) int {
	if spec.Limit > 0 {
		if spec.Limit > schema.MaxLimit {
			return schema.MaxLimit
		}
		return spec.Limit
	}
	if spec.IsAggregationOnly() {
		return 0
	}

	rangeDays := 7
	if !spec.TimeRange.Start.IsZero() && !spec.TimeRange.End.IsZero() {
		rangeDays = int(math.Ceil(spec.TimeRange.Span().Hours() / 24))
	}

	base, ok := baseSizes[spec.DataType]
	if !ok {
		base = 100
	}

	var multiplier float64
	switch {
	case rangeDays <= 1:
		multiplier = 1.5
	case rangeDays <= 7:
		multiplier = 1.0
	case rangeDays <= 30:
		multiplier = 0.7
	case rangeDays <= 90:
		multiplier = 0.4
	default:
		multiplier = 0.2
	}

	size := int(float64(base) * multiplier)
	if size < 10 {
		size = 10
	}
	if size > schema.MaxLimit {
		size = schema.MaxLimit
	}
	return size
}

// shouldCollapse reports whether collapse deduplication applies: never for
// aggregation-only queries, never when the caller asked for full detail, and
// only for types with a registered dedup key.
func shouldCollapse(spec *schema.QuerySpec) bool {
	if spec.IsAggregationOnly() {
		return false
	}
	if spec.Optimize == schema.OptimizeDetail {
		return false
	}
	_, ok := dedupFields[spec.DataType]
	return ok
}

// Build compiles a spec into a DSL body.
func Build(spec *schema.QuerySpec) (map[string]any, error) {
	tsField := TimestampField(spec.DataType)

	boolQuery := map[string]any{}
	var filter []any

	// Unique identifiers are unique across all time; a time filter would
	// only risk excluding the match.
	if !spec.HasUniqueIDFilter() && !spec.TimeRange.Start.IsZero() && !spec.TimeRange.End.IsZero() {
		filter = append(filter, timeFilter(tsField, spec.TimeRange))
	}

	if len(spec.Filters.Severity) > 0 {
		filter = append(filter, map[string]any{"terms": map[string]any{"severity": spec.Filters.Severity}})
	}
	if spec.Filters.Vendor != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"vendor": spec.Filters.Vendor}})
	}
	if spec.Filters.Status != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"status.keyword": spec.Filters.Status}})
	}
	if spec.Filters.DetectionStatus != "" {
		filter = append(filter, map[string]any{"term": map[string]any{"detection_status.keyword": spec.Filters.DetectionStatus}})
	}

	var should []any
	for field, value := range spec.Filters.Custom {
		field = normalizeFilterField(field)

		if field == schema.ThreatKeywordsField {
			should = append(should, threatKeywordClauses(value)...)
			continue
		}
		switch v := value.(type) {
		case []any:
			filter = append(filter, map[string]any{"terms": map[string]any{field: v}})
		case []string:
			filter = append(filter, map[string]any{"terms": map[string]any{field: v}})
		default:
			filter = append(filter, map[string]any{"term": map[string]any{field: v}})
		}
	}

	if len(filter) > 0 {
		boolQuery["filter"] = filter
	}
	if len(should) > 0 {
		boolQuery["should"] = should
		boolQuery["minimum_should_match"] = 1
	}

	body := map[string]any{
		"query": map[string]any{"bool": boolQuery},
	}

	switch spec.Intent {
	case schema.IntentOverview, schema.IntentAnalysis:
		body["size"] = 0
		if spec.Aggregation != "" {
			body["aggs"] = buildSingleAggregation(spec.Aggregation, tsField)
		} else {
			body["aggs"] = buildReportAggregations(spec.DataType, tsField)
		}

	case schema.IntentList, schema.IntentInvestigation:
		body["size"] = AdaptiveSize(spec)
		body["sort"] = recencySort(tsField)
		if len(spec.Fields) > 0 {
			body["_source"] = spec.Fields
		}
		if shouldCollapse(spec) {
			body["collapse"] = collapseClause(dedupFields[spec.DataType])
		}

	case schema.IntentCorrelation:
		size := AdaptiveSize(spec) * 2
		if size > 1000 {
			size = 1000
		}
		body["size"] = size
		body["sort"] = recencySort(tsField)
		if len(spec.Fields) > 0 {
			body["_source"] = spec.Fields
		}

	case schema.IntentReport:
		size := AdaptiveSize(spec) / 5
		if size > 100 {
			size = 100
		}
		body["size"] = size
		body["sort"] = recencySort(tsField)
		body["aggs"] = buildReportAggregations(spec.DataType, tsField)
		if len(spec.Fields) > 0 {
			body["_source"] = spec.Fields
		}
		// Collapse keeps the document sample diverse.
		if shouldCollapse(spec) {
			body["collapse"] = collapseClause(dedupFields[spec.DataType])
		}

	default:
		return nil, fmt.Errorf("unsupported intent %q", spec.Intent)
	}

	return body, nil
}

// timeFilter matches documents inside the range or documents missing the
// timestamp field entirely; records with a null recency field must not
// silently vanish from results.
func timeFilter(tsField string, r schema.TimeRange) map[string]any {
	var rangeClause map[string]any
	if IsEpochMillisField(tsField) {
		rangeClause = map[string]any{
			"gte": r.Start.UnixMilli(),
			"lte": r.End.UnixMilli(),
		}
	} else {
		rangeClause = map[string]any{
			"gte": r.Start.UTC().Format(time.RFC3339Nano),
			"lte": r.End.UTC().Format(time.RFC3339Nano),
		}
	}
	return map[string]any{
		"bool": map[string]any{
			"should": []any{
				map[string]any{"range": map[string]any{tsField: rangeClause}},
				map[string]any{"bool": map[string]any{
					"must_not": map[string]any{"exists": map[string]any{"field": tsField}},
				}},
			},
			"minimum_should_match": 1,
		},
	}
}

// threatKeywordClauses expands the reserved threat_keywords filter into
// boosted full-text should clauses over the descriptive and MITRE fields.
func threatKeywordClauses(value any) []any {
	var keywords []string
	switch v := value.(type) {
	case []string:
		keywords = v
	case []any:
		for _, kw := range v {
			if s, ok := kw.(string); ok {
				keywords = append(keywords, s)
			}
		}
	case string:
		keywords = []string{v}
	}

	var clauses []any
	for _, kw := range keywords {
		clauses = append(clauses,
			map[string]any{"match_phrase": map[string]any{"description": map[string]any{"query": kw, "boost": 2.0}}},
			map[string]any{"match": map[string]any{"alert_categories": map[string]any{"query": kw, "boost": 1.5}}},
			map[string]any{"match": map[string]any{"mitre_techniques_ids_and_names": map[string]any{"query": kw, "boost": 1.2}}},
			map[string]any{"match": map[string]any{"mitre_tactics_ids_and_names": map[string]any{"query": kw, "boost": 1.0}}},
		)
	}
	return clauses
}

// normalizeFilterField resolves filter-field aliases to backend field names.
func normalizeFilterField(field string) string {
	switch field {
	case "process_name", "process_name.keyword":
		return "action_process_image_name.keyword"
	}
	return field
}

func recencySort(tsField string) []any {
	return []any{map[string]any{tsField: map[string]any{"order": "desc", "unmapped_type": "date"}}}
}

func collapseClause(field string) map[string]any {
	return map[string]any{
		"field": field,
		"inner_hits": map[string]any{
			"name": "latest",
			"size": 1,
		},
	}
}

// BuildCorrelation joins a second index on the values a prior result set
// carries in spec.CorrelationField. The field must appear in at least one
// hit's source.
func BuildCorrelation(spec *schema.QuerySpec, primaryHits []map[string]any) (map[string]any, error) {
	if spec.CorrelationField == "" {
		return nil, fmt.Errorf("correlation field is required")
	}
	if len(primaryHits) == 0 {
		return nil, fmt.Errorf("correlation requires primary results")
	}

	var values []any
	for _, hit := range primaryHits {
		source, ok := hit["_source"].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := source[spec.CorrelationField]; ok && v != nil {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("field %q absent from every primary hit", spec.CorrelationField)
	}

	return map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"terms": map[string]any{spec.CorrelationField: values}},
				},
			},
		},
		"size": schema.MaxLimit,
		"sort": []any{map[string]any{"@timestamp": "desc"}},
	}, nil
}

// ValidateQuery checks the structural invariants every compiled body must
// hold before it reaches the backend.
func ValidateQuery(body map[string]any) error {
	query, ok := body["query"].(map[string]any)
	if !ok {
		return fmt.Errorf("query clause is required")
	}
	if _, ok := query["bool"]; !ok {
		return fmt.Errorf("query.bool clause is required")
	}
	if rawSize, ok := body["size"]; ok {
		size, ok := toInt(rawSize)
		if !ok {
			return fmt.Errorf("size must be an integer")
		}
		if size < 0 {
			return fmt.Errorf("size must be >= 0")
		}
		if size > schema.MaxLimit {
			return fmt.Errorf("size must be <= %d", schema.MaxLimit)
		}
	}
	return nil
}

// Normalize applies the final body tweaks: aggregation bodies drop document
// retrieval and sized bodies always have a deterministic sort.
func Normalize(body map[string]any) map[string]any {
	if _, hasAggs := body["aggs"]; hasAggs {
		if _, hasSize := body["size"]; !hasSize {
			body["size"] = 0
		}
	}
	if size, ok := toInt(body["size"]); ok {
		if size == 0 {
			if _, hasSource := body["_source"]; !hasSource {
				body["_source"] = false
			}
		} else if _, hasSort := body["sort"]; !hasSort {
			body["sort"] = []any{map[string]any{"@timestamp": "desc"}}
		}
	}
	return body
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
