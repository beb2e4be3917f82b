package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquest/schema"
)

func rangeOfDays(days int) schema.TimeRange {
	end := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	return schema.TimeRange{Start: end.AddDate(0, 0, -days), End: end}
}

func listSpec() *schema.QuerySpec {
	return &schema.QuerySpec{
		Intent:       schema.IntentList,
		DataType:     schema.DataTypeIncidents,
		IndexPattern: "logs-cortex_xdr-incidents-*",
		TimeRange:    rangeOfDays(7),
		Optimize:     schema.OptimizeAuto,
		Format:       []schema.Format{schema.FormatJSON},
	}
}

func TestTimestampField(t *testing.T) {
	assert.Equal(t, "detection_time", TimestampField(schema.DataTypeIncidents))
	assert.Equal(t, "detection_time", TimestampField(schema.DataTypeAlerts))
	assert.Equal(t, "last_seen", TimestampField(schema.DataTypeEndpoints))
	assert.Equal(t, "@timestamp", TimestampField(schema.DataTypeTIResults))
	assert.Equal(t, "@timestamp", TimestampField(schema.DataType("bogus")))
}

func TestIsEpochMillisField(t *testing.T) {
	assert.True(t, IsEpochMillisField("detection_time"))
	assert.True(t, IsEpochMillisField("creation_time"))
	assert.True(t, IsEpochMillisField("last_seen"))
	assert.False(t, IsEpochMillisField("@timestamp"))
	assert.False(t, IsEpochMillisField("file_event_timestamp"))
}

func TestAdaptiveSizeExplicitLimitWins(t *testing.T) {
	spec := listSpec()
	spec.Limit = 42
	assert.Equal(t, 42, AdaptiveSize(spec))

	spec.Limit = schema.MaxLimit + 500
	assert.Equal(t, schema.MaxLimit, AdaptiveSize(spec))
}

func TestAdaptiveSizeAggregationOnlyIsZero(t *testing.T) {
	spec := listSpec()
	spec.Intent = schema.IntentOverview
	assert.Equal(t, 0, AdaptiveSize(spec))
}

func TestAdaptiveSizeShrinksWithSpan(t *testing.T) {
	spec := listSpec()

	spans := []int{1, 7, 30, 90, 365}
	prev := schema.MaxLimit + 1
	for _, days := range spans {
		spec.TimeRange = rangeOfDays(days)
		size := AdaptiveSize(spec)
		assert.LessOrEqual(t, size, prev, "size must not grow with span (%d days)", days)
		assert.GreaterOrEqual(t, size, 10)
		assert.LessOrEqual(t, size, schema.MaxLimit)
		prev = size
	}

	// Spot-check the incident multipliers.
	spec.TimeRange = rangeOfDays(1)
	assert.Equal(t, 150, AdaptiveSize(spec))
	spec.TimeRange = rangeOfDays(7)
	assert.Equal(t, 100, AdaptiveSize(spec))
	spec.TimeRange = rangeOfDays(30)
	assert.Equal(t, 70, AdaptiveSize(spec))
	spec.TimeRange = rangeOfDays(365)
	assert.Equal(t, 20, AdaptiveSize(spec))
}

func TestBuildListBody(t *testing.T) {
	spec := listSpec()
	spec.Filters.Severity = []schema.Severity{schema.SeverityHigh, schema.SeverityCritical}
	spec.Fields = []string{"incident_id", "severity"}

	body, err := Build(spec)
	require.NoError(t, err)

	assert.Equal(t, 100, body["size"])
	assert.Equal(t, []string{"incident_id", "severity"}, body["_source"])
	require.NotNil(t, body["sort"])

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	filter := boolQuery["filter"].([]any)
	require.Len(t, filter, 2)

	// Epoch-typed recency fields take numeric bounds.
	timeClause := filter[0].(map[string]any)["bool"].(map[string]any)
	rangeClause := timeClause["should"].([]any)[0].(map[string]any)["range"].(map[string]any)["detection_time"].(map[string]any)
	assert.IsType(t, int64(0), rangeClause["gte"])

	sevClause := filter[1].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, []schema.Severity{schema.SeverityHigh, schema.SeverityCritical}, sevClause["severity"])
}

func TestBuildTimeFilterKeepsMissingTimestamps(t *testing.T) {
	body, err := Build(listSpec())
	require.NoError(t, err)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	timeClause := boolQuery["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)

	should := timeClause["should"].([]any)
	require.Len(t, should, 2)
	assert.Equal(t, 1, timeClause["minimum_should_match"])

	missing := should[1].(map[string]any)["bool"].(map[string]any)["must_not"].(map[string]any)
	assert.Equal(t, "detection_time", missing["exists"].(map[string]any)["field"])
}

func TestBuildUniqueIDFilterDropsTimeClause(t *testing.T) {
	spec := listSpec()
	spec.Filters.Custom = map[string]any{"incident_id.keyword": "123-456789"}

	body, err := Build(spec)
	require.NoError(t, err)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	filter := boolQuery["filter"].([]any)
	require.Len(t, filter, 1)
	term := filter[0].(map[string]any)["term"].(map[string]any)
	assert.Equal(t, "123-456789", term["incident_id.keyword"])
}

func TestBuildNonEpochFieldUsesISOBounds(t *testing.T) {
	spec := listSpec()
	spec.DataType = schema.DataTypeTIResults

	body, err := Build(spec)
	require.NoError(t, err)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	timeClause := boolQuery["filter"].([]any)[0].(map[string]any)["bool"].(map[string]any)
	rangeClause := timeClause["should"].([]any)[0].(map[string]any)["range"].(map[string]any)["@timestamp"].(map[string]any)
	assert.IsType(t, "", rangeClause["gte"])
}

func TestBuildOverviewIsAggregationOnly(t *testing.T) {
	spec := listSpec()
	spec.Intent = schema.IntentOverview
	spec.Aggregation = schema.AggTerms

	body, err := Build(spec)
	require.NoError(t, err)

	assert.Equal(t, 0, body["size"])
	aggs := body["aggs"].(map[string]any)
	require.Contains(t, aggs, "by_severity")
	assert.NotContains(t, body, "sort")
}

func TestBuildOverviewWithoutAggregationGetsBattery(t *testing.T) {
	spec := listSpec()
	spec.Intent = schema.IntentAnalysis

	body, err := Build(spec)
	require.NoError(t, err)

	aggs := body["aggs"].(map[string]any)
	assert.Contains(t, aggs, "by_severity")
	assert.Contains(t, aggs, "over_time")
	assert.Contains(t, aggs, "by_status")
}

func TestBuildReportBody(t *testing.T) {
	spec := listSpec()
	spec.Intent = schema.IntentReport

	body, err := Build(spec)
	require.NoError(t, err)

	// Sample size is a fifth of the adaptive budget, capped at 100.
	assert.Equal(t, 20, body["size"])
	assert.Contains(t, body, "aggs")
	assert.Contains(t, body, "sort")
	assert.Contains(t, body, "collapse")
}

func TestBuildCollapseRules(t *testing.T) {
	// Auto optimize on a type with a dedup key collapses.
	spec := listSpec()
	body, err := Build(spec)
	require.NoError(t, err)
	collapse := body["collapse"].(map[string]any)
	assert.Equal(t, "incident_id.keyword", collapse["field"])

	// Detail optimize never collapses.
	spec = listSpec()
	spec.Optimize = schema.OptimizeDetail
	body, err = Build(spec)
	require.NoError(t, err)
	assert.NotContains(t, body, "collapse")

	// Types without a dedup key never collapse.
	spec = listSpec()
	spec.DataType = schema.DataTypeNetworkArtifacts
	body, err = Build(spec)
	require.NoError(t, err)
	assert.NotContains(t, body, "collapse")
}

func TestBuildCorrelationSizing(t *testing.T) {
	spec := listSpec()
	spec.Intent = schema.IntentCorrelation

	body, err := Build(spec)
	require.NoError(t, err)
	// Twice the adaptive budget, capped at 1000.
	assert.Equal(t, 200, body["size"])

	spec.Limit = 900
	body, err = Build(spec)
	require.NoError(t, err)
	assert.Equal(t, 1000, body["size"])
}

func TestBuildThreatKeywordClauses(t *testing.T) {
	spec := listSpec()
	spec.Filters.Custom = map[string]any{
		schema.ThreatKeywordsField: []string{"ransomware", "T1486"},
	}

	body, err := Build(spec)
	require.NoError(t, err)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	should := boolQuery["should"].([]any)
	// Four clauses per keyword.
	assert.Len(t, should, 8)
	assert.Equal(t, 1, boolQuery["minimum_should_match"])

	phrase := should[0].(map[string]any)["match_phrase"].(map[string]any)["description"].(map[string]any)
	assert.Equal(t, "ransomware", phrase["query"])
	assert.Equal(t, 2.0, phrase["boost"])
}

func TestBuildProcessFilterFieldAlias(t *testing.T) {
	spec := listSpec()
	spec.Filters.Custom = map[string]any{"process_name": "powershell.exe"}

	body, err := Build(spec)
	require.NoError(t, err)

	boolQuery := body["query"].(map[string]any)["bool"].(map[string]any)
	found := false
	for _, f := range boolQuery["filter"].([]any) {
		if term, ok := f.(map[string]any)["term"].(map[string]any); ok {
			if term["action_process_image_name.keyword"] == "powershell.exe" {
				found = true
			}
		}
	}
	assert.True(t, found)
}

func TestBuildRejectsUnknownIntent(t *testing.T) {
	spec := listSpec()
	spec.Intent = "bogus"
	_, err := Build(spec)
	assert.Error(t, err)
}

func TestBuildCorrelation(t *testing.T) {
	spec := listSpec()
	spec.CorrelationField = "file_sha256"

	hits := []map[string]any{
		{"_source": map[string]any{"file_sha256": "aaa"}},
		{"_source": map[string]any{"file_sha256": "bbb"}},
		{"_source": map[string]any{"other": 1}},
	}
	body, err := BuildCorrelation(spec, hits)
	require.NoError(t, err)

	terms := body["query"].(map[string]any)["bool"].(map[string]any)["filter"].([]any)[0].(map[string]any)["terms"].(map[string]any)
	assert.Equal(t, []any{"aaa", "bbb"}, terms["file_sha256"])
	assert.Equal(t, schema.MaxLimit, body["size"])
}

func TestBuildCorrelationErrors(t *testing.T) {
	spec := listSpec()
	_, err := BuildCorrelation(spec, []map[string]any{{"_source": map[string]any{}}})
	assert.Error(t, err)

	spec.CorrelationField = "file_sha256"
	_, err = BuildCorrelation(spec, nil)
	assert.Error(t, err)

	// Field missing from every hit is an error, not an empty join.
	_, err = BuildCorrelation(spec, []map[string]any{{"_source": map[string]any{"x": 1}}})
	assert.Error(t, err)
}

func TestValidateQuery(t *testing.T) {
	valid := map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"size":  100,
	}
	assert.NoError(t, ValidateQuery(valid))

	assert.Error(t, ValidateQuery(map[string]any{"size": 10}))
	assert.Error(t, ValidateQuery(map[string]any{"query": map[string]any{"match_all": map[string]any{}}}))
	assert.Error(t, ValidateQuery(map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"size":  -1,
	}))
	assert.Error(t, ValidateQuery(map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"size":  schema.MaxLimit + 1,
	}))
}

func TestNormalize(t *testing.T) {
	// Aggregation bodies without a size get size 0 and no source fetch.
	body := Normalize(map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"aggs":  map[string]any{"total": map[string]any{}},
	})
	assert.Equal(t, 0, body["size"])
	assert.Equal(t, false, body["_source"])

	// Sized bodies without a sort get the deterministic default.
	body = Normalize(map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"size":  50,
	})
	require.Contains(t, body, "sort")

	// An existing sort is left alone.
	sort := []any{map[string]any{"detection_time": "desc"}}
	body = Normalize(map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
		"size":  50,
		"sort":  sort,
	})
	assert.Equal(t, sort, body["sort"])
}
