package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inquest/backend"
	"inquest/schema"
)

// fakeSearcher routes searches by index-pattern substring and records every
// call.
type fakeSearcher struct {
	mu      sync.Mutex
	results map[string]*backend.SearchResult
	err     error
	calls   []searchCall
}

type searchCall struct {
	index string
	body  map[string]any
}

func (f *fakeSearcher) Search(ctx context.Context, index string, body map[string]any) (*backend.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{index: index, body: body})
	f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}
	for key, result := range f.results {
		if strings.Contains(index, key) {
			return result, nil
		}
	}
	return &backend.SearchResult{}, nil
}

func (f *fakeSearcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func hitsOf(sources ...map[string]any) *backend.SearchResult {
	result := &backend.SearchResult{Sources: sources, Total: len(sources)}
	for _, src := range sources {
		result.Hits = append(result.Hits, map[string]any{"_source": src})
	}
	return result
}

func execSpec() *schema.QuerySpec {
	return &schema.QuerySpec{
		Intent:       schema.IntentList,
		DataType:     schema.DataTypeIncidents,
		IndexPattern: "logs-cortex_xdr-incidents-*",
		TimeRange: schema.TimeRange{
			Start: time.Date(2025, 9, 3, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC),
		},
		Optimize: schema.OptimizeAuto,
		Format:   []schema.Format{schema.FormatJSON},
	}
}

func TestExecuteList(t *testing.T) {
	search := &fakeSearcher{results: map[string]*backend.SearchResult{
		"incidents": hitsOf(map[string]any{"incident_id": "1"}, map[string]any{"incident_id": "2"}),
	}}
	e := New(search, nil)

	result, err := e.Execute(context.Background(), execSpec())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Len(t, result.Hits, 2)
	assert.NotNil(t, result.Query)
}

func TestExecuteSearchError(t *testing.T) {
	search := &fakeSearcher{err: errors.New("cluster down")}
	e := New(search, nil)

	_, err := e.Execute(context.Background(), execSpec())
	assert.Error(t, err)
}

func TestExecuteCorrelationChains(t *testing.T) {
	search := &fakeSearcher{results: map[string]*backend.SearchResult{
		"file-artifacts": hitsOf(map[string]any{"file_sha256": "aaa"}),
		"ti-correlation": hitsOf(map[string]any{"source_id": "s1"}, map[string]any{"source_id": "s2"}),
	}}
	e := New(search, nil)

	spec := execSpec()
	spec.Intent = schema.IntentCorrelation
	spec.DataType = schema.DataTypeFileArtifacts
	spec.IndexPattern = "logs-cortex_xdr-file-artifacts-*"
	spec.CorrelationTarget = "ti-correlation-results-*"
	spec.CorrelationField = "file_sha256"

	result, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	require.NotNil(t, result.Correlation)
	assert.Equal(t, 2, result.Correlation.Total)
	assert.Equal(t, 2, search.callCount())
}

func TestExecuteCorrelationMissingSpecFields(t *testing.T) {
	search := &fakeSearcher{results: map[string]*backend.SearchResult{
		"file-artifacts": hitsOf(map[string]any{"file_sha256": "aaa"}),
	}}
	e := New(search, nil)

	spec := execSpec()
	spec.Intent = schema.IntentCorrelation
	spec.DataType = schema.DataTypeFileArtifacts
	spec.IndexPattern = "logs-cortex_xdr-file-artifacts-*"

	_, err := e.Execute(context.Background(), spec)
	assert.ErrorIs(t, err, ErrCorrelationSpec)
}

func TestExecuteCorrelationSkippedWithoutPrimaryHits(t *testing.T) {
	search := &fakeSearcher{results: map[string]*backend.SearchResult{}}
	e := New(search, nil)

	spec := execSpec()
	spec.Intent = schema.IntentCorrelation
	spec.CorrelationTarget = "ti-correlation-results-*"
	spec.CorrelationField = "file_sha256"

	result, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	assert.Nil(t, result.Correlation)
	assert.Equal(t, 1, search.callCount())
}

func incidentFixture() *fakeSearcher {
	return &fakeSearcher{results: map[string]*backend.SearchResult{
		"incidents": hitsOf(map[string]any{
			"incident_id": "123-456789",
			"severity":    "high",
			"hosts":       []any{"web-01:abc", "db-02:def", "web-01:abc"},
		}),
		"alerts":            hitsOf(map[string]any{"alert_id": "a1"}, map[string]any{"alert_id": "a2"}),
		"file-artifacts":    hitsOf(map[string]any{"file_sha256": "f1"}),
		"network-artifacts": hitsOf(),
		"process-artifacts": hitsOf(map[string]any{"process_name": "p1"}),
		"endpoints": hitsOf(
			map[string]any{"endpoint_name": "web-01", "agent_status": "connected"},
			map[string]any{"endpoint_name": "db-02", "agent_status": "disconnected"},
		),
	}}
}

func TestExecuteInvestigation(t *testing.T) {
	search := incidentFixture()
	e := New(search, nil)

	bundle, err := e.ExecuteInvestigation(context.Background(), "123-456789", false)
	require.NoError(t, err)

	assert.Equal(t, "123-456789", bundle.IncidentID)
	assert.Equal(t, "high", bundle.Incident["severity"])
	assert.Equal(t, 2, bundle.Summary.TotalAlerts)
	assert.Equal(t, 1, bundle.Summary.TotalFiles)
	assert.Equal(t, 0, bundle.Summary.TotalNetworks)
	assert.Equal(t, 1, bundle.Summary.TotalProcesses)
	assert.Equal(t, 2, bundle.Summary.TotalEndpoints)
	assert.False(t, bundle.FromCache)
}

func TestExecuteInvestigationNotFound(t *testing.T) {
	search := &fakeSearcher{results: map[string]*backend.SearchResult{}}
	e := New(search, nil)

	_, err := e.ExecuteInvestigation(context.Background(), "999-999999", false)
	assert.ErrorIs(t, err, ErrIncidentNotFound)

	// The workflow stops at stage one.
	assert.Equal(t, 1, search.callCount())
}

func TestExecuteInvestigationEmptyFacetDegrades(t *testing.T) {
	// An alert index with no correlated records leaves that facet empty
	// without failing the bundle.
	search := incidentFixture()
	delete(search.results, "alerts")
	e := New(search, nil)

	bundle, err := e.ExecuteInvestigation(context.Background(), "123-456789", false)
	require.NoError(t, err)
	assert.Equal(t, 0, bundle.Summary.TotalAlerts)
	assert.Equal(t, 1, bundle.Summary.TotalFiles)
}

func TestExecuteInvestigationCache(t *testing.T) {
	search := incidentFixture()
	e := New(search, &Config{CacheSize: 8, CacheTTL: time.Minute})

	first, err := e.ExecuteInvestigation(context.Background(), "123-456789", false)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	callsAfterFirst := search.callCount()

	second, err := e.ExecuteInvestigation(context.Background(), "123-456789", false)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, callsAfterFirst, search.callCount(), "cache hit must not touch the backend")

	// force bypasses the cache.
	third, err := e.ExecuteInvestigation(context.Background(), "123-456789", true)
	require.NoError(t, err)
	assert.False(t, third.FromCache)
	assert.Greater(t, search.callCount(), callsAfterFirst)
}

func TestExecuteRoutesInvestigationIntent(t *testing.T) {
	search := incidentFixture()
	e := New(search, nil)

	spec := execSpec()
	spec.Intent = schema.IntentInvestigation
	spec.IncidentID = "123-456789"

	result, err := e.Execute(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "123-456789", result.Hits[0]["incident_id"])

	// The delegated workflow surfaces the whole bundle, not just the incident.
	require.NotNil(t, result.Investigation)
	assert.Equal(t, "123-456789", result.Investigation.IncidentID)
	assert.Equal(t, 2, result.Investigation.Summary.TotalAlerts)
	assert.Equal(t, 2, result.Investigation.Summary.TotalEndpoints)
	assert.Len(t, result.Investigation.Endpoints, 2)
}

// cveSearcher answers vulnerability lookups by clause shape: web-01 has exact
// records under its keyword name, db-02 only resolves through fuzzy matching.
type cveSearcher struct {
	mu    sync.Mutex
	calls []searchCall
}

func (f *cveSearcher) Search(ctx context.Context, index string, body map[string]any) (*backend.SearchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{index: index, body: body})
	f.mu.Unlock()

	clause := body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)[0].(map[string]any)
	if term, ok := clause["term"].(map[string]any); ok {
		if term["hostname.keyword"] == "web-01" {
			return &backend.SearchResult{Hits: []map[string]any{
				{"_source": map[string]any{"cve_id": "CVE-2024-1111", "cvss_score": 9.8}},
				{"_source": map[string]any{"cve_id": "CVE-2024-2222", "cvss_score": 7.5}},
			}}, nil
		}
		return &backend.SearchResult{}, nil
	}
	params := clause["match"].(map[string]any)["hostname"].(map[string]any)
	if params["query"] == "db-02" {
		return &backend.SearchResult{Hits: []map[string]any{
			{"_score": 4.0, "_source": map[string]any{"cve_id": "CVE-2025-3333"}},
			{"_score": 2.0, "_source": map[string]any{"cve_id": "CVE-2025-4444"}},
		}}, nil
	}
	return &backend.SearchResult{}, nil
}

func (f *cveSearcher) fuzzyHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hosts []string
	for _, call := range f.calls {
		clause := call.body["query"].(map[string]any)["bool"].(map[string]any)["must"].([]any)[0].(map[string]any)
		if match, ok := clause["match"].(map[string]any); ok {
			hosts = append(hosts, match["hostname"].(map[string]any)["query"].(string))
		}
	}
	return hosts
}

func TestLookupCVEsTwoPassMerge(t *testing.T) {
	search := &cveSearcher{}
	e := New(search, nil)

	matches := e.lookupCVEs(context.Background(), []string{"web-01", "db-02"})
	require.Len(t, matches, 4)

	// Exact matches lead the merged list at full confidence.
	assert.Equal(t, "CVE-2024-1111", matches[0].CVEID)
	assert.Equal(t, "CVE-2024-2222", matches[1].CVEID)
	for _, m := range matches[:2] {
		assert.Equal(t, "exact", m.MatchType)
		assert.Equal(t, "web-01", m.Hostname)
		assert.Equal(t, 1.0, m.Confidence)
	}

	// Fuzzy confidence is the normalized score under the cap.
	assert.Equal(t, "fuzzy", matches[2].MatchType)
	assert.Equal(t, "db-02", matches[2].Hostname)
	assert.InDelta(t, 0.8, matches[2].Confidence, 1e-9)
	assert.Equal(t, "fuzzy", matches[3].MatchType)
	assert.InDelta(t, 0.4, matches[3].Confidence, 1e-9)

	// Hosts with exact matches never reach the fuzzy pass.
	assert.Equal(t, []string{"db-02"}, search.fuzzyHosts())
}

func TestExecuteRawValidates(t *testing.T) {
	search := &fakeSearcher{}
	e := New(search, nil)

	_, err := e.ExecuteRaw(context.Background(), "idx-*", map[string]any{"size": 5})
	assert.Error(t, err)
	assert.Equal(t, 0, search.callCount())

	_, err = e.ExecuteRaw(context.Background(), "idx-*", map[string]any{
		"query": map[string]any{"bool": map[string]any{}},
	})
	assert.NoError(t, err)
}

func TestIncidentIDOf(t *testing.T) {
	spec := execSpec()
	assert.Equal(t, "", incidentIDOf(spec))

	spec.Filters.Custom = map[string]any{"incident_id.keyword": "42-000042"}
	assert.Equal(t, "42-000042", incidentIDOf(spec))

	spec.IncidentID = "777-000777"
	assert.Equal(t, "777-000777", incidentIDOf(spec))
}

func TestHostNamesOf(t *testing.T) {
	names := hostNamesOf(map[string]any{
		"hosts": []any{"web-01:abc", "db-02", "web-01:abc", ""},
	})
	assert.Equal(t, []string{"web-01", "db-02"}, names)

	assert.Nil(t, hostNamesOf(map[string]any{}))
}
