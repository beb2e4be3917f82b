package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"inquest/mapping"
	"inquest/metrics"
	"inquest/schema"
)

// fuzzyConfidenceCap keeps an approximate vulnerability match from ever
// outranking an exact one.
const fuzzyConfidenceCap = 0.8

// CVEMatch is one vulnerability finding for a host.
type CVEMatch struct {
	CVEID       string  `json:"cve_id"`
	Hostname    string  `json:"hostname"`
	CVSSScore   float64 `json:"cvss_score,omitempty"`
	Description string  `json:"description,omitempty"`
	// MatchType is "exact" or "fuzzy".
	MatchType  string  `json:"match_type"`
	Confidence float64 `json:"confidence"`
}

// BundleSummary carries the per-facet counts of a bundle.
type BundleSummary struct {
	TotalAlerts    int `json:"total_alerts"`
	TotalFiles     int `json:"total_files"`
	TotalNetworks  int `json:"total_networks"`
	TotalProcesses int `json:"total_processes"`
	TotalEndpoints int `json:"total_endpoints"`
	TotalCVEs      int `json:"total_cves"`
}

// InvestigationBundle aggregates everything related to one incident. Any
// facet may be empty; a partial sub-fetch failure degrades that facet, never
// the bundle.
type InvestigationBundle struct {
	IncidentID string           `json:"incident_id"`
	Incident   map[string]any   `json:"incident"`
	Alerts     []map[string]any `json:"alerts"`
	Files      []map[string]any `json:"files"`
	Networks   []map[string]any `json:"networks"`
	Processes  []map[string]any `json:"processes"`
	Endpoints  []map[string]any `json:"endpoints"`
	CVEs       []CVEMatch       `json:"cves"`
	Summary    BundleSummary    `json:"summary"`
	FromCache  bool             `json:"from_cache,omitempty"`
	Took       time.Duration    `json:"took"`
}

func (b *InvestigationBundle) asResult() *Result {
	return &Result{
		Hits:          []map[string]any{b.Incident},
		Total:         1,
		Took:          b.Took,
		Investigation: b,
	}
}

// ExecuteInvestigation resolves one incident and everything related to it.
// Stage 1 fetches the incident (zero matches is terminal). Stage 2 fans out
// over the correlated record types concurrently. Stage 3 resolves endpoints
// from the incident's hosts, and stage 4 runs the two-pass CVE lookup per
// host name. force bypasses the bundle cache.
func (e *Executor) ExecuteInvestigation(ctx context.Context, incidentID string, force bool) (*InvestigationBundle, error) {
	if e.cache != nil && !force {
		if bundle, ok := e.cache.Get(incidentID); ok {
			metrics.InvestigationCacheHits.Inc()
			cached := *bundle
			cached.FromCache = true
			return &cached, nil
		}
	}

	start := time.Now()
	bundle, err := e.investigate(ctx, incidentID)
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	bundle.Took = time.Since(start)
	metrics.InvestigationsTotal.WithLabelValues("success").Inc()

	if e.cache != nil {
		e.cache.Add(incidentID, bundle)
	}
	return bundle, nil
}

func (e *Executor) investigate(ctx context.Context, incidentID string) (*InvestigationBundle, error) {
	incident, err := e.fetchIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}

	bundle := &InvestigationBundle{IncidentID: incidentID, Incident: incident}

	// Correlated sub-fetches are independent; each failure degrades to an
	// empty facet.
	var g errgroup.Group
	for _, f := range []struct {
		artifactType string
		dest         *[]map[string]any
	}{
		{"alerts", &bundle.Alerts},
		{"files", &bundle.Files},
		{"networks", &bundle.Networks},
		{"processes", &bundle.Processes},
	} {
		g.Go(func() error {
			docs, err := e.fetchRelated(ctx, f.artifactType, incidentID)
			if err != nil {
				e.logger.Warnw("investigation sub-fetch failed",
					"incident_id", incidentID, "artifact_type", f.artifactType, "error", err)
				return nil
			}
			*f.dest = docs
			return nil
		})
	}
	g.Wait()

	hostNames := hostNamesOf(incident)
	if len(hostNames) > 0 {
		endpoints, err := e.fetchEndpoints(ctx, hostNames)
		if err != nil {
			e.logger.Warnw("endpoint fetch failed", "incident_id", incidentID, "error", err)
		} else {
			bundle.Endpoints = endpoints
		}

		// Endpoint records carry the authoritative host names; fall back to
		// the incident's own list when none resolved.
		cveHosts := endpointNamesOf(bundle.Endpoints)
		if len(cveHosts) == 0 {
			cveHosts = hostNames
		}
		bundle.CVEs = e.lookupCVEs(ctx, cveHosts)
	}

	bundle.Summary = BundleSummary{
		TotalAlerts:    len(bundle.Alerts),
		TotalFiles:     len(bundle.Files),
		TotalNetworks:  len(bundle.Networks),
		TotalProcesses: len(bundle.Processes),
		TotalEndpoints: len(bundle.Endpoints),
		TotalCVEs:      len(bundle.CVEs),
	}
	return bundle, nil
}

func (e *Executor) fetchIncident(ctx context.Context, incidentID string) (map[string]any, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"incident_id.keyword": incidentID}},
				},
			},
		},
		"size": 1,
	}
	sr, err := e.search.Search(ctx, mapping.IndexPattern(schema.DataTypeIncidents), body)
	if err != nil {
		return nil, fmt.Errorf("fetch incident %s: %w", incidentID, err)
	}
	if len(sr.Sources) == 0 {
		return nil, fmt.Errorf("incident %s: %w", incidentID, ErrIncidentNotFound)
	}
	return sr.Sources[0], nil
}

func (e *Executor) fetchRelated(ctx context.Context, artifactType, incidentID string) ([]map[string]any, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"term": map[string]any{"incident_id.keyword": incidentID}},
				},
			},
		},
		"size": 1000,
	}
	sr, err := e.search.Search(ctx, mapping.RelationshipIndex(artifactType), body)
	if err != nil {
		return nil, err
	}
	return sr.Sources, nil
}

func (e *Executor) fetchEndpoints(ctx context.Context, hostNames []string) ([]map[string]any, error) {
	body := map[string]any{
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []any{
					map[string]any{"terms": map[string]any{"endpoint_name.keyword": hostNames}},
				},
			},
		},
		"size": len(hostNames) * 2,
	}
	sr, err := e.search.Search(ctx, mapping.IndexPattern(schema.DataTypeEndpoints), body)
	if err != nil {
		return nil, err
	}
	return sr.Sources, nil
}

// lookupCVEs runs the two-pass vulnerability lookup. Pass one queries every
// host with an exact name term; pass two retries only the hosts without
// exact matches using fuzzy matching. Exact matches carry confidence 1.0 and
// always precede fuzzy matches in the merged list. A host never appears in
// both passes.
func (e *Executor) lookupCVEs(ctx context.Context, hostNames []string) []CVEMatch {
	cveIndex := mapping.TISubIndex("cve")

	var exact []CVEMatch
	var missed []string
	for _, host := range hostNames {
		matches, err := e.queryCVEs(ctx, cveIndex, host, false)
		if err != nil {
			e.logger.Warnw("exact cve lookup failed", "host", host, "error", err)
			continue
		}
		if len(matches) == 0 {
			missed = append(missed, host)
			continue
		}
		exact = append(exact, matches...)
	}

	var fuzzy []CVEMatch
	for _, host := range missed {
		matches, err := e.queryCVEs(ctx, cveIndex, host, true)
		if err != nil {
			e.logger.Warnw("fuzzy cve lookup failed", "host", host, "error", err)
			continue
		}
		fuzzy = append(fuzzy, matches...)
	}

	return append(exact, fuzzy...)
}

func (e *Executor) queryCVEs(ctx context.Context, index, host string, fuzzy bool) ([]CVEMatch, error) {
	var clause map[string]any
	if fuzzy {
		clause = map[string]any{
			"match": map[string]any{
				"hostname": map[string]any{"query": host, "fuzziness": "AUTO"},
			},
		}
	} else {
		clause = map[string]any{"term": map[string]any{"hostname.keyword": host}}
	}

	body := map[string]any{
		"query": map[string]any{"bool": map[string]any{"must": []any{clause}}},
		"size":  100,
	}
	sr, err := e.search.Search(ctx, index, body)
	if err != nil {
		return nil, err
	}

	maxScore := 0.0
	if fuzzy {
		for _, hit := range sr.Hits {
			if s, ok := hit["_score"].(float64); ok && s > maxScore {
				maxScore = s
			}
		}
	}

	var matches []CVEMatch
	for _, hit := range sr.Hits {
		src, ok := hit["_source"].(map[string]any)
		if !ok {
			continue
		}
		m := CVEMatch{
			CVEID:       stringField(src, "cve_id"),
			Hostname:    host,
			Description: stringField(src, "description"),
			MatchType:   "exact",
			Confidence:  1.0,
		}
		if score, ok := src["cvss_score"].(float64); ok {
			m.CVSSScore = score
		}
		if fuzzy {
			m.MatchType = "fuzzy"
			m.Confidence = fuzzyConfidenceCap
			if score, ok := hit["_score"].(float64); ok && maxScore > 0 {
				m.Confidence = fuzzyConfidenceCap * (score / maxScore)
			}
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// hostNamesOf extracts distinct host names from an incident record. Host
// entries use the "name:id" convention; only the name part identifies the
// endpoint.
func hostNamesOf(incident map[string]any) []string {
	raw, ok := incident["hosts"].([]any)
	if !ok {
		return nil
	}
	seen := map[string]bool{}
	var names []string
	for _, h := range raw {
		s, ok := h.(string)
		if !ok || s == "" {
			continue
		}
		name := s
		if idx := strings.Index(s, ":"); idx > 0 {
			name = s[:idx]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func endpointNamesOf(endpoints []map[string]any) []string {
	seen := map[string]bool{}
	var names []string
	for _, ep := range endpoints {
		name := stringField(ep, "endpoint_name")
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

func stringField(doc map[string]any, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}
