// Package executor runs validated query specs against the search backend:
// single queries, correlation chains, and the multi-stage incident
// investigation workflow.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"inquest/backend"
	"inquest/builder"
	"inquest/metrics"
	"inquest/schema"
)

// Searcher is the backend surface the executor needs.
type Searcher interface {
	Search(ctx context.Context, index string, body map[string]any) (*backend.SearchResult, error)
}

// Result is one executed query's outcome.
type Result struct {
	// Hits are the matched documents (_source only).
	Hits         []map[string]any `json:"hits,omitempty"`
	Total        int              `json:"total"`
	Aggregations map[string]any   `json:"aggregations,omitempty"`
	Took         time.Duration    `json:"took"`
	// Query is the compiled body, kept for debugging.
	Query map[string]any `json:"query,omitempty"`
	// Correlation carries the chained second-stage result, if any.
	Correlation *Result `json:"correlation,omitempty"`
	// Investigation carries the full bundle when the spec delegated to the
	// investigation workflow.
	Investigation *InvestigationBundle `json:"investigation,omitempty"`
}

// Config tunes the executor.
type Config struct {
	// CacheSize bounds the investigation bundle cache; zero disables it.
	CacheSize int
	CacheTTL  time.Duration
	Logger    *zap.SugaredLogger
}

// Executor is safe for concurrent use.
type Executor struct {
	search Searcher
	logger *zap.SugaredLogger
	cache  *expirable.LRU[string, *InvestigationBundle]
}

// New creates an executor over a search backend.
func New(search Searcher, cfg *Config) *Executor {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var cache *expirable.LRU[string, *InvestigationBundle]
	if cfg.CacheSize > 0 {
		cache = expirable.NewLRU[string, *InvestigationBundle](cfg.CacheSize, nil, cfg.CacheTTL)
	}

	return &Executor{search: search, logger: logger, cache: cache}
}

// Execute runs a spec. Investigation specs carrying a case identifier
// delegate to the investigation workflow; everything else is a compile,
// validate, normalize, search sequence, chained into a correlation join for
// correlation intents.
func (e *Executor) Execute(ctx context.Context, spec *schema.QuerySpec) (*Result, error) {
	if spec.Intent == schema.IntentInvestigation && incidentIDOf(spec) != "" {
		bundle, err := e.ExecuteInvestigation(ctx, incidentIDOf(spec), false)
		if err != nil {
			return nil, err
		}
		return bundle.asResult(), nil
	}

	start := time.Now()
	result, err := e.executeSpec(ctx, spec)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.QueriesExecuted.WithLabelValues(string(spec.Intent), string(spec.DataType), outcome).Inc()
	metrics.QueryDuration.WithLabelValues(string(spec.Intent)).Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Executor) executeSpec(ctx context.Context, spec *schema.QuerySpec) (*Result, error) {
	body, err := builder.Build(spec)
	if err != nil {
		return nil, err
	}
	if err := builder.ValidateQuery(body); err != nil {
		return nil, fmt.Errorf("query validation: %w", err)
	}
	body = builder.Normalize(body)

	sr, err := e.search.Search(ctx, spec.IndexPattern, body)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Hits:         sr.Sources,
		Total:        sr.Total,
		Aggregations: sr.Aggregations,
		Took:         sr.Took,
		Query:        body,
	}

	if spec.Intent == schema.IntentCorrelation && len(sr.Hits) > 0 {
		corr, err := e.executeCorrelation(ctx, spec, sr.Hits)
		if err != nil {
			return nil, err
		}
		result.Correlation = corr
	}

	return result, nil
}

// ExecuteRaw runs a pre-compiled body against an index pattern.
func (e *Executor) ExecuteRaw(ctx context.Context, index string, body map[string]any) (*Result, error) {
	if err := builder.ValidateQuery(body); err != nil {
		return nil, fmt.Errorf("query validation: %w", err)
	}
	sr, err := e.search.Search(ctx, index, body)
	if err != nil {
		return nil, err
	}
	return &Result{
		Hits:         sr.Sources,
		Total:        sr.Total,
		Aggregations: sr.Aggregations,
		Took:         sr.Took,
		Query:        body,
	}, nil
}

func (e *Executor) executeCorrelation(ctx context.Context, spec *schema.QuerySpec, primaryHits []map[string]any) (*Result, error) {
	if spec.CorrelationTarget == "" || spec.CorrelationField == "" {
		return nil, ErrCorrelationSpec
	}
	body, err := builder.BuildCorrelation(spec, primaryHits)
	if err != nil {
		return nil, err
	}
	return e.ExecuteRaw(ctx, spec.CorrelationTarget, body)
}

// incidentIDOf resolves the case identifier from the dedicated field or the
// exact-match custom filter.
func incidentIDOf(spec *schema.QuerySpec) string {
	if spec.IncidentID != "" {
		return spec.IncidentID
	}
	if spec.Filters.Custom != nil {
		if v, ok := spec.Filters.Custom["incident_id.keyword"].(string); ok {
			return v
		}
	}
	return ""
}
