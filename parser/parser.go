// Package parser turns a security analyst's free-text question into a
// validated query spec. The primary path prompts an LLM and repairs its
// answer with deterministic correction rules; any primary-path failure,
// including a candidate that fails schema validation, falls back to a pure
// rule-based parse. Only a fallback validation failure is terminal.
package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"inquest/dateparse"
	"inquest/llm"
	"inquest/mapping"
	"inquest/metrics"
	"inquest/schema"
)

// Parser is safe for concurrent use.
type Parser struct {
	llm    llm.Completer
	logger *zap.SugaredLogger
	now    func() time.Time
}

// Option configures a Parser.
type Option func(*Parser)

// WithClock overrides the reference-time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) { p.now = now }
}

// New creates a parser. A nil completer disables the primary path and every
// parse goes straight to the rule-based fallback.
func New(completer llm.Completer, logger *zap.SugaredLogger, opts ...Option) *Parser {
	p := &Parser{llm: completer, logger: logger, now: time.Now}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts one question into a validated spec.
func (p *Parser) Parse(ctx context.Context, query string) (*schema.QuerySpec, error) {
	ref := p.now()

	if p.llm != nil {
		spec, err := p.parsePrimary(ctx, query, ref)
		if err == nil {
			metrics.ParsesTotal.WithLabelValues("primary", "success").Inc()
			return spec, nil
		}
		metrics.ParsesTotal.WithLabelValues("primary", "error").Inc()
		metrics.FallbacksTotal.Inc()
		p.logger.Warnw("primary parse failed, using fallback", "query", query, "error", err)
	}

	spec := p.fallbackParse(query, ref)
	if err := schema.Validate(spec); err != nil {
		metrics.ParsesTotal.WithLabelValues("fallback", "error").Inc()
		return nil, fmt.Errorf("parse %q: %w", query, err)
	}
	metrics.ParsesTotal.WithLabelValues("fallback", "success").Inc()
	return spec, nil
}

// ParseBatch parses questions concurrently, preserving input order. The
// first error cancels the remaining parses.
func (p *Parser) ParseBatch(ctx context.Context, queries []string) ([]*schema.QuerySpec, error) {
	specs := make([]*schema.QuerySpec, len(queries))
	g, ctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		g.Go(func() error {
			spec, err := p.Parse(ctx, q)
			if err != nil {
				return err
			}
			specs[i] = spec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return specs, nil
}

// parsePrimary runs the model, extracts its JSON, applies the correction
// pass and validates.
func (p *Parser) parsePrimary(ctx context.Context, query string, ref time.Time) (*schema.QuerySpec, error) {
	text, err := p.llm.Complete(ctx, buildPrompt(query, ref))
	if err != nil {
		return nil, err
	}

	obj, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	spec, err := decodeCandidate(obj)
	if err != nil {
		return nil, err
	}

	p.correct(spec, query, ref)

	if err := schema.Validate(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// decodeCandidate converts the loose model JSON into a spec. Unknown keys
// are dropped; type mismatches are errors and trigger fallback.
func decodeCandidate(obj map[string]any) (*schema.QuerySpec, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, err
	}
	var spec schema.QuerySpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("model JSON does not fit the spec shape: %w", err)
	}
	return &spec, nil
}

// correct repairs a model draft in place. Rules run in a fixed order; the
// incident-ID override wins over everything else.
func (p *Parser) correct(spec *schema.QuerySpec, query string, ref time.Time) {
	spec.OriginalQuery = query
	spec.DataType = mapping.NormalizeDataType(string(spec.DataType))

	if id, ok := detectIncidentID(query); ok {
		p.applyIncidentOverride(spec, id)
		p.backfill(spec, query, ref)
		return
	}

	// An explicit date range overrides the model's draft, but an IOC literal
	// wins over both: indicators are searched across the full retention
	// window no matter what dates the question mentions.
	if r := dateparse.ParseRange(query, ref); r != nil {
		spec.TimeRange = *r
	}
	if value, iocType, ok := detectIOC(query); ok {
		spec.TimeRange = wideIDRange()
		spec.IOCValue = value
		spec.IOCType = iocType
	}

	p.correctIntent(spec, query)

	if n, ok := extractLimit(query); ok {
		spec.Limit = n
	}
	if sev := detectSeverity(query); len(sev) > 0 {
		spec.Filters.Severity = sev
	}
	if kws := detectThreatKeywords(query); len(kws) > 0 {
		setCustom(spec, schema.ThreatKeywordsField, kws)
	}
	if cat, ok := detectAlertCategory(query); ok {
		setCustom(spec, "category.keyword", cat)
	}
	if proc, ok := detectProcessName(query); ok {
		setCustom(spec, "action_process_image_name.keyword", proc)
	}

	p.backfill(spec, query, ref)
}

// correctIntent fixes the model's intent when the question carries an
// unambiguous signal. List wins over report, report over status, status
// over chart, chart over plain count.
func (p *Parser) correctIntent(spec *schema.QuerySpec, query string) {
	switch {
	case listKeywordRe.MatchString(query):
		spec.Intent = schema.IntentList
	case reportKeywordRe.MatchString(query):
		spec.Intent = schema.IntentReport
	case statusKeywordRe.MatchString(query):
		if spec.Intent != schema.IntentReport {
			spec.Intent = schema.IntentOverview
			if spec.Aggregation == "" {
				spec.Aggregation = schema.AggTerms
			}
		}
	case chartKeywordRe.MatchString(query):
		spec.Intent = schema.IntentOverview
		spec.Aggregation = schema.AggDateHistogram
	case statsKeywordRe.MatchString(query):
		spec.Intent = schema.IntentOverview
		if spec.Aggregation == "" {
			spec.Aggregation = schema.AggCount
		}
	}
}

// applyIncidentOverride replaces the draft with the canonical single-incident
// lookup. Model output is deliberately ignored here.
func (p *Parser) applyIncidentOverride(spec *schema.QuerySpec, id string) {
	spec.Intent = schema.IntentInvestigation
	spec.DataType = schema.DataTypeIncidents
	spec.IndexPattern = mapping.IndexPattern(schema.DataTypeIncidents)
	spec.TimeRange = wideIDRange()
	spec.Filters = schema.Filters{Custom: map[string]any{"incident_id.keyword": id}}
	spec.Limit = 1
	spec.Optimize = schema.OptimizeDetail
	spec.IncidentID = id
	spec.Aggregation = ""
	spec.Fields = nil
}

// backfill fills everything a spec must carry that neither the model nor the
// extraction rules set.
func (p *Parser) backfill(spec *schema.QuerySpec, query string, ref time.Time) {
	if spec.DataType == "" {
		spec.DataType = p.inferDataType(query)
	}
	if spec.IndexPattern == "" {
		spec.IndexPattern = mapping.IndexPattern(spec.DataType)
	}
	if spec.TimeRange.Start.IsZero() || spec.TimeRange.End.IsZero() {
		if r := dateparse.Parse(query, ref); r != nil {
			spec.TimeRange = *r
		} else {
			spec.TimeRange = schema.TimeRange{Start: ref.AddDate(0, 0, -7), End: ref}
		}
	}
	if spec.Intent == schema.IntentList {
		if spec.Limit == 0 {
			if n, ok := extractLimit(query); ok {
				spec.Limit = n
			}
		}
		if len(spec.Fields) == 0 {
			if spec.Optimize == schema.OptimizeAggregate {
				spec.Fields = mapping.SummaryFields(spec.DataType)
			} else {
				spec.Fields = mapping.FullFields(spec.DataType)
			}
		}
	}
	if spec.Optimize == "" {
		switch {
		case spec.IsAggregationOnly():
			spec.Optimize = schema.OptimizeAggregate
		case spec.Intent == schema.IntentList:
			spec.Optimize = schema.OptimizeDetail
		default:
			spec.Optimize = schema.OptimizeAuto
		}
	}
	spec.ApplyDefaults()
}

// fallbackParse builds a spec from the raw text alone.
func (p *Parser) fallbackParse(query string, ref time.Time) *schema.QuerySpec {
	spec := &schema.QuerySpec{OriginalQuery: query}

	if id, ok := detectIncidentID(query); ok {
		p.applyIncidentOverride(spec, id)
		spec.ApplyDefaults()
		return spec
	}

	switch {
	case corrKeywordRe.MatchString(query):
		spec.Intent = schema.IntentCorrelation
	case chartKeywordRe.MatchString(query):
		spec.Intent = schema.IntentOverview
		spec.Aggregation = schema.AggDateHistogram
	case statsKeywordRe.MatchString(query):
		spec.Intent = schema.IntentOverview
		spec.Aggregation = schema.AggCount
	case reportKeywordRe.MatchString(query):
		spec.Intent = schema.IntentReport
	default:
		spec.Intent = schema.IntentList
	}

	spec.DataType = p.inferDataType(query)

	if value, iocType, ok := detectIOC(query); ok {
		spec.TimeRange = wideIDRange()
		spec.IOCValue = value
		spec.IOCType = iocType
	} else if r := dateparse.Parse(query, ref); r != nil {
		spec.TimeRange = *r
	} else {
		spec.TimeRange = schema.TimeRange{Start: ref.AddDate(0, 0, -7), End: ref}
	}

	if sev := detectSeverity(query); len(sev) > 0 {
		spec.Filters.Severity = sev
	}
	if vendor, ok := p.inferVendor(query); ok {
		spec.Filters.Vendor = vendor
	}
	if status, ok := detectStatus(query); ok {
		spec.Filters.Status = status
	}
	if ds, ok := detectDetectionStatus(query); ok {
		spec.Filters.DetectionStatus = ds
	}
	if kws := detectThreatKeywords(query); len(kws) > 0 {
		setCustom(spec, schema.ThreatKeywordsField, kws)
	}
	if cat, ok := detectAlertCategory(query); ok {
		setCustom(spec, "category.keyword", cat)
	}
	if proc, ok := detectProcessName(query); ok {
		setCustom(spec, "action_process_image_name.keyword", proc)
	}

	spec.IndexPattern = mapping.IndexPattern(spec.DataType)

	if spec.Intent == schema.IntentList {
		spec.Fields = mapping.SummaryFields(spec.DataType)
		if n, ok := extractLimit(query); ok {
			spec.Limit = n
		}
	}

	if spec.IsAggregationOnly() {
		spec.Optimize = schema.OptimizeAggregate
	} else {
		spec.Optimize = schema.OptimizeDetail
	}
	spec.ApplyDefaults()
	return spec
}

// inferDataType scans words and two-word phrases against the keyword table.
// Incidents are the default subject.
func (p *Parser) inferDataType(query string) schema.DataType {
	words := strings.Fields(strings.ToLower(query))
	for i := range words {
		if i+1 < len(words) {
			if dt, ok := mapping.KeywordToDataType(words[i] + " " + words[i+1]); ok {
				return dt
			}
		}
	}
	for _, w := range words {
		if dt, ok := mapping.KeywordToDataType(strings.Trim(w, ".,?!")); ok {
			return dt
		}
	}
	return schema.DataTypeIncidents
}

func (p *Parser) inferVendor(query string) (string, bool) {
	words := strings.Fields(strings.ToLower(query))
	for i := range words {
		if i+1 < len(words) {
			if v, ok := mapping.NormalizeVendor(words[i] + " " + words[i+1]); ok {
				return v, true
			}
		}
	}
	for _, w := range words {
		if v, ok := mapping.NormalizeVendor(strings.Trim(w, ".,?!")); ok {
			return v, true
		}
	}
	return "", false
}

func setCustom(spec *schema.QuerySpec, key string, value any) {
	if spec.Filters.Custom == nil {
		spec.Filters.Custom = map[string]any{}
	}
	spec.Filters.Custom[key] = value
}
