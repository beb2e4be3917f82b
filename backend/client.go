// Package backend wraps the search cluster client. Every call is a single
// context-aware round-trip with no internal retries; failures surface the
// cluster's own error type, reason and status code so the caller sees what
// the cluster saw.
package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v9"
	"github.com/elastic/go-elasticsearch/v9/esapi"
	"go.uber.org/zap"

	"inquest/metrics"
)

// Config holds cluster connection settings.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	// InsecureSkipTLS disables certificate verification, for self-signed
	// cluster certs.
	InsecureSkipTLS bool
	Logger          *zap.SugaredLogger
}

// Client is a thin search-cluster client, safe for concurrent use.
type Client struct {
	es     *elasticsearch.Client
	logger *zap.SugaredLogger
}

// Error carries the cluster's error response.
type Error struct {
	StatusCode     int
	Type           string
	Reason         string
	CausedByType   string
	CausedByReason string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("backend error (status %d)", e.StatusCode)
	if e.Type != "" {
		msg += fmt.Sprintf(": %s", e.Type)
	}
	if e.Reason != "" {
		msg += fmt.Sprintf(": %s", e.Reason)
	}
	if e.CausedByType != "" {
		msg += fmt.Sprintf(" (caused by %s: %s)", e.CausedByType, e.CausedByReason)
	}
	return msg
}

// SearchResult is one search round-trip's outcome.
type SearchResult struct {
	// Hits are the raw hit objects, _source and metadata included.
	Hits []map[string]any
	// Sources are the hit documents alone.
	Sources      []map[string]any
	Total        int
	Aggregations map[string]any
	Took         time.Duration
}

// New creates a cluster client.
func New(cfg *Config) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
	}
	if cfg.InsecureSkipTLS {
		esCfg.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("create backend client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Client{es: es, logger: logger}, nil
}

// Search executes one DSL body against an index pattern.
func (c *Client) Search(ctx context.Context, index string, body map[string]any) (*SearchResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode query body: %w", err)
	}

	start := time.Now()
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(payload)),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("search").Inc()
		return nil, fmt.Errorf("search %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.BackendErrors.WithLabelValues("search").Inc()
		return nil, decodeError(res)
	}

	var parsed struct {
		Hits struct {
			Total struct {
				Value int `json:"value"`
			} `json:"total"`
			Hits []map[string]any `json:"hits"`
		} `json:"hits"`
		Aggregations map[string]any `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	result := &SearchResult{
		Hits:         parsed.Hits.Hits,
		Total:        parsed.Hits.Total.Value,
		Aggregations: parsed.Aggregations,
		Took:         time.Since(start),
	}
	for _, hit := range parsed.Hits.Hits {
		if src, ok := hit["_source"].(map[string]any); ok {
			result.Sources = append(result.Sources, src)
		}
	}

	c.logger.Debugw("search executed",
		"index", index, "total", result.Total, "hits", len(result.Hits), "took", result.Took)
	return result, nil
}

// Count returns the match count for a body's query clause.
func (c *Client) Count(ctx context.Context, index string, body map[string]any) (int, error) {
	countBody := map[string]any{}
	if q, ok := body["query"]; ok {
		countBody["query"] = q
	}
	payload, err := json.Marshal(countBody)
	if err != nil {
		return 0, fmt.Errorf("encode count body: %w", err)
	}

	res, err := c.es.Count(
		c.es.Count.WithContext(ctx),
		c.es.Count.WithIndex(index),
		c.es.Count.WithBody(bytes.NewReader(payload)),
	)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("count").Inc()
		return 0, fmt.Errorf("count %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.BackendErrors.WithLabelValues("count").Inc()
		return 0, decodeError(res)
	}

	var parsed struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return parsed.Count, nil
}

// IndexExists reports whether any index matches the pattern.
func (c *Client) IndexExists(ctx context.Context, index string) (bool, error) {
	res, err := c.es.Indices.Exists(
		[]string{index},
		c.es.Indices.Exists.WithContext(ctx),
	)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("index_exists").Inc()
		return false, fmt.Errorf("index exists %s: %w", index, err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)
	return res.StatusCode == http.StatusOK, nil
}

// GetMapping fetches field mappings for an index pattern.
func (c *Client) GetMapping(ctx context.Context, index string) (map[string]any, error) {
	res, err := c.es.Indices.GetMapping(
		c.es.Indices.GetMapping.WithContext(ctx),
		c.es.Indices.GetMapping.WithIndex(index),
	)
	if err != nil {
		metrics.BackendErrors.WithLabelValues("get_mapping").Inc()
		return nil, fmt.Errorf("get mapping %s: %w", index, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		metrics.BackendErrors.WithLabelValues("get_mapping").Inc()
		return nil, decodeError(res)
	}

	var parsed map[string]any
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mapping response: %w", err)
	}
	return parsed, nil
}

// Health checks cluster reachability.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		metrics.BackendErrors.WithLabelValues("health").Inc()
		return fmt.Errorf("cluster health: %w", err)
	}
	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	if res.IsError() {
		return &Error{StatusCode: res.StatusCode, Reason: "cluster health check failed"}
	}
	return nil
}

// decodeError lifts the cluster's error body into an Error. Unparsable
// bodies still keep the status code and a raw excerpt.
func decodeError(res *esapi.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4096))

	var parsed struct {
		Error struct {
			Type     string `json:"type"`
			Reason   string `json:"reason"`
			CausedBy struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"caused_by"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Error.Type == "" {
		return &Error{StatusCode: res.StatusCode, Reason: string(raw)}
	}
	return &Error{
		StatusCode:     res.StatusCode,
		Type:           parsed.Error.Type,
		Reason:         parsed.Error.Reason,
		CausedByType:   parsed.Error.CausedBy.Type,
		CausedByReason: parsed.Error.CausedBy.Reason,
	}
}
