// Package aggregate implements the BFF fan-out engine: each configured
// aggregation exposes one public endpoint that dispatches its queries to
// backend services in parallel, adapts the responses, and merges them under
// the query names.
package aggregate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aegisgate/aegisgate/internal/cache"
	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/inspect"
)

// fanoutDeadline bounds one whole aggregation fan-out; overrun is a 504.
const fanoutDeadline = 5 * time.Second

// Engine executes aggregations over a shared connection-pooled client.
type Engine struct {
	endpoints []*Endpoint
	client    *http.Client
	store     cache.Store
	ttl       time.Duration
	log       *slog.Logger
}

// Endpoint is one compiled aggregation: its templates are parsed once at
// construction, so request handling only renders and dispatches.
type Endpoint struct {
	agg     config.Aggregation
	queries []compiledQuery
}

type compiledQuery struct {
	query  config.Query
	url    StringTemplate
	params ValueTemplate
	body   ValueTemplate
}

// PublicPath returns the route this endpoint serves.
func (ep *Endpoint) PublicPath() string { return ep.agg.PublicPath }

// New compiles every aggregation. The store may be nil to disable response
// caching.
func New(aggs []config.Aggregation, store cache.Store, ttlSeconds int, log *slog.Logger) *Engine {
	if ttlSeconds <= 0 {
		ttlSeconds = 60
	}
	e := &Engine{
		client: &http.Client{Timeout: fanoutDeadline},
		store:  store,
		ttl:    time.Duration(ttlSeconds) * time.Second,
		log:    log,
	}
	for _, agg := range aggs {
		ep := &Endpoint{agg: agg}
		for _, q := range agg.Queries {
			cq := compiledQuery{
				query: q,
				url:   ParseString(q.BackendURL),
			}
			if q.Params != nil {
				cq.params = ParseValue(q.Params)
			}
			if q.Body != nil {
				cq.body = ParseValue(q.Body)
			}
			ep.queries = append(ep.queries, cq)
		}
		e.endpoints = append(e.endpoints, ep)
	}
	return e
}

// Endpoints returns the compiled aggregations in declaration order.
func (e *Engine) Endpoints() []*Endpoint { return e.endpoints }

// Execute runs one aggregation request. It returns the merged JSON body,
// whether it was served from cache, and a violation for role gates or a
// deadline overrun.
func (e *Engine) Execute(ctx context.Context, ep *Endpoint, claims map[string]any, pathParams, queryParams map[string]string) ([]byte, bool, *inspect.Violation) {
	if ep.agg.RequiredRole != config.RoleAnonymous {
		if len(claims) == 0 {
			return nil, false, inspect.NewViolation("aggregator", http.StatusUnauthorized, "authentication required")
		}
		if role, _ := claims["role"].(string); role != ep.agg.RequiredRole {
			return nil, false, inspect.NewViolation("aggregator", http.StatusForbidden, "forbidden")
		}
	}

	cacheKey := e.cacheKey(ep, claims)
	if e.store != nil {
		if cached, found, err := e.store.Get(ctx, cacheKey); err == nil && found {
			return cached, true, nil
		}
	}

	templateCtx := map[string]any{
		"jwt":          claims,
		"path_params":  stringMapToAny(pathParams),
		"query_params": stringMapToAny(queryParams),
	}

	fanCtx, cancel := context.WithTimeout(ctx, fanoutDeadline)
	defer cancel()

	results := make([]any, len(ep.queries))
	var group errgroup.Group
	for i := range ep.queries {
		group.Go(func() error {
			results[i] = e.runQuery(fanCtx, &ep.queries[i], templateCtx)
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = group.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-fanCtx.Done():
	}
	if fanCtx.Err() != nil {
		return nil, false, inspect.NewViolation("aggregator", http.StatusGatewayTimeout,
			"gateway timeout: upstream services took too long to respond")
	}

	body, err := marshalOrdered(ep.queries, results)
	if err != nil {
		return nil, false, inspect.NewViolation("aggregator", http.StatusInternalServerError, "aggregation encoding failed")
	}

	if e.store != nil {
		if err := e.store.Set(ctx, cacheKey, body, e.ttl); err != nil && e.log != nil {
			e.log.Warn("aggregation cache store failed",
				slog.String("agent", "aggregator"),
				slog.String("error", err.Error()),
			)
		}
	}
	return body, false, nil
}

// runQuery dispatches one sub-request. Upstream failures never fail the
// aggregation; they are captured as the query's result value.
func (e *Engine) runQuery(ctx context.Context, cq *compiledQuery, templateCtx map[string]any) any {
	target := cq.url.Render(templateCtx)

	var bodyReader io.Reader
	if cq.body.object != nil || cq.body.str != nil || cq.body.list != nil {
		rendered := cq.body.Render(templateCtx)
		payload, err := json.Marshal(rendered)
		if err != nil {
			return map[string]any{"error": "backend unreachable"}
		}
		bodyReader = bytes.NewReader(payload)
	}

	if cq.params.object != nil {
		if params, ok := cq.params.Render(templateCtx).(map[string]any); ok && len(params) > 0 {
			values := url.Values{}
			for k, v := range params {
				values.Set(k, stringify(v))
			}
			separator := "?"
			if bytes.ContainsRune([]byte(target), '?') {
				separator = "&"
			}
			target = target + separator + values.Encode()
		}
	}

	req, err := http.NewRequestWithContext(ctx, cq.query.HTTPMethod, target, bodyReader)
	if err != nil {
		return map[string]any{"error": "backend unreachable"}
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.client.Do(req)
	if err != nil {
		e.queryError(cq.query.Name, err)
		return map[string]any{"error": "backend unreachable"}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.queryError(cq.query.Name, err)
		return map[string]any{"error": "backend unreachable"}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return map[string]any{
			"error":  fmt.Sprintf("backend error: %d", resp.StatusCode),
			"detail": string(raw),
		}
	}

	var data any
	if err := json.Unmarshal(raw, &data); err != nil {
		e.queryError(cq.query.Name, err)
		return map[string]any{"error": "backend returned invalid JSON"}
	}
	return applyAdapter(data, cq.query.Adapter)
}

func (e *Engine) queryError(name string, err error) {
	if e.log != nil {
		e.log.Warn("aggregation query failed",
			slog.String("agent", "aggregator"),
			slog.String("query", name),
			slog.String("error", err.Error()),
		)
	}
}

// PurgeCache drops every cached aggregation response. Called when the
// policy surface changes underneath cached results.
func (e *Engine) PurgeCache(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.DeletePrefix(ctx, "agg:")
}

func (e *Engine) cacheKey(ep *Endpoint, claims map[string]any) string {
	user := "anon"
	if id, _ := claims["user_id"].(string); id != "" {
		user = id
	}
	return fmt.Sprintf("agg:%s:%s", ep.agg.PublicPath, user)
}

// marshalOrdered emits {name: result} preserving query declaration order.
func marshalOrdered(queries []compiledQuery, results []any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, cq := range queries {
		if i > 0 {
			b.WriteByte(',')
		}
		name, err := json.Marshal(cq.query.Name)
		if err != nil {
			return nil, err
		}
		b.Write(name)
		b.WriteByte(':')
		value, err := json.Marshal(results[i])
		if err != nil {
			return nil, err
		}
		b.Write(value)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
