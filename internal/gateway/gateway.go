// Package gateway assembles the HTTP surface: the inspection pipeline in
// front of the reverse proxy, the BFF aggregation endpoints, authentication,
// health, and the admin surface.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aegisgate/aegisgate/internal/aggregate"
	"github.com/aegisgate/aegisgate/internal/cache"
	"github.com/aegisgate/aegisgate/internal/cartographer"
	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/expr"
	"github.com/aegisgate/aegisgate/internal/identity"
	"github.com/aegisgate/aegisgate/internal/inspect"
	"github.com/aegisgate/aegisgate/internal/metrics"
	"github.com/aegisgate/aegisgate/internal/redact"
	"github.com/aegisgate/aegisgate/internal/risk"
)

// Gateway owns the request path. Policy-derived components live in an
// atomically swappable bundle so a configuration reload never tears a
// request between old and new policy.
type Gateway struct {
	log   *slog.Logger
	audit *slog.Logger

	metrics *metrics.Recorder
	store   cache.Store
	carto   *cartographer.Cartographer
	anomaly *inspect.AnomalyTracker
	scorer  risk.Scorer

	schemas *inspect.SchemaRegistry
	exprEnv *expr.Environment

	proxyClient  *http.Client
	authClient   *http.Client
	healthClient *http.Client

	bundle atomic.Pointer[bundle]
}

type bundle struct {
	settings    config.Settings
	resolver    *identity.Resolver
	chain       *inspect.Chain
	profiler    *inspect.Profiler
	transformer *redact.Transformer
	engine      *aggregate.Engine
	aggRoutes   []aggRoute
	backendURL  *url.URL
}

// aggRoute matches one aggregation public path; {param} segments capture
// into the template context's path_params scope.
type aggRoute struct {
	segments []string
	endpoint *aggregate.Endpoint
}

// New wires the gateway from its long-lived collaborators and the initial
// settings snapshot.
func New(cfg config.Settings, store cache.Store, carto *cartographer.Cartographer, scorer risk.Scorer, recorder *metrics.Recorder, log, audit *slog.Logger) (*Gateway, error) {
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, err
	}
	g := &Gateway{
		log:          log,
		audit:        audit,
		metrics:      recorder,
		store:        store,
		carto:        carto,
		anomaly:      inspect.NewAnomalyTracker(),
		scorer:       scorer,
		schemas:      inspect.NewSchemaRegistry(),
		exprEnv:      env,
		proxyClient:  &http.Client{Timeout: 30 * time.Second},
		authClient:   &http.Client{Timeout: 10 * time.Second},
		healthClient: &http.Client{Timeout: 5 * time.Second},
	}
	if err := g.ApplySettings(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

// ApplySettings rebuilds every policy-derived component and publishes the
// new bundle. Cached aggregation responses are purged because the policy
// they were computed under may have changed.
func (g *Gateway) ApplySettings(cfg config.Settings) error {
	backendURL, err := url.Parse(cfg.BackendTargetURL)
	if err != nil {
		return fmt.Errorf("gateway: parse backend target url: %w", err)
	}

	payload, err := inspect.NewPayloadInspector(cfg.InspectionRules, g.schemas, g.exprEnv, g.audit)
	if err != nil {
		return err
	}
	authorizer, err := inspect.NewAuthorizer(cfg.AuthorizationPolicies)
	if err != nil {
		return err
	}
	profiler := inspect.NewProfiler(g.store, cfg.BehavioralAnalysis, g.log)

	chain := inspect.NewChain(
		&cartographerInspector{carto: g.carto},
		inspect.NewThreatIntel(cfg.ThreatIntel, g.log, g.audit),
		payload,
		profiler,
		authorizer,
		&anomalyInspector{tracker: g.anomaly},
	)

	engine := aggregate.New(cfg.Aggregations, g.store, cfg.AggregationCache.TTLSeconds, g.log)
	routes := make([]aggRoute, 0, len(engine.Endpoints()))
	for _, ep := range engine.Endpoints() {
		routes = append(routes, aggRoute{
			segments: strings.Split(ep.PublicPath(), "/"),
			endpoint: ep,
		})
	}

	next := &bundle{
		settings:    cfg,
		resolver:    identity.NewResolver(cfg.Clients, cfg.JWTSecretKey),
		chain:       chain,
		profiler:    profiler,
		transformer: redact.NewTransformer(cfg.PiiScanPolicy, redact.NewHTTPRecognizer(cfg.PiiEngine.URL), g.log, g.audit),
		engine:      engine,
		aggRoutes:   routes,
		backendURL:  backendURL,
	}

	old := g.bundle.Swap(next)
	if old != nil {
		if err := next.engine.PurgeCache(context.Background()); err != nil && g.log != nil {
			g.log.Warn("aggregation cache purge after reload failed",
				slog.String("agent", "gateway"),
				slog.String("error", err.Error()),
			)
		}
		if g.audit != nil {
			g.audit.Warn("POLICY_RELOADED",
				slog.String("agent", "gateway"),
				slog.Int("inspection_rules", len(cfg.InspectionRules)),
				slog.Int("aggregations", len(cfg.Aggregations)),
			)
		}
	}
	return nil
}

// Router builds the chi handler. Fixed routes take precedence; everything
// else flows into the aggregation matcher and then the proxy pipeline.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)

	r.Post("/auth/login", g.handleLogin)
	r.Post("/auth/refresh", g.handleRefresh)
	r.Get("/health", g.handleHealth)
	r.Post("/admin/spec", g.handleAdminSpec)
	if g.metrics != nil {
		r.Handle("/metrics", g.metrics.Handler())
	}

	r.NotFound(g.handleCatchAll)
	r.MethodNotAllowed(g.handleCatchAll)
	return r
}

// handleCatchAll serves aggregation endpoints and the proxy pipeline.
func (g *Gateway) handleCatchAll(w http.ResponseWriter, r *http.Request) {
	b := g.bundle.Load()
	if r.Method == http.MethodGet || r.Method == http.MethodPost {
		for i := range b.aggRoutes {
			if params, ok := b.aggRoutes[i].match(r.URL.Path); ok {
				g.handleAggregation(w, r, b, b.aggRoutes[i].endpoint, params)
				return
			}
		}
	}
	g.handleProxy(w, r, b)
}

func (route *aggRoute) match(path string) (map[string]string, bool) {
	segments := strings.Split(path, "/")
	if len(segments) != len(route.segments) {
		return nil, false
	}
	var params map[string]string
	for i, want := range route.segments {
		if strings.HasPrefix(want, "{") && strings.HasSuffix(want, "}") && len(want) > 2 {
			if segments[i] == "" {
				return nil, false
			}
			if params == nil {
				params = make(map[string]string)
			}
			params[want[1:len(want)-1]] = segments[i]
			continue
		}
		if want != segments[i] {
			return nil, false
		}
	}
	return params, true
}

type cartographerInspector struct {
	carto *cartographer.Cartographer
}

func (c *cartographerInspector) Name() string { return "cartographer" }

func (c *cartographerInspector) Inspect(_ context.Context, st *inspect.State) *inspect.Violation {
	return c.carto.Check(st.Method, st.Path)
}

type anomalyInspector struct {
	tracker *inspect.AnomalyTracker
}

func (a *anomalyInspector) Name() string { return "anomaly" }

func (a *anomalyInspector) Inspect(_ context.Context, st *inspect.State) *inspect.Violation {
	return a.tracker.Allow(st.ClientID)
}

// respondDetail writes the FastAPI-style {"detail": ...} error body used
// across the whole surface.
func respondDetail(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"detail": detail})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// auditBlocked emits the single critical audit event for a rejected
// request.
func (g *Gateway) auditBlocked(clientID, peer string, v *inspect.Violation) {
	if g.audit != nil {
		g.audit.Error("REQUEST_BLOCKED",
			slog.String("agent", v.Inspector),
			slog.String("client_id", clientID),
			slog.String("peer", peer),
			slog.String("reason", v.Detail),
		)
	}
	if g.metrics != nil {
		g.metrics.ObserveBlock(v.Inspector)
	}
}
