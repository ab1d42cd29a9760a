// Package cartographer tracks the backend's documented API surface and
// flags traffic to endpoints that fall outside it (shadow APIs).
package cartographer

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/aegisgate/aegisgate/internal/inspect"
)

// endpointMap is the immutable snapshot swapped atomically on admin reload.
type endpointMap struct {
	known map[string]struct{}
}

// Cartographer holds the known endpoint set (from the backend's OpenAPI
// document) and the shadow set discovered at runtime. The known set is
// replaced wholesale by admin pushes; the shadow set only grows, and an
// endpoint promoted to known by a reload is dropped from it.
type Cartographer struct {
	known atomic.Pointer[endpointMap]

	mu     sync.Mutex
	shadow map[string]struct{}

	blockShadow bool
	audit       *slog.Logger
}

// New builds an empty Cartographer. When blockShadow is set, requests to
// undocumented endpoints are rejected with 501 instead of only audited.
func New(blockShadow bool, audit *slog.Logger) *Cartographer {
	c := &Cartographer{
		shadow:      make(map[string]struct{}),
		blockShadow: blockShadow,
		audit:       audit,
	}
	c.known.Store(&endpointMap{known: map[string]struct{}{}})
	return c
}

// LoadFromURL fetches the backend's OpenAPI document and replaces the known
// set with its operations. A fetch failure leaves the current set in place;
// discovery degrades but the gateway still serves.
func (c *Cartographer) LoadFromURL(ctx context.Context, specURL string) error {
	if specURL == "" {
		return nil
	}
	parsed, err := url.Parse(specURL)
	if err != nil {
		return fmt.Errorf("cartographer: parse spec url: %w", err)
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	doc, err := loader.LoadFromURI(parsed)
	if err != nil {
		return fmt.Errorf("cartographer: load openapi document: %w", err)
	}
	return c.replaceFromDoc(doc)
}

// LoadFromBytes parses an OpenAPI document (YAML or JSON) and replaces the
// known set. Used by the admin push endpoint.
func (c *Cartographer) LoadFromBytes(data []byte) error {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return fmt.Errorf("cartographer: parse openapi document: %w", err)
	}
	return c.replaceFromDoc(doc)
}

func (c *Cartographer) replaceFromDoc(doc *openapi3.T) error {
	if doc.Paths == nil || doc.Paths.Len() == 0 {
		return fmt.Errorf("cartographer: openapi document declares no paths")
	}
	known := make(map[string]struct{})
	for path, item := range doc.Paths.Map() {
		for method := range item.Operations() {
			known[signature(method, path)] = struct{}{}
		}
	}
	c.replace(known)
	return nil
}

// replace swaps the known set and clears the shadow ledger in one critical
// section. Undocumented endpoints still receiving traffic are re-discovered
// and re-audited against the new surface.
func (c *Cartographer) replace(known map[string]struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shadow = make(map[string]struct{})
	c.known.Store(&endpointMap{known: known})
}

// Check validates one request against the documented surface. The first hit
// on an undocumented endpoint records it and emits a critical audit event;
// under a block policy that discovering request is failed with 501. Repeats
// against an already-recorded shadow endpoint pass cleanly and stay silent.
func (c *Cartographer) Check(method, path string) *inspect.Violation {
	sig := signature(method, path)
	if _, ok := c.known.Load().known[sig]; ok {
		return nil
	}

	c.mu.Lock()
	_, seen := c.shadow[sig]
	if !seen {
		c.shadow[sig] = struct{}{}
	}
	c.mu.Unlock()

	if seen {
		return nil
	}

	if c.audit != nil {
		c.audit.Error("shadow API discovered",
			slog.String("agent", "cartographer"),
			slog.String("endpoint", sig),
		)
	}

	if c.blockShadow {
		return inspect.NewViolation("cartographer", http.StatusNotImplemented,
			"this API endpoint is not implemented or has been deprecated")
	}
	return nil
}

// KnownCount reports the size of the documented surface.
func (c *Cartographer) KnownCount() int {
	return len(c.known.Load().known)
}

// ShadowEndpoints returns the discovered undocumented endpoints, sorted.
func (c *Cartographer) ShadowEndpoints() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.shadow))
	for sig := range c.shadow {
		out = append(out, sig)
	}
	sort.Strings(out)
	return out
}

func signature(method, path string) string {
	return strings.ToUpper(method) + " " + path
}
