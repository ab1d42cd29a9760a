package inspect

import (
	"context"
	"net/http"
)

// State carries one request through the ordered inspector chain. The
// identity resolver fills the principal fields before the first inspector
// runs; inspectors only read.
type State struct {
	Method   string
	Path     string
	RawQuery string
	Body     []byte
	Header   http.Header
	Peer     string

	ClientID   string
	ClientRole string
	Claims     map[string]any
}

// Inspector is one stage of the pipeline. A nil return admits the request
// to the next stage.
type Inspector interface {
	Name() string
	Inspect(ctx context.Context, st *State) *Violation
}

// Chain runs inspectors in declaration order and stops at the first
// violation.
type Chain struct {
	inspectors []Inspector
}

// NewChain fixes the inspector ordering for the lifetime of the gateway.
func NewChain(inspectors ...Inspector) *Chain {
	return &Chain{inspectors: inspectors}
}

// Run executes the chain for one request.
func (c *Chain) Run(ctx context.Context, st *State) *Violation {
	for _, ins := range c.inspectors {
		if v := ins.Inspect(ctx, st); v != nil {
			return v
		}
	}
	return nil
}
