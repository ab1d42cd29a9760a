package inspect

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gobwas/glob"

	"github.com/aegisgate/aegisgate/internal/config"
)

// Authorizer enforces resource-ownership (IDOR) policies. A policy binds a
// client role to access rules; a rule can require that a named path segment
// equal a named claim in the caller's token. Path patterns use glob syntax
// and may name capture segments as {param}, e.g. /users/{user_id}/profile.
type Authorizer struct {
	policies []compiledPolicy
}

type compiledPolicy struct {
	role  string
	rules []compiledAccessRule
}

type compiledAccessRule struct {
	rule     config.AccessRule
	matcher  glob.Glob
	segments []string
}

// NewAuthorizer compiles the policy set once at startup.
func NewAuthorizer(policies []config.AuthPolicy) (*Authorizer, error) {
	a := &Authorizer{}
	for _, policy := range policies {
		compiled := compiledPolicy{role: policy.Match["role"]}
		for _, rule := range policy.Rules {
			segments := strings.Split(rule.PathPattern, "/")
			globPattern := rule.PathPattern
			for _, seg := range segments {
				if isCapture(seg) {
					globPattern = strings.Replace(globPattern, seg, "*", 1)
				}
			}
			matcher, err := glob.Compile(globPattern, '/')
			if err != nil {
				return nil, fmt.Errorf("inspect: policy %q pattern %q: %w", policy.Name, rule.PathPattern, err)
			}
			compiled.rules = append(compiled.rules, compiledAccessRule{
				rule:     rule,
				matcher:  matcher,
				segments: segments,
			})
		}
		a.policies = append(a.policies, compiled)
	}
	return a, nil
}

func (a *Authorizer) Name() string { return "authorization" }

// Inspect applies the first rule whose pattern matches the request path
// under a policy matching the client's role. When no rule matches, the
// request passes; the upstream performs the real authorization.
func (a *Authorizer) Inspect(_ context.Context, st *State) *Violation {
	for _, policy := range a.policies {
		if policy.role != st.ClientRole {
			continue
		}
		for _, rule := range policy.rules {
			if !rule.matcher.Match(st.Path) {
				continue
			}
			if rule.rule.EnforceOwnerClaim != "" && rule.rule.OwnerPathParam != "" {
				pathOwner := rule.extractSegment(st.Path, rule.rule.OwnerPathParam)
				claimOwner, _ := st.Claims[rule.rule.EnforceOwnerClaim].(string)
				if pathOwner != "" && claimOwner != "" && pathOwner != claimOwner {
					return NewViolation("authorization", http.StatusForbidden,
						"you do not have permission to access this resource")
				}
			}
			return nil
		}
	}
	return nil
}

// extractSegment returns the path segment aligned with the {param} capture
// in the rule's pattern, or "" when the shapes do not line up.
func (r *compiledAccessRule) extractSegment(path, param string) string {
	pathSegments := strings.Split(path, "/")
	if len(pathSegments) != len(r.segments) {
		return ""
	}
	marker := "{" + param + "}"
	for i, seg := range r.segments {
		if seg == marker {
			return pathSegments[i]
		}
	}
	return ""
}

func isCapture(segment string) bool {
	return len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}
