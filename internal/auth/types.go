package auth

import "time"

// Scopes for authorization
const (
	ScopeResearchRun  = "research:run"
	ScopeResearchRead = "research:read"
)

// DefaultScopes are granted to tokens issued without explicit scopes.
var DefaultScopes = []string{ScopeResearchRun, ScopeResearchRead}

// Principal is the authenticated caller of a request.
type Principal struct {
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HasScope reports whether p was granted scope.
func (p *Principal) HasScope(scope string) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
