package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/chirino/recall-service/internal/config"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gin-gonic/gin"
)

const (
	// ContextKeyClientID is the gin context key for the resolved client ID.
	ContextKeyClientID = "clientID"
	// ContextKeyRoles is the gin context key for resolved caller roles.
	ContextKeyRoles = "roles"
	// ContextKeyIsAdmin is the gin context key for admin authorization.
	ContextKeyIsAdmin = "isAdmin"
)

const RoleAdmin = "admin"

// Identity holds the resolved caller identity.
type Identity struct {
	ClientID string
	Roles    map[string]bool
	IsAdmin  bool
}

// TokenResolver resolves API keys and bearer tokens to caller
// identities. It is initialized once at startup and shared by the HTTP
// middleware.
type TokenResolver struct {
	verifier      *oidc.IDTokenVerifier
	apiKeys       map[string]string
	adminOIDCRole string
}

// NewTokenResolver creates a TokenResolver from the application config. It performs
// one-time OIDC provider discovery if OIDCIssuer is configured.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	var verifier *oidc.IDTokenVerifier
	if cfg.OIDCIssuer != "" {
		provider, err := oidc.NewProvider(context.Background(), cfg.OIDCIssuer)
		if err != nil {
			log.Error("Failed to initialize OIDC provider; falling back to API key auth", "issuer", cfg.OIDCIssuer, "err", err)
		} else {
			verifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})
			log.Info("OIDC auth enabled", "issuer", cfg.OIDCIssuer)
		}
	}

	adminOIDCRole := strings.TrimSpace(cfg.AdminOIDCRole)
	if adminOIDCRole == "" {
		adminOIDCRole = RoleAdmin
	}

	return &TokenResolver{
		verifier:      verifier,
		apiKeys:       cfg.APIKeys,
		adminOIDCRole: adminOIDCRole,
	}
}

var (
	errInvalidJWT    = errors.New("invalid JWT")
	errUnknownAPIKey = errors.New("unknown API key")
)

// Resolve resolves an API key (X-API-Key header) or bearer token into a
// caller Identity. Exactly one of the two must authenticate; a valid
// API key mapped to the "admin" client grants the admin role, as does a
// verified JWT carrying the configured admin role claim.
func (r *TokenResolver) Resolve(ctx context.Context, bearerToken, apiKey string) (*Identity, error) {
	roles := map[string]bool{}

	if key := strings.TrimSpace(apiKey); key != "" {
		clientID, ok := r.apiKeys[key]
		if !ok {
			log.Warn("Received invalid API key")
			return nil, errUnknownAPIKey
		}
		if clientID == RoleAdmin {
			roles[RoleAdmin] = true
		}
		return &Identity{ClientID: clientID, Roles: roles, IsAdmin: roles[RoleAdmin]}, nil
	}

	if r.verifier != nil && strings.Count(bearerToken, ".") >= 2 {
		idToken, err := r.verifier.Verify(ctx, bearerToken)
		if err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		var claims struct {
			Sub               string `json:"sub"`
			PreferredUsername string `json:"preferred_username"`
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, errors.Join(errInvalidJWT, err)
		}
		clientID := claims.PreferredUsername
		if clientID == "" {
			clientID = claims.Sub
		}
		var rawClaims map[string]any
		if err := idToken.Claims(&rawClaims); err == nil {
			if extractTokenRoles(rawClaims)[r.adminOIDCRole] {
				roles[RoleAdmin] = true
			}
		}
		return &Identity{ClientID: clientID, Roles: roles, IsAdmin: roles[RoleAdmin]}, nil
	}

	return nil, errors.New("missing credentials")
}

// GetClientID returns the resolved client ID from the gin context.
func GetClientID(c *gin.Context) string {
	return c.GetString(ContextKeyClientID)
}

// IsAdmin returns true if the request is from an admin.
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get(ContextKeyIsAdmin)
	b, _ := v.(bool)
	return b
}

// HasRole returns true if the caller has the given role.
func HasRole(c *gin.Context, role string) bool {
	v, ok := c.Get(ContextKeyRoles)
	if !ok {
		return false
	}
	roles, ok := v.(map[string]bool)
	if !ok {
		return false
	}
	return roles[role]
}

// AuthMiddleware returns a gin middleware that resolves caller identity
// from the X-API-Key or Authorization header. When no API keys and no
// OIDC issuer are configured the service runs open and the middleware
// passes every request through.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	open := len(resolver.apiKeys) == 0 && resolver.verifier == nil
	return func(c *gin.Context) {
		if open {
			c.Next()
			return
		}

		token := ""
		if auth := c.GetHeader("Authorization"); auth != "" {
			token = strings.TrimPrefix(auth, "Bearer ")
			if token == auth {
				log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "invalid Authorization header; expected Bearer token"})
				return
			}
		}

		id, err := resolver.Resolve(c.Request.Context(), token, c.GetHeader("X-API-Key"))
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "error": "invalid credentials"})
			return
		}

		if id.ClientID != "" {
			c.Set(ContextKeyClientID, id.ClientID)
		}
		c.Set(ContextKeyRoles, id.Roles)
		c.Set(ContextKeyIsAdmin, id.IsAdmin)
		c.Next()
	}
}

// RequireAdminRole requires the caller to have admin role. Open
// deployments (no credentials configured) skip the check.
func RequireAdminRole(resolver *TokenResolver) gin.HandlerFunc {
	open := len(resolver.apiKeys) == 0 && resolver.verifier == nil
	return func(c *gin.Context) {
		if open {
			c.Next()
			return
		}
		if !HasRole(c, RoleAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": "FORBIDDEN", "error": "admin role required"})
			return
		}
		c.Next()
	}
}

func extractTokenRoles(claims map[string]any) map[string]bool {
	result := map[string]bool{}
	addList := func(values []string) {
		for _, v := range values {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			result[v] = true
		}
	}

	addList(toStringSlice(claims["roles"]))
	addList(toStringSlice(claims["groups"]))

	if scope, ok := claims["scope"].(string); ok {
		addList(strings.Fields(scope))
	}

	// Keycloak-style realm_access.roles.
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		addList(toStringSlice(realm["roles"]))
	}

	return result
}

func toStringSlice(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	default:
		return nil
	}
}
