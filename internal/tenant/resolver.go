package tenant

import (
	"net"
	"net/http"
	"strings"

	"github.com/noah-isme/apotek-pos/internal/common"
)

// Resolver resolves the pharmacy tenant of a request from a header or the request subdomain.
type Resolver struct {
	HeaderName    string
	RootDomain    string
	DefaultTenant string
}

// NewResolver returns a resolver. If headerName is empty, "X-Tenant-ID" is used.
func NewResolver(headerName, rootDomain, defaultTenant string) *Resolver {
	if strings.TrimSpace(headerName) == "" {
		headerName = "X-Tenant-ID"
	}
	return &Resolver{
		HeaderName:    headerName,
		RootDomain:    strings.ToLower(strings.TrimSpace(rootDomain)),
		DefaultTenant: Normalize(defaultTenant),
	}
}

// Middleware injects the resolved tenant into the request context. Requests
// carrying a malformed tenant identifier are rejected.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	if r == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := r.Resolve(req)
		tenantID := Normalize(raw)
		if raw != "" && tenantID == "" {
			common.JSONError(w, http.StatusBadRequest, "INVALID_TENANT", "tenant identifier is malformed", nil)
			return
		}
		if tenantID == "" {
			tenantID = r.DefaultTenant
		}
		if tenantID != "" {
			req = req.WithContext(WithTenant(req.Context(), tenantID))
		}
		next.ServeHTTP(w, req)
	})
}

// Resolve returns the raw tenant identifier from the configured header or the subdomain.
func (r *Resolver) Resolve(req *http.Request) string {
	if r == nil || req == nil {
		return ""
	}
	if tenantID := strings.TrimSpace(req.Header.Get(r.HeaderName)); tenantID != "" {
		return tenantID
	}
	host := strings.ToLower(hostOnly(req.Host))
	if host == "" || r.RootDomain == "" || host == r.RootDomain {
		return ""
	}
	sub, ok := strings.CutSuffix(host, "."+r.RootDomain)
	if !ok {
		return ""
	}
	first, _, _ := strings.Cut(sub, ".")
	return first
}

// RequireTenant rejects requests that reach it without a tenant in the context.
func RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := From(r.Context()); !ok {
			common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Normalize lowercases id and returns "" unless it only holds letters, digits, '-' and '_'.
// Tenant ids end up inside Redis keys, so separators are not allowed.
func Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" || len(id) > 64 {
		return ""
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return ""
		}
	}
	return id
}

func hostOnly(hostport string) string {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(h, "[]")
	}
	return strings.Trim(hostport, "[]")
}
