package server

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/metaregistry/internal/routing"
	"github.com/jacksonlee411/metaregistry/pkg/authz"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderRole     = "X-Role"
)

// withTenantScope resolves the X-Tenant-ID header for public_api routes. Ops
// routes are tenant-less.
func withTenantScope(classifier *routing.Classifier, tenants Tenants, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if classifier.Classify(r.URL.Path) != routing.RouteClassPublicAPI {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimSpace(r.Header.Get(HeaderTenantID))
		if raw == "" {
			routing.WriteError(w, r, http.StatusBadRequest, "tenant_missing", "X-Tenant-ID header is required")
			return
		}
		t, ok := tenants.Lookup(raw)
		if !ok {
			routing.WriteError(w, r, http.StatusNotFound, "tenant_not_found", "tenant not found")
			return
		}
		next.ServeHTTP(w, r.WithContext(withTenant(r.Context(), t)))
	})
}

type authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

// withAuthz checks the X-Role header against the object and action the
// allowlist names for the route. Unknown routes fall through to the router's 404.
func withAuthz(classifier *routing.Classifier, a authorizer, logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := classifier.Lookup(r.Method, r.URL.Path)
		if !ok || routing.RouteClass(route.RouteClass) != routing.RouteClassPublicAPI {
			next.ServeHTTP(w, r)
			return
		}

		tenant, ok := currentTenant(r.Context())
		if !ok {
			routing.WriteError(w, r, http.StatusBadRequest, "tenant_missing", "tenant missing")
			return
		}

		subject := authz.SubjectFromRoleSlug(r.Header.Get(HeaderRole))
		domain := authz.DomainFromTenantID(tenant.ID)

		allowed, enforced, err := a.Authorize(subject, domain, route.Object, route.Action)
		if err != nil {
			logger.Error("authorization failed", zap.String("subject", subject), zap.String("object", route.Object), zap.Error(err))
			routing.WriteError(w, r, http.StatusInternalServerError, "authz_error", "authz error")
			return
		}
		if !allowed && !enforced {
			logger.Info("authz shadow deny",
				zap.String("subject", subject),
				zap.String("tenant_id", tenant.ID),
				zap.String("object", route.Object),
				zap.String("action", route.Action),
			)
		}
		if enforced && !allowed {
			routing.WriteError(w, r, http.StatusForbidden, "forbidden", subject+" may not "+route.Action+" "+route.Object)
			return
		}

		next.ServeHTTP(w, r)
	})
}
