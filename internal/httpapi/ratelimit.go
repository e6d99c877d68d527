package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"aicomplyr.io/identity/internal/ratelimit"
)

// withTenantRateLimit counts authenticated requests against the tenant's
// subscription tier. Unauthenticated paths pass through; the per-IP limiter
// earlier in the chain covers those.
func (a *API) withTenantRateLimit(next http.Handler) http.Handler {
	if a.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		// The tier owner is the partner enterprise for partner contexts:
		// the partner's subscription pays for its users' traffic.
		tierEnterprise := claims.EnterpriseID
		if claims.PartnerEnterpriseID != "" {
			tierEnterprise = claims.PartnerEnterpriseID
		}
		tier, err := a.resolver.EnterpriseTier(r.Context(), tierEnterprise)
		if err != nil {
			a.log.Warn("tier lookup failed, using standard",
				zap.String("enterprise_id", tierEnterprise), zap.Error(err))
			tier = "standard"
		}

		res := a.limiter.Allow(r.Context(), ratelimit.Scope{
			ContextType:  string(claims.ContextType),
			Tier:         tier,
			EnterpriseID: claims.EnterpriseID,
			ContextID:    claims.ContextID,
			UserID:       claims.UserID,
		})

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", int(res.ResetIn.Seconds())))
		if !res.Allowed {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(res.ResetIn.Seconds())))
			writeError(w, r, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
