package httpapi

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/answerd/internal/logging"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

// bundleKey is the echo context key holding the authenticated tenant.
const bundleKey = "tenant_bundle"

// HeaderAPIKey carries the tenant API key. Authorization: Bearer is
// accepted as an alternative.
const HeaderAPIKey = "X-API-Key"

// HeaderAdminToken carries the admin token for the admin API.
const HeaderAdminToken = "X-Admin-Token"

// bundleFrom returns the authenticated tenant bundle, or nil outside
// the authenticated group.
func bundleFrom(c echo.Context) *tenant.Bundle {
	b, _ := c.Get(bundleKey).(*tenant.Bundle)
	return b
}

// apiKeyAuth resolves the request's API key to a tenant bundle and
// stores it on the context. Unknown keys get a uniform 401 with no
// hint of which tenants exist.
func (s *Server) apiKeyAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := apiKeyFrom(c.Request())
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing API key")
			}

			b, err := s.tenants.ResolveAPIKey(c.Request().Context(), key)
			if err != nil {
				if errors.Is(err, tenant.ErrUnknownAPIKey) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid API key")
				}
				s.logger.Error("api key resolution failed", zap.Error(err))
				return echo.NewHTTPError(http.StatusInternalServerError, "authentication unavailable")
			}

			c.Set(bundleKey, b)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithTenantSlug(req.Context(), b.Tenant.Slug)))

			err = next(c)
			b.Scrub()
			return err
		}
	}
}

func apiKeyFrom(r *http.Request) string {
	if key := r.Header.Get(HeaderAPIKey); key != "" {
		return key
	}
	auth := r.Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}

// adminAuth guards the tenant admin API with the deployment token. An
// unset token disables the admin API entirely.
func (s *Server) adminAuth() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if s.config.AdminToken == "" {
				return echo.NewHTTPError(http.StatusForbidden, "admin API disabled")
			}
			got := c.Request().Header.Get(HeaderAdminToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.config.AdminToken)) != 1 {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid admin token")
			}
			return next(c)
		}
	}
}
