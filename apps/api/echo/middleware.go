package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core/member"
)

// adminMiddleware lets through the principals on the configured admin allow-list.
// Profile contents (e.g. a stored is_admin flag) are never consulted.
func adminMiddleware(svc *member.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			p, err := getContextPrincipal(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context principal")
			}
			if svc.IsAdmin(&p) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
