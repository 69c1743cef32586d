package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core"
	"github.com/trezcool/memberhub/core/member"
)

type memberApi struct {
	svc *member.Service
}

func registerMemberAPI(g *echo.Group, a *auth, svc *member.Service) {
	api := memberApi{svc: svc}

	g.GET("/me", api.me, a.header)
	g.POST("/registration", api.register, a.header)

	adm := g.Group("/admin", a.header, adminMiddleware(svc))
	adm.GET("/pending", api.listPending)
	adm.PUT("/profiles/:id/approve", api.approve)
	adm.PUT("/profiles/:id/expire", api.expire)
	adm.DELETE("/profiles/:id", api.destroy)
}

type MeResponse struct {
	State     member.State     `json:"state"`
	IsAdmin   bool             `json:"is_admin"`
	Principal member.Principal `json:"principal"`
	Profile   *member.Profile  `json:"profile"`
}

func (api *memberApi) me(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var profile *member.Profile
	prof, err := api.svc.GetProfile(ctx.Request().Context(), p.ID)
	switch {
	case err == nil:
		profile = &prof
	case !core.IsNotFound(err):
		return errors.Wrap(err, "getting profile")
	}

	return ctx.JSON(http.StatusOK, MeResponse{
		State:     member.DeriveState(&p, profile, false),
		IsAdmin:   api.svc.IsAdmin(&p),
		Principal: p,
		Profile:   profile,
	})
}

func (api *memberApi) register(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	var data member.NewRegistration
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRegistration")
	}

	prof, err := api.svc.Register(ctx.Request().Context(), p, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, prof)
}

func (api *memberApi) listPending(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	pending, err := api.svc.ListPending(ctx.Request().Context(), &p)
	if err != nil {
		return errors.Wrap(err, "listing pending registrations")
	}
	if pending == nil {
		pending = []member.PendingUser{}
	}
	return ctx.JSON(http.StatusOK, pending)
}

func (api *memberApi) run(ctx echo.Context, op func(caller *member.Principal, uid string) error) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	if err = op(&p, ctx.Param("id")); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *memberApi) approve(ctx echo.Context) error {
	return api.run(ctx, func(caller *member.Principal, uid string) error {
		return api.svc.Approve(ctx.Request().Context(), caller, uid)
	})
}

func (api *memberApi) expire(ctx echo.Context) error {
	return api.run(ctx, func(caller *member.Principal, uid string) error {
		return api.svc.Expire(ctx.Request().Context(), caller, uid)
	})
}

func (api *memberApi) destroy(ctx echo.Context) error {
	return api.run(ctx, func(caller *member.Principal, uid string) error {
		return api.svc.Delete(ctx.Request().Context(), caller, uid)
	})
}
