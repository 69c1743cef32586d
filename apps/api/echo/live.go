package echoapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/memberhub/core/member"
	"github.com/trezcool/memberhub/core/session"
	"github.com/trezcool/memberhub/services/identity"
)

const heartbeatInterval = 15 * time.Second

type liveApi struct {
	deps ServerDeps
}

// registerLiveAPI serves the session view model as a Server-Sent Events stream.
// Every stream owns a session; its subscriptions are released when the client goes away.
func registerLiveAPI(g *echo.Group, a *auth, deps ServerDeps) {
	api := liveApi{deps: deps}
	g.GET("/live", api.member, a.query)
	g.GET("/guest/live", api.guest)
}

func (api *liveApi) member(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	return api.stream(ctx, &p)
}

func (api *liveApi) guest(ctx echo.Context) error {
	return api.stream(ctx, nil)
}

func (api *liveApi) newSession(principal *member.Principal) *session.Session {
	var resume []member.Principal
	if principal != nil {
		resume = append(resume, *principal)
	}
	return session.New(session.Deps{
		Provider:      identity.NewProvider(api.deps.Verifier, resume...),
		Members:       api.deps.Members,
		Store:         api.deps.Store,
		Logger:        api.deps.Logger,
		NoticeTimeout: api.deps.Conf.NoticeTimeout,
	})
}

func (api *liveApi) stream(ctx echo.Context, principal *member.Principal) error {
	reqCtx := ctx.Request().Context()

	sess := api.newSession(principal)
	defer sess.Close()

	// only the latest view matters to a slow client
	updates := make(chan session.ViewModel, 1)
	unsub := sess.OnChange(func(vm session.ViewModel) {
		select {
		case <-updates:
		default:
		}
		updates <- vm
	})
	defer unsub()

	if err := sess.Start(reqCtx); err != nil {
		return errors.Wrap(err, "starting session")
	}
	if principal == nil {
		if err := sess.BrowseAsGuest(reqCtx); err != nil {
			return errors.Wrap(err, "entering guest mode")
		}
	}

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	if err := writeEvent(res, sess.View()); err != nil {
		return nil // client gone
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	for {
		select {
		case <-reqCtx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
			res.Flush()
		case vm := <-updates:
			if err := writeEvent(res, vm); err != nil {
				return nil
			}
		}
	}
}

func writeEvent(res *echo.Response, vm session.ViewModel) error {
	data, err := json.Marshal(vm)
	if err != nil {
		return err
	}
	if _, err = fmt.Fprintf(res, "event: view\ndata: %s\n\n", data); err != nil {
		return err
	}
	res.Flush()
	return nil
}
