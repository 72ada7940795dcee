package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/datallboy/packman/internal/app"
	"github.com/datallboy/packman/internal/domain"
	"github.com/datallboy/packman/internal/engine"
	"github.com/labstack/echo/v5"
	"github.com/samber/lo"
)

type PacksController struct {
	App *app.Context
}

// List returns every catalog pack with its state, in catalog order
func (ctrl *PacksController) List(c *echo.Context) error {
	states := ctrl.App.Manager.States()

	views := lo.Map(ctrl.App.Manager.AvailablePacks(), func(p domain.ContentPack, _ int) PackView {
		st, ok := states[p.ID]
		if !ok {
			st = domain.NewPackState(p.ID)
		}
		return PackView{Pack: p, State: st}
	})

	return c.JSON(http.StatusOK, views)
}

func (ctrl *PacksController) Get(c *echo.Context) error {
	id := c.Param("id")

	st, err := ctrl.App.Manager.State(id)
	if err != nil {
		return errorResponse(c, err, id)
	}

	pack, _ := lo.Find(ctrl.App.Manager.AvailablePacks(), func(p domain.ContentPack) bool { return p.ID == id })
	return c.JSON(http.StatusOK, PackView{Pack: pack, State: st})
}

func (ctrl *PacksController) Start(c *echo.Context) error {
	return ctrl.launch(c, ctrl.App.Manager.Start)
}

func (ctrl *PacksController) Resume(c *echo.Context) error {
	return ctrl.launch(c, ctrl.App.Manager.Resume)
}

type launchFunc func(ctx context.Context, id string) (*engine.Download, error)

func (ctrl *PacksController) launch(c *echo.Context, fn launchFunc) error {
	id := c.Param("id")

	dl, err := fn(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err, id)
	}

	st, _ := ctrl.App.Manager.State(id)
	return c.JSON(http.StatusAccepted, SessionView{SessionID: dl.SessionID(), State: st})
}

func (ctrl *PacksController) Pause(c *echo.Context) error {
	return ctrl.control(c, ctrl.App.Manager.Pause)
}

func (ctrl *PacksController) Cancel(c *echo.Context) error {
	return ctrl.control(c, ctrl.App.Manager.Cancel)
}

func (ctrl *PacksController) Remove(c *echo.Context) error {
	return ctrl.control(c, ctrl.App.Manager.Remove)
}

type controlFunc func(ctx context.Context, id string) (domain.PackState, error)

func (ctrl *PacksController) control(c *echo.Context, fn controlFunc) error {
	id := c.Param("id")

	st, err := fn(c.Request().Context(), id)
	if err != nil {
		return errorResponse(c, err, id)
	}
	return c.JSON(http.StatusOK, st)
}

// CheckUpdates flags installed packs whose catalog version moved on and
// returns only those
func (ctrl *PacksController) CheckUpdates(c *echo.Context) error {
	flagged, err := ctrl.App.Manager.CheckForUpdates(c.Request().Context())
	if err != nil {
		return errorResponse(c, err, "")
	}
	if flagged == nil {
		flagged = []domain.PackState{}
	}
	return c.JSON(http.StatusOK, flagged)
}

func (ctrl *PacksController) History(c *echo.Context) error {
	id := c.Param("id")

	if _, err := ctrl.App.Manager.State(id); err != nil {
		return errorResponse(c, err, id)
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, id, "limit must be a non-negative integer")
		}
		limit = n
	}

	records, err := ctrl.App.History.ListHistory(c.Request().Context(), id, limit)
	if err != nil {
		ctrl.App.Logger.Error("History for %s: %v", id, err)
		return errorResponse(c, err, id)
	}
	return c.JSON(http.StatusOK, records)
}
