package api

import (
	"github.com/datallboy/packman/internal/api/controllers"
	"github.com/datallboy/packman/internal/app"
	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
)

func RegisterRoutes(e *echo.Echo, app *app.Context, hub *controllers.EventHub) {

	// Middleware: Request Logger
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c *echo.Context, v middleware.RequestLoggerValues) error {
			app.Logger.Info("%s %s | %d | %s", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	packs := &controllers.PacksController{App: app}

	g := e.Group("/api")

	g.GET("/packs", packs.List)
	g.POST("/packs/check-updates", packs.CheckUpdates)
	g.GET("/packs/:id", packs.Get)
	g.DELETE("/packs/:id", packs.Remove)
	g.POST("/packs/:id/start", packs.Start)
	g.POST("/packs/:id/pause", packs.Pause)
	g.POST("/packs/:id/resume", packs.Resume)
	g.POST("/packs/:id/cancel", packs.Cancel)
	g.GET("/packs/:id/history", packs.History)

	// Live state stream
	g.GET("/events", hub.Handle)
}
