package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/datallboy/packman/internal/api/controllers"
	"github.com/datallboy/packman/internal/app"
	"github.com/labstack/echo/v5"
)

// NewHandler builds the echo instance with every route registered. The hub
// must be running for /api/events to accept clients.
func NewHandler(app *app.Context, hub *controllers.EventHub) *echo.Echo {
	e := echo.New()
	RegisterRoutes(e, app, hub)
	return e
}

// Serve runs the API on the configured port until ctx is done, then shuts
// down gracefully.
func Serve(ctx context.Context, app *app.Context) error {
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()

	hub := controllers.NewEventHub(app)
	go hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              net.JoinHostPort("", app.Config.Port),
		Handler:           NewHandler(app, hub),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Warn("HTTP shutdown: %v", err)
		}
	}()

	app.Logger.Info("API listening on %s", srv.Addr)

	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
