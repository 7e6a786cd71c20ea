// Package api serves the receiver's control surface: the roster, the layout
// commands an operator would otherwise give on the keyboard, and /metrics.
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Jeong-dawon/MultiFlexer/internal/core"
	"github.com/Jeong-dawon/MultiFlexer/internal/room"
)

// Controller is the set of room commands exposed over HTTP.
type Controller interface {
	Senders(ctx context.Context) ([]core.SenderInfo, error)
	State(ctx context.Context) (room.State, error)
	SetMode(ctx context.Context, n int) error
	SetFocus(ctx context.Context, i int) error
	PickSender(ctx context.Context, id core.SenderID) error
	AssignCell(ctx context.Context, cell int, id core.SenderID) error
	Switch(ctx context.Context, offset int) (bool, error)
}

// AppOptions is options of the control API
type AppOptions struct {
	Controller Controller
	// History is optional; the history route answers 404 without it.
	History core.SendersHistoryStorer
	Room    string
}

type App struct {
	AppOptions
}

func NewApp(options AppOptions) *App {
	return &App{options}
}

// Router is function for construct http router
func (app *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/senders", SendersListHandler(app.Controller))
		r.Get("/senders/{id}/history", SenderHistoryHandler(app.History, app.Room))
		r.Get("/state", StateHandler(app.Controller))

		r.Post("/layout/mode", LayoutModeHandler(app.Controller))
		r.Post("/layout/focus", LayoutFocusHandler(app.Controller))
		r.Post("/layout/pick", LayoutPickHandler(app.Controller))
		r.Post("/cells/{index}", CellAssignHandler(app.Controller))
		r.Post("/switch", SwitchHandler(app.Controller))
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
