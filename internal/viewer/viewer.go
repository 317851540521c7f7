// Local control surface: a loopback HTTP server exposing the client's
// derived state as JSON plus a websocket push of state changes. The UI
// shell renders against this; everything here is read-your-own-state.
package viewer

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/chat"
	"github.com/devduel/devduel/internal/game"
	"github.com/devduel/devduel/internal/nav"
	"github.com/devduel/devduel/internal/presence"
	"github.com/devduel/devduel/internal/session"
	"github.com/devduel/devduel/internal/transport"
	"github.com/devduel/devduel/internal/viewer/routes"
)

type Viewer struct {
	Client    *api.Client
	Session   *session.Manager
	Transport *transport.Manager
	Chat      *chat.Manager
	Presence  *presence.Table
	Game      *game.Manager
	Guard     *nav.Guard
	Logs      *LogBuffer

	CfgPath string
}

// Start serves until ctx is done, then shuts down gracefully.
func Start(ctx context.Context, addr string, v Viewer) error {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(localOnly)

	deps := routes.Deps{
		Client:    v.Client,
		Session:   v.Session,
		Transport: v.Transport,
		Chat:      v.Chat,
		Presence:  v.Presence,
		Game:      v.Game,
		Guard:     v.Guard,
		CfgPath:   v.CfgPath,
	}
	routes.Register(r, deps)

	if v.Logs != nil {
		r.Get("/api/logs", v.Logs.ServeLogsJSON)
		r.Get("/api/logs/stream", v.Logs.ServeLogsSSE)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}
