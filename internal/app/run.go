// App wiring: builds every service in dependency order and keeps the
// identity-gated lifecycle running until the context ends.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"os"
	"time"

	"github.com/devduel/devduel/internal/api"
	"github.com/devduel/devduel/internal/chat"
	"github.com/devduel/devduel/internal/config"
	"github.com/devduel/devduel/internal/game"
	"github.com/devduel/devduel/internal/nav"
	"github.com/devduel/devduel/internal/presence"
	"github.com/devduel/devduel/internal/retry"
	"github.com/devduel/devduel/internal/session"
	"github.com/devduel/devduel/internal/storage"
	"github.com/devduel/devduel/internal/transport"
	"github.com/devduel/devduel/internal/util"
	"github.com/devduel/devduel/internal/viewer"
)

type Options struct {
	// Dir is the profile directory: config, database and logs live here.
	Dir     string
	CfgPath string
	Cfg     config.Config
}

func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(800)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	// The viewer serves the config straight from disk, so a watched reload
	// is visible there immediately. Connection settings need a restart.
	if err := config.Watch(ctx, opt.CfgPath, func(config.Config) {}); err != nil {
		log.Printf("APP: config watch unavailable: %v", err)
	}

	// ── Storage
	dbPath := util.ResolvePath(opt.Dir, cfg.Storage.DBFile)
	db, err := storage.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Printf("APP: database %s", dbPath)

	// ── REST client + push transport share one cookie jar, so the stream
	// authenticates with the session established over REST.
	client := api.NewClient(cfg.Backend.BaseURL)
	tr := transport.NewManager(cfg.EventsEndpoint(), transport.Options{
		Jar:            client.HTTP.Jar,
		MaxReconnects:  cfg.Connection.MaxReconnects,
		ReconnectDelay: time.Duration(cfg.Connection.ReconnectDelaySec) * time.Second,
	})

	sess := session.NewManager(client, tr)

	// ── Domain services
	online := presence.NewTable()
	chatMgr := chat.NewManager(client, tr, db, chat.Config{
		HistoryPageSize:  cfg.Chat.HistoryPageSize,
		LoadAttempts:     cfg.Chat.LoadAttempts,
		SendAttempts:     cfg.Chat.SendAttempts,
		ReadMarkDebounce: time.Duration(cfg.Chat.ReadMarkDebounceMs) * time.Millisecond,
	})
	members := game.NewTracker(db, tr)
	gameMgr := game.NewManager(tr, members, time.Duration(cfg.Game.InviteCountdownSec)*time.Second)
	guard := nav.NewGuard(members)

	if members.InGame() {
		log.Printf("APP: resuming game session %s from storage", members.SessionID())
	}

	go chatMgr.Run(ctx)
	go gameMgr.Run(ctx)
	go pumpPresence(ctx, tr, online)
	go resyncOnReconnect(ctx, tr, chatMgr, members)

	// ── Identity
	user, err := sess.Fetch(ctx)
	switch {
	case err == nil:
		chatMgr.SetSelf(user)
		go func() {
			policy := retry.Fixed(cfg.Connection.MaxReconnects, time.Duration(cfg.Connection.ReconnectDelaySec)*time.Second)
			if cerr := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
				return tr.Connect(ctx)
			}); cerr != nil {
				log.Printf("APP: initial connect: %v", cerr)
			}
		}()
		go pollMaintenance(ctx, client, sess, time.Duration(cfg.Backend.MaintenancePollSec)*time.Second)
	case errors.Is(err, api.ErrBanned), errors.Is(err, api.ErrUnauthorized):
		log.Printf("APP: no usable session, waiting at login: %v", err)
	default:
		log.Printf("APP: identity fetch: %v", err)
	}

	go gateTransport(ctx, sess, tr)

	// ── Viewer
	log.Printf("APP: viewer on http://%s", cfg.Viewer.HTTPAddr)
	return viewer.Start(ctx, cfg.Viewer.HTTPAddr, viewer.Viewer{
		Client:    client,
		Session:   sess,
		Transport: tr,
		Chat:      chatMgr,
		Presence:  online,
		Game:      gameMgr,
		Guard:     guard,
		Logs:      logBuf,
		CfgPath:   opt.CfgPath,
	})
}

// gateTransport tears the stream down whenever the session routes the user
// back to login or the ban screen.
func gateTransport(ctx context.Context, sess *session.Manager, tr *transport.Manager) {
	routes, cancel := sess.SubscribeRoutes()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case route, ok := <-routes:
			if !ok {
				return
			}
			if route == session.RouteLogin || route == session.RouteBanned {
				tr.Disconnect()
			}
		}
	}
}

// pumpPresence feeds user_status and the users_list resync into the table.
func pumpPresence(ctx context.Context, tr *transport.Manager, online *presence.Table) {
	statusCh, cancelStatus := tr.Subscribe("user_status")
	defer cancelStatus()
	listCh, cancelList := tr.Subscribe("users_list")
	defer cancelList()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-statusCh:
			if !ok {
				return
			}
			var s presence.StatusEvent
			if err := json.Unmarshal(evt.Data, &s); err != nil {
				log.Printf("APP: bad user_status: %v", err)
				continue
			}
			online.SetOnline(s.UserID, s.IsOnline)
		case evt, ok := <-listCh:
			if !ok {
				return
			}
			var list struct {
				UserIDs []int64 `json:"userIds"`
			}
			if err := json.Unmarshal(evt.Data, &list); err != nil {
				log.Printf("APP: bad users_list: %v", err)
				continue
			}
			online.Replace(list.UserIDs)
		}
	}
}

// resyncOnReconnect re-establishes server-side subscriptions that do not
// survive a dropped connection: the open chat room, the presence list, and
// the authoritative game-session view.
func resyncOnReconnect(ctx context.Context, tr *transport.Manager, chatMgr *chat.Manager, members *game.Tracker) {
	states, cancel := tr.SubscribeState()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-states:
			if !ok {
				return
			}
			if s != transport.StateConnected {
				continue
			}

			if err := tr.Send("get_users_list", nil); err != nil {
				log.Printf("APP: presence resync: %v", err)
			}
			if id := chatMgr.View().ChatID; id != 0 {
				if err := tr.Send("join_chat", map[string]any{"chatId": id}); err != nil {
					log.Printf("APP: rejoin chat %d: %v", id, err)
				}
			}
			if sid := members.SessionID(); sid != "" {
				if err := tr.Send("validate_game_session", map[string]any{"sessionId": sid}); err != nil {
					log.Printf("APP: game resync: %v", err)
				}
			}
		}
	}
}

// pollMaintenance checks the maintenance flag while a non-admin session is
// active and logs the user out when the backend gates itself.
func pollMaintenance(ctx context.Context, client *api.Client, sess *session.Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			user, ok := sess.Current()
			if !ok || user.IsAdmin() {
				continue
			}

			cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			enabled, err := client.MaintenanceMode(cctx)
			cancel()
			if err != nil {
				log.Printf("APP: maintenance poll: %v", err)
				continue
			}
			if enabled {
				log.Printf("APP: maintenance mode active, ending session")
				sess.Logout(ctx)
				return
			}
		}
	}
}
