// Package web serves a read-only status dashboard: current state-machine
// step, watched channel, campaign/drop progress, pushed over a websocket
// hub, plus the /healthz endpoint an external process supervisor polls.
// It exposes no settings-mutation endpoints — those belong to the
// desktop/tray UI, out of scope here.
package web

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"twitchdropsfarmer/internal/config"
	"twitchdropsfarmer/internal/miner"
)

// StatusSource is the subset of *miner.Miner the dashboard depends on.
type StatusSource interface {
	Status() miner.Status
}

// Server hosts the dashboard's HTTP and websocket endpoints.
type Server struct {
	cfg    *config.Config
	source StatusSource

	upgrader websocket.Upgrader
	conns    map[*websocket.Conn]bool

	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
}

// NewServer returns a Server that reports source's status.
func NewServer(cfg *config.Config, source StatusSource) *Server {
	s := &Server{
		cfg:    cfg,
		source: source,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns:      make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
	}
	return s
}

// Router builds the gin engine serving the dashboard.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware())
	router.Use(SecurityMiddleware())
	router.Use(RateLimitMiddleware())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
	}))

	// Serves a small static status page if present; absent on a bare data
	// volume, the dashboard still works over /api/status and /ws alone.
	router.Use(static.Serve("/", static.LocalFile(s.cfg.DashboardStaticDir(), false)))

	router.GET("/healthz", s.handleHealthz)
	router.GET("/api/status", s.handleStatus)
	router.GET("/ws", s.handleWebSocket)

	return router
}

// Run starts the websocket hub and the status-push ticker and serves the
// dashboard on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.runHub(ctx)
	go s.pushLoop(ctx)

	srv := &http.Server{Addr: addr, Handler: s.Router()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) handleHealthz(c *gin.Context) {
	if err := os.WriteFile(s.cfg.HealthcheckPath(), []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		logrus.WithError(err).Debug("web: failed to touch healthcheck file")
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.source.Status())
}

func (s *Server) pushLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcastStatus()
		}
	}
}

func (s *Server) broadcastStatus() {
	data, err := json.Marshal(map[string]interface{}{
		"type": "status_update",
		"data": s.source.Status(),
	})
	if err != nil {
		logrus.WithError(err).Warn("web: failed to marshal status")
		return
	}
	select {
	case s.broadcast <- data:
	default:
	}
}

func (s *Server) runHub(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for conn := range s.conns {
				conn.Close()
			}
			return
		case conn := <-s.register:
			s.conns[conn] = true
		case conn := <-s.unregister:
			if _, ok := s.conns[conn]; ok {
				delete(s.conns, conn)
				conn.Close()
			}
		case message := <-s.broadcast:
			for conn := range s.conns {
				if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
					delete(s.conns, conn)
					conn.Close()
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("web: websocket upgrade failed")
		return
	}
	s.register <- conn

	go func() {
		defer func() { s.unregister <- conn }()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	data, err := json.Marshal(map[string]interface{}{"type": "status_update", "data": s.source.Status()})
	if err == nil {
		select {
		case s.broadcast <- data:
		default:
		}
	}
}
