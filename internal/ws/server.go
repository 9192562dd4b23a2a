package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/schedule-sync/backend/internal/catalog"
	"github.com/schedule-sync/backend/internal/config"
	"github.com/schedule-sync/backend/internal/health"
	"github.com/schedule-sync/backend/internal/schedule"
	"github.com/schedule-sync/backend/internal/synchronize"
)

const maxMessageSize = 64 << 10

// Channel is an application service whose objects clients can subscribe
// to by id.
type Channel interface {
	Loader(id string) func() (any, error)
	Join(id, conn, displayName string) error
	Leave(id, conn string) error
}

type Server struct {
	config          *config.Config
	broadcaster     *Broadcaster
	registry        *synchronize.Registry
	conns           *synchronize.Connections
	channels        map[string]Channel
	schedules       *schedule.Service
	catalog         *catalog.Catalog
	health          *health.Reporter
	frontendDir     string
	dev             bool
	embeddedHandler http.Handler
	allowedOrigins  map[string]bool
	allowedHosts    map[string]bool
	authToken       string

	// loops tracks running read loops so Shutdown can wait for them.
	loops sync.WaitGroup
}

func NewServer(cfg *config.Config, broadcaster *Broadcaster, registry *synchronize.Registry, schedules *schedule.Service, cat *catalog.Catalog, frontendDir string, dev bool, embeddedHandler http.Handler) *Server {
	s := &Server{
		config:          cfg,
		broadcaster:     broadcaster,
		registry:        registry,
		conns:           synchronize.NewConnections(registry),
		channels:        make(map[string]Channel),
		schedules:       schedules,
		catalog:         cat,
		frontendDir:     frontendDir,
		dev:             dev,
		embeddedHandler: embeddedHandler,
		allowedOrigins:  make(map[string]bool),
		allowedHosts:    make(map[string]bool),
		authToken:       cfg.Server.AuthToken,
	}
	s.health = health.NewReporter(s)
	s.channels[schedule.Channel] = schedules

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Objects and Connections feed the health report.
func (s *Server) Objects() map[string]int { return s.registry.Stats() }
func (s *Server) Connections() int        { return s.broadcaster.ClientCount() }

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("GET /api/health", s.authorized(s.handleHealth))
	mux.HandleFunc("GET /api/courses", s.authorized(s.handleCourses))
	mux.HandleFunc("GET /api/schedules", s.authorized(s.handleListSchedules))
	mux.HandleFunc("POST /api/schedules", s.authorized(s.handleCreateSchedule))
	mux.HandleFunc("GET /api/schedules/{id}", s.authorized(s.handleGetSchedule))
	mux.HandleFunc("PATCH /api/schedules/{id}", s.authorized(s.handleRenameSchedule))
	mux.HandleFunc("DELETE /api/schedules/{id}", s.authorized(s.handleDeleteSchedule))
	mux.HandleFunc("POST /api/schedules/{id}/entries", s.authorized(s.handleAddEntry))
	mux.HandleFunc("PATCH /api/schedules/{id}/entries/{courseId}", s.authorized(s.handleUpdateEntry))
	mux.HandleFunc("DELETE /api/schedules/{id}/entries/{courseId}", s.authorized(s.handleRemoveEntry))

	if s.dev {
		glog.Infof("Serving frontend from filesystem: %s", s.frontendDir)
		mux.Handle("/", http.FileServer(http.Dir(s.frontendDir)))
	} else if s.embeddedHandler != nil {
		glog.Info("Serving embedded frontend")
		mux.Handle("/", s.embeddedHandler)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("ws upgrade error: %v", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		glog.Warningf("ws rejected %s: %v", r.RemoteAddr, err)
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		conn.Close()
		return
	}

	glog.Infof("WebSocket client connected: %s as %s", r.RemoteAddr, c.id)
	s.loops.Add(1)
	go s.readLoop(c, r.RemoteAddr)
}

// Shutdown disconnects every client, waits for their subscriptions to be
// released and then closes whatever is still live, flushing pending edits.
func (s *Server) Shutdown(ctx context.Context) {
	s.broadcaster.Close()
	drained := make(chan struct{})
	go func() {
		s.loops.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		glog.Warningf("shutdown: gave up waiting for read loops: %v", ctx.Err())
	}
	s.registry.Close()
}

func (s *Server) readLoop(c *client, remote string) {
	defer s.loops.Done()
	defer func() {
		for key, sub := range c.subscriptions() {
			s.leave(c, key, sub)
		}
		s.conns.Closed(c.id)
		s.broadcaster.RemoveClient(c)
		glog.Infof("WebSocket client disconnected: %s", remote)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	pongWait := 2 * s.broadcaster.pingInterval
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.broadcaster.sendError(c, "", "malformed message")
			continue
		}
		switch env.Type {
		case MsgSubscribe:
			var p SubscribePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				s.broadcaster.sendError(c, "", "malformed subscribe")
				continue
			}
			s.subscribe(c, p)
		case MsgUnsubscribe:
			var p UnsubscribePayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				s.broadcaster.sendError(c, "", "malformed unsubscribe")
				continue
			}
			s.unsubscribe(c, p.Key)
		default:
			s.broadcaster.sendError(c, "", fmt.Sprintf("unknown message type %q", env.Type))
		}
	}
}

func (s *Server) subscribe(c *client, p SubscribePayload) {
	if p.Key == "" || p.ID == "" {
		s.broadcaster.sendError(c, p.Key, "subscribe needs a key and an id")
		return
	}
	ch, ok := s.channels[p.Channel]
	if !ok {
		s.broadcaster.sendError(c, p.Key, fmt.Sprintf("unknown channel %q", p.Channel))
		return
	}
	if _, err := s.conns.SubscribeTo(c.id, p.Key, p.Channel, p.ID, ch.Loader(p.ID)); err != nil {
		glog.V(1).Infof("[ws] %s subscribe %s/%s: %v", c.id, p.Channel, p.ID, err)
		s.broadcaster.sendError(c, p.Key, err.Error())
		return
	}
	c.remember(p.Key, subscription{channel: p.Channel, id: p.ID})
	if err := ch.Join(p.ID, string(c.id), p.Name); err != nil {
		glog.Warningf("[ws] %s join %s: %v", c.id, p.ID, err)
	}
	glog.Infof("[ws] %s subscribed to %s/%s as %q", c.id, p.Channel, p.ID, p.Key)
}

func (s *Server) unsubscribe(c *client, key string) {
	sub, ok := c.forget(key)
	if !ok {
		s.broadcaster.sendError(c, key, "not subscribed")
		return
	}
	s.leave(c, key, sub)
	s.conns.Unsubscribe(c.id, key)
}

// leave drops the presence of c while it is still bound, so the schedule
// is not reloaded just to record the departure.
func (s *Server) leave(c *client, key string, sub subscription) {
	ch, ok := s.channels[sub.channel]
	if !ok {
		return
	}
	if err := ch.Leave(sub.id, string(c.id)); err != nil {
		glog.V(1).Infof("[ws] %s leave %s (%s): %v", c.id, sub.id, key, err)
	}
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Schedule-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) authorized(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		h(w, r)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

// NewHTTPServer wraps handler with the security headers and binds it to
// host:port.
func NewHTTPServer(host string, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           securityHeaders(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
}
