package api

import (
	"context"
	"embed"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"themerizr/internal/controller"
	"themerizr/internal/manifest"
)

//go:embed templates/index.html
var webTemplate embed.FS

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the preview is meant to be embedded anywhere
	},
}

var iconExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

// Event is pushed to websocket clients.
type Event struct {
	Type     string    `json:"type"` // "hello" on connect, "reload" after a rebuild
	Elements int       `json:"elements"`
	Failed   int       `json:"failed"`
	At       time.Time `json:"at"`
}

func newEvent(typ string, s *controller.Summary) *Event {
	ev := &Event{Type: typ, At: time.Now()}
	if s != nil {
		ev.Elements = len(s.Elements)
		ev.Failed = len(s.Failed)
		ev.At = s.FinishedAt
	}
	return ev
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub
	// The websocket connection.
	conn *websocket.Conn
	// Buffered channel of outbound events.
	send chan *Event
}

// Hub maintains the set of active clients and broadcasts rebuild events to them.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	source     controller.ThemeSource
	log        log.FieldLogger
	mu         sync.Mutex
	done       chan struct{}
}

func newHub(src controller.ThemeSource, logger log.FieldLogger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     src,
		log:        logger,
		done:       make(chan struct{}),
	}
}

func (h *Hub) run(ctx context.Context) {
	updates, cancel := h.source.Subscribe()
	defer cancel()
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			client.send <- newEvent("hello", h.source.LastSummary())
		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
		case s, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			h.broadcast(newEvent("reload", s))
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return
		}
	}
}

func (h *Hub) broadcast(ev *Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- ev:
		default:
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// ClientCount reports the number of connected websocket clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// readPump drains the connection so close frames are noticed.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.WithError(err).Debug("websocket read failed")
			}
			return
		}
	}
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	defer func() {
		c.conn.Close()
	}()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			c.hub.log.WithError(err).Debug("websocket write failed")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

type failureView struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type statusView struct {
	Target     string        `json:"target"`
	Ready      bool          `json:"ready"`
	Elements   []string      `json:"elements"`
	Copied     int           `json:"copied"`
	Converted  int           `json:"converted"`
	Failed     []failureView `json:"failed"`
	Skipped    []string      `json:"skipped,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Clients    int           `json:"clients"`
}

// NewRouter serves the theme in the controller's target directory.
func NewRouter(hub *Hub, logger log.FieldLogger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors())

	dir := hub.source.TargetDir()

	router.GET("/", func(c *gin.Context) {
		data, err := webTemplate.ReadFile("templates/index.html")
		if err != nil {
			c.String(http.StatusInternalServerError, "Error reading index page")
			return
		}
		c.Data(http.StatusOK, "text/html; charset=utf-8", data)
	})

	router.GET("/"+manifest.FileName, func(c *gin.Context) {
		path := filepath.Join(dir, manifest.FileName)
		if _, err := os.Stat(path); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "theme has not been generated yet"})
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.File(path)
	})

	router.GET("/api/v1/status", func(c *gin.Context) {
		view := statusView{Target: dir, Elements: []string{}, Failed: []failureView{}, Clients: hub.ClientCount()}
		if s := hub.source.LastSummary(); s != nil {
			view.Ready = true
			view.Elements = append(view.Elements, s.Elements...)
			view.Copied = len(s.Copied)
			view.Converted = len(s.Converted)
			view.Skipped = s.Skipped
			for _, r := range s.Failed {
				view.Failed = append(view.Failed, failureView{File: r.Source, Error: r.Err.Error()})
			}
			finished := s.FinishedAt
			view.FinishedAt = &finished
		}
		c.JSON(http.StatusOK, view)
	})

	router.GET("/ws", func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.WithError(err).Warn("Failed to set websocket upgrade")
			return
		}
		client := &Client{hub: hub, conn: conn, send: make(chan *Event, 16)}
		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}
		go client.writePump()
		go client.readPump()
	})

	router.GET("/:file", func(c *gin.Context) {
		name := c.Param("file")
		if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !iconExts[strings.ToLower(filepath.Ext(name))] {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		path := filepath.Join(dir, name)
		if fi, err := os.Stat(path); err != nil || !fi.Mode().IsRegular() {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.File(path)
	})

	return router
}

// cors lets Structurizr pages on other origins load the theme.
func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger log.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(log.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
		}).Debug("request")
	}
}

// ServerOptions configures StartServer. TLS is enabled when both
// CertFile and KeyFile are set.
type ServerOptions struct {
	Addr     string
	CertFile string
	KeyFile  string
	Log      log.FieldLogger
}

// StartServer starts serving src's theme and stops when ctx is done. The
// returned channel receives the listener error, if any, and is closed
// once the server has stopped.
func StartServer(ctx context.Context, src controller.ThemeSource, opts ServerOptions) (*http.Server, <-chan error) {
	logger := opts.Log
	if logger == nil {
		logger = log.StandardLogger()
	}
	hub := newHub(src, logger)
	go hub.run(ctx)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           NewRouter(hub, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		var err error
		if opts.CertFile != "" && opts.KeyFile != "" {
			err = srv.ListenAndServeTLS(opts.CertFile, opts.KeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("listen failed")
			errc <- err
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Server Shutdown Failed")
		}
	}()

	return srv, errc
}
