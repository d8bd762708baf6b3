package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"ChainPulse/internal/domain/models"
	xlogger "ChainPulse/pkg/logger"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	sendBuffer   = 8
)

// CycleFeed pushes every finished CycleSummary to connected websocket clients.
// A client whose buffer is full is dropped.
type CycleFeed struct {
	logger   *xlogger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() { close(c.send) })
}

func NewCycleFeed(logger *xlogger.Logger) *CycleFeed {
	if logger == nil {
		logger = xlogger.Nop()
	}
	return &CycleFeed{
		logger:  logger.Component("feed"),
		clients: make(map[*feedClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (f *CycleFeed) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/cycles", f.Serve)
}

// Serve upgrades the request and streams summaries until the client goes away.
func (f *CycleFeed) Serve(c echo.Context) error {
	conn, err := f.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		f.logger.Warn("websocket upgrade failed", xlogger.Error(err))
		return nil
	}
	cl := &feedClient{conn: conn, send: make(chan []byte, sendBuffer)}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	f.clients[cl] = struct{}{}
	n := len(f.clients)
	f.mu.Unlock()
	f.logger.Debug("client connected", xlogger.String("remote", c.RealIP()), xlogger.Int("clients", n))

	go f.writePump(cl)
	f.readPump(cl)
	return nil
}

// readPump discards client messages and detects disconnects.
func (f *CycleFeed) readPump(cl *feedClient) {
	defer f.remove(cl)
	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (f *CycleFeed) writePump(cl *feedClient) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				f.remove(cl)
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				f.remove(cl)
				return
			}
		}
	}
}

func (f *CycleFeed) remove(cl *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[cl]; ok {
		delete(f.clients, cl)
		cl.close()
	}
	f.mu.Unlock()
}

// Broadcast implements the orchestrator's Broadcaster.
func (f *CycleFeed) Broadcast(summary models.CycleSummary) {
	msg, err := json.Marshal(summary)
	if err != nil {
		f.logger.Error("encode summary failed", xlogger.Error(err))
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for cl := range f.clients {
		select {
		case cl.send <- msg:
		default:
			delete(f.clients, cl)
			cl.close()
			f.logger.Warn("slow client dropped")
		}
	}
}

// Clients reports the number of connected clients.
func (f *CycleFeed) Clients() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// Close disconnects every client and rejects new ones.
func (f *CycleFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for cl := range f.clients {
		delete(f.clients, cl)
		cl.close()
	}
}
