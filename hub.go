package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// Client represents a websocket connection subscribed to one game's view
type Client struct {
	conn    *websocket.Conn
	userID  string
	gameID  string
	writeMu sync.Mutex // Serialize writes to WebSocket (required by gorilla/websocket)
	closed  chan struct{}
}

// WebSocket hub tracking connected clients so shutdown can close them all
type Hub struct {
	clients    map[*websocket.Conn]*Client
	register   chan *Client
	unregister chan *websocket.Conn
	mu         sync.RWMutex
	done       chan struct{}
	wg         sync.WaitGroup
}

func newHub() *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]*Client),
		register:   make(chan *Client),
		unregister: make(chan *websocket.Conn, 64),
		done:       make(chan struct{}),
	}
}

var hub = newHub()

// stop signals the hub goroutine to exit, waits for it, and closes every
// remaining connection so per-client pumps unwind
func (h *Hub) stop() {
	close(h.done)
	h.wg.Wait()
	h.mu.Lock()
	for conn, client := range h.clients {
		close(client.closed)
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// start launches the hub goroutine. The WaitGroup add happens here, before
// the goroutine exists, so a stop racing a fresh start cannot return early.
func (h *Hub) start(cfg *Config) {
	h.wg.Add(1)
	go h.run(cfg)
}

func (h *Hub) run(cfg *Config) {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.conn] = client
			total := len(h.clients)
			h.mu.Unlock()
			logf(cfg, "WS: %s subscribed to %s (total %d)", client.userID, client.gameID, total)

		case conn := <-h.unregister:
			h.mu.Lock()
			client, ok := h.clients[conn]
			if ok {
				close(client.closed)
				delete(h.clients, conn)
				conn.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			if ok {
				logf(cfg, "WS: %s unsubscribed from %s (total %d)", client.userID, client.gameID, total)
			}
		}
	}
}

func (c *Client) write(message []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, message)
}

// snapshotGameView serializes the caller's view of a game, or nil when the
// game no longer exists
func snapshotGameView(gameID, userID string) ([]byte, error) {
	game, err := getGame(gameID)
	if isNoRows(err) {
		return json.Marshal(nil)
	}
	if err != nil {
		return nil, err
	}
	view, err := buildGameView(game, userID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(view)
}

// pump pushes the client's game view on every change signal, with a poll
// tick as fallback, suppressing writes when the payload has not changed
func (c *Client) pump(cfg *Config) {
	sig, cancel := watcher.subscribe(c.gameID)
	defer cancel()

	ticker := time.NewTicker(cfg.pollInterval)
	defer ticker.Stop()

	var last []byte
	send := func() bool {
		payload, err := snapshotGameView(c.gameID, c.userID)
		if err != nil {
			logError("Client.pump: snapshotGameView", err)
			return true
		}
		if bytes.Equal(payload, last) {
			return true
		}
		if err := c.write(payload); err != nil {
			return false
		}
		last = payload
		return true
	}

	if !send() {
		hub.unregister <- c.conn
		return
	}
	for {
		select {
		case <-c.closed:
			return
		case <-sig:
		case <-ticker.C:
		}
		if !send() {
			hub.unregister <- c.conn
			return
		}
	}
}

func handleGameSocket(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		userID, err := userFromRequest(r)
		if err != nil {
			writeError(w, "handleGameSocket", err)
			return
		}

		gameID := ps.ByName("gameid")
		if _, err := getGame(gameID); isNoRows(err) {
			writeError(w, "handleGameSocket", notFound("Game not found"))
			return
		} else if err != nil {
			writeError(w, "handleGameSocket: getGame", err)
			return
		}

		var upgrader = websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logError("handleGameSocket: upgrade", err)
			return
		}

		client := &Client{conn: conn, userID: userID, gameID: gameID, closed: make(chan struct{})}
		hub.register <- client

		go client.pump(cfg)

		// Reader goroutine: the protocol is push-only, so inbound reads only
		// detect disconnection
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
			hub.unregister <- conn
		}()
	}
}
