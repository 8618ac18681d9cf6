package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ringside/backend/internal/bus"
)

// Upgrader with origin validation. In production (RINGSIDE_ENV=production)
// only origins listed in RINGSIDE_ALLOWED_ORIGINS are accepted; dev and
// staging accept everything.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     buildCheckOrigin(),
}

const (
	pongWait   = 60 * time.Second // Time allowed to read the next pong
	pingPeriod = 30 * time.Second // Send pings at this interval (must be < pongWait)
	writeWait  = 10 * time.Second // Time allowed to write a message
	maxMsgSize = 4 * 1024         // Clients only send control payloads
)

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("RINGSIDE_ENV")
	allowedRaw := os.Getenv("RINGSIDE_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		slog.Info("websocket origin allowlist active", "count", len(allowed))
		return func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if allowed[origin] {
				return true
			}
			slog.Warn("rejected websocket origin", "origin", origin)
			return false
		}
	}

	if env == "production" && allowedRaw == "" {
		slog.Warn("RINGSIDE_ALLOWED_ORIGINS not set in production, allowing all origins")
	}
	return func(r *http.Request) bool {
		return true
	}
}

// wsClient is one live feed consumer: a judge tablet, broadcast overlay
// or supervisor console following a bout's topics.
type wsClient struct {
	conn *websocket.Conn
	sub  *bus.Subscription
	bus  *bus.Bus
}

// handleWebSocket upgrades the connection and streams bus messages for
// the requested bout. Query parameters:
//
//	bout_id  required, the bout to follow
//	topics   comma-separated topic list, default score_updates,lifecycle
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	boutID := r.URL.Query().Get("bout_id")
	if boutID == "" {
		http.Error(w, "bout_id is required", http.StatusBadRequest)
		return
	}
	topics := parseTopics(r.URL.Query().Get("topics"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		conn: conn,
		sub:  s.bus.Subscribe(boutID, topics...),
		bus:  s.bus,
	}

	slog.Info("websocket client connected", "bout_id", boutID, "topics", topics)

	// writePump owns all writes, readPump owns all reads.
	go client.writePump()
	go client.readPump()
}

func parseTopics(raw string) []bus.Topic {
	if raw == "" {
		return []bus.Topic{bus.TopicScoreUpdates, bus.TopicLifecycle}
	}
	var topics []bus.Topic
	for _, t := range strings.Split(raw, ",") {
		switch bus.Topic(strings.TrimSpace(t)) {
		case bus.TopicCVEvents:
			topics = append(topics, bus.TopicCVEvents)
		case bus.TopicJudgeEvents:
			topics = append(topics, bus.TopicJudgeEvents)
		case bus.TopicScoreUpdates:
			topics = append(topics, bus.TopicScoreUpdates)
		case bus.TopicLifecycle:
			topics = append(topics, bus.TopicLifecycle)
		case bus.TopicConfigUpdates:
			topics = append(topics, bus.TopicConfigUpdates)
		}
	}
	if len(topics) == 0 {
		topics = []bus.Topic{bus.TopicScoreUpdates, bus.TopicLifecycle}
	}
	return topics
}

// writePump streams bus messages to the client. When the bus evicts the
// subscription for falling behind, the channel closes and the client is
// disconnected; reconnecting re-syncs via GET /rounds/{id}.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.bus.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.sub.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Evicted or unsubscribed
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "stream lagged"))
				return
			}

			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("failed to encode bus message", "error", err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump drains the connection for control frames. The feed is
// one-way; any data frames from the client are ignored.
func (c *wsClient) readPump() {
	defer func() {
		c.bus.Unsubscribe(c.sub)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("websocket read error", "error", err)
			}
			return
		}
	}
}
