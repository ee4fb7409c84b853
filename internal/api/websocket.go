package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/i18n"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Cross-site websocket hijacking: same origin only
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		if strings.Contains(origin, "://localhost:") || strings.Contains(origin, "://127.0.0.1:") {
			return true
		}

		host := r.Host
		if strings.HasPrefix(origin, "http://") {
			return origin[len("http://"):] == host
		}
		if strings.HasPrefix(origin, "https://") {
			return origin[len("https://"):] == host
		}
		return false
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 64
)

// WSMessage is one event sent to a feed client.
type WSMessage struct {
	Topic     string    `json:"topic"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// wsControl is a subscription change sent by a client.
type wsControl struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// wsClient is one connected feed with its subscriptions.
type wsClient struct {
	conn   *websocket.Conn
	mu     sync.RWMutex
	topics map[string]bool
	done   chan struct{}
}

func (c *wsClient) subscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

// readPump applies subscription changes until the connection closes.
func (c *wsClient) readPump() {
	defer close(c.done)
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg wsControl
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		c.mu.Lock()
		switch msg.Action {
		case "subscribe":
			for _, topic := range msg.Topics {
				c.topics[topic] = true
			}
		case "unsubscribe":
			for _, topic := range msg.Topics {
				delete(c.topics, topic)
			}
		}
		c.mu.Unlock()
	}
}

// writePump forwards hub events the client is subscribed to.
func (c *wsClient) writePump(feed <-chan events.Event) {
	for {
		select {
		case <-c.done:
			return
		case e, ok := <-feed:
			if !ok {
				return
			}
			if !c.subscribed(string(e.Type)) {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteJSON(WSMessage{Topic: string(e.Type), Timestamp: e.Timestamp, Data: e.Data}); err != nil {
				return
			}
		}
	}
}

// handleEventsWS streams submission events. Clients start subscribed to
// ?topics= (comma separated), or to finished submissions only.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		WriteErrorCtx(w, r, http.StatusServiceUnavailable, errors.KindInternal, i18n.MsgInternal)
		return
	}

	topics := map[string]bool{string(events.EventMutationFinished): true}
	if q := r.URL.Query().Get("topics"); q != "" {
		topics = make(map[string]bool)
		for _, t := range strings.Split(q, ",") {
			if t = strings.TrimSpace(t); t != "" {
				topics[t] = true
			}
		}
	}

	// Subscribe before the handshake completes so no event published after
	// the client sees the upgrade is missed.
	feed := s.hub.Subscribe(wsSendBuffer)
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.hub.Unsubscribe(feed)
		s.logger.Warn("failed to upgrade websocket", "error", err)
		return
	}

	client := &wsClient{conn: conn, topics: topics, done: make(chan struct{})}
	s.logger.Debug("event feed connected", "remote", s.clientIP(r))

	go client.readPump()
	go func() {
		defer func() {
			s.hub.Unsubscribe(feed)
			conn.Close()
			s.logger.Debug("event feed closed", "remote", s.clientIP(r))
		}()
		client.writePump(feed)
	}()
}
